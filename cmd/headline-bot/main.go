package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"
	"github.com/peterbourgon/ff/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"gopkg.in/natefinch/lumberjack.v2"

	"headline-bot/internal/bot"
	"headline-bot/internal/config"
	"headline-bot/internal/social"
	"headline-bot/internal/state"
)

type options struct {
	configPath  string
	sources     string
	history     string
	maxPosts    int
	dryRun      bool
	logLevel    string
	logFile     string
	pushgateway string
	lockType    string
}

func parseFlags(args []string) (*options, map[string]bool, error) {
	o := &options{}
	flags := flag.NewFlagSet("headline-bot", flag.ContinueOnError)
	flags.StringVar(&o.configPath, "config", "", "Path to YAML configuration file")
	flags.StringVar(&o.sources, "sources", "sources.txt", "Path to feed list, one URL per line")
	flags.StringVar(&o.history, "history", "usage.json", "Path to posting history file")
	flags.IntVar(&o.maxPosts, "max-posts", 1, "Maximum headlines to post in this run")
	flags.BoolVar(&o.dryRun, "dry-run", false, "Print posts instead of publishing and leave history untouched")
	flags.StringVar(&o.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&o.logFile, "log-file", "", "Also write logs to this file, rotated")
	flags.StringVar(&o.pushgateway, "pushgateway", "", "Prometheus Pushgateway URL")
	flags.StringVar(&o.lockType, "lock", "", "Run lock (none, file, valkey)")

	if err := ff.Parse(flags, args, ff.WithEnvVarPrefix("HEADLINE_BOT")); err != nil {
		return nil, nil, err
	}

	set := make(map[string]bool)
	flags.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return o, set, nil
}

// apply overrides cfg with every flag that was given explicitly.
func (o *options) apply(cfg *config.Config, set map[string]bool) {
	if set["sources"] {
		cfg.SourcesPath = o.sources
	}
	if set["history"] {
		cfg.HistoryPath = o.history
	}
	if set["max-posts"] {
		cfg.Posting.MaxPosts = o.maxPosts
	}
	if set["pushgateway"] {
		cfg.Pushgateway = o.pushgateway
	}
	if set["lock"] {
		cfg.Lock.Type = o.lockType
	}
}

func newLogger(level, file string) (*slog.Logger, io.Closer, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
		w = io.MultiWriter(os.Stderr, lj)
		closer = lj
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), closer, nil
}

func newLocker(cfg config.LockConfig, owner string, logger *slog.Logger) (state.Locker, error) {
	switch cfg.Type {
	case "file":
		logger.Info("Using file lock", "path", cfg.Path)
		return state.NewFileLock(cfg.Path, owner, cfg.TTL), nil
	case "valkey":
		logger.Info("Using Valkey lock", "address", cfg.Address)
		l, err := state.NewValkeyLock(cfg.Address, cfg.Password, cfg.Key, owner, cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Valkey lock: %w", err)
		}
		return l, nil
	default:
		return state.NopLock{}, nil
	}
}

func pushMetrics(url, runID string, logger *slog.Logger) {
	if url == "" {
		return
	}
	err := push.New(url, "headline_bot").
		Grouping("instance", "headline-bot").
		Gatherer(prometheus.DefaultGatherer).
		Push()
	if err != nil {
		logger.Warn("Failed to push metrics", "url", url, "error", err)
		return
	}
	logger.Debug("Pushed metrics", "url", url, "run_id", runID)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	opts, set, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	// Setup Logger
	logger, closer, err := newLogger(opts.logLevel, opts.logFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer closer.Close()

	runID := ulid.MustNew(ulid.Now(), ulid.Monotonic(rand.Reader, 0)).String()
	logger = logger.With("run_id", runID)
	slog.SetDefault(logger)

	// Load Config
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		return 1
	}
	opts.apply(cfg, set)
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid config", "error", err)
		return 1
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Init Lock
	locker, err := newLocker(cfg.Lock, runID, logger)
	if err != nil {
		logger.Error("Failed to initialize lock", "error", err)
		return 1
	}
	if c, ok := locker.(io.Closer); ok {
		defer c.Close()
	}
	if err := locker.Acquire(ctx); err != nil {
		if errors.Is(err, state.ErrLocked) {
			logger.Warn("Another run is in progress, skipping")
			fmt.Fprintln(stdout, "Posted 0 headline(s)")
			return 0
		}
		logger.Error("Failed to acquire lock", "error", err)
		return 1
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := locker.Release(releaseCtx); err != nil {
			logger.Warn("Failed to release lock", "error", err)
		}
	}()

	// Init Store and Publisher
	fileStore := state.NewFileStore(cfg.HistoryPath, cfg.Posting.Retention, logger)
	var store state.Store = fileStore
	var publisher social.Publisher
	if opts.dryRun {
		logger.Info("Dry run, nothing will be published")
		store = state.NewMemoryStore(fileStore.Load(time.Now()), cfg.Posting.Retention)
		publisher = social.NewDryRun(logger)
	} else {
		client, err := social.NewXClient(cfg.Credentials, social.WithTimeout(cfg.Posting.Timeout))
		if err != nil {
			logger.Error("Failed to initialize client", "error", err)
			return 1
		}
		publisher = client
	}

	b, err := bot.NewFromConfig(cfg, store, publisher, bot.RunOptions{Out: stdout, Logger: logger})
	if err != nil {
		logger.Error("Failed to initialize bot", "error", err)
		return 1
	}

	_, err = b.Run(ctx)
	pushMetrics(cfg.Pushgateway, runID, logger)
	if err != nil {
		logger.Error("Run failed", "error", err)
		return 1
	}
	return 0
}
