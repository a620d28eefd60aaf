// Package bot runs one pass of the headline pipeline: load history, fetch
// feeds, pick viral headlines, post them and save history.
//
// A Bot is not safe for overlapping runs against the same history file.
// Callers that cannot rule out overlap should hold a state.Locker around
// Run.
package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"headline-bot/internal/config"
	"headline-bot/internal/feed"
	"headline-bot/internal/social"
	"headline-bot/internal/state"
	"headline-bot/internal/virality"
)

var (
	metricCandidates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "headline_bot_candidates_total",
		Help: "The total number of headlines that passed the virality filter",
	})

	metricLastRun = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "headline_bot_last_run_timestamp_seconds",
		Help: "Unix time the last run finished",
	})
)

type Bot struct {
	sourcesPath string
	store       state.Store
	fetcher     *feed.Fetcher
	filter      *virality.Filter
	poster      *Poster
	out         io.Writer
	logger      *slog.Logger
	now         func() time.Time
}

func New(sourcesPath string, store state.Store, fetcher *feed.Fetcher, filter *virality.Filter, poster *Poster, out io.Writer, logger *slog.Logger) *Bot {
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		sourcesPath: sourcesPath,
		store:       store,
		fetcher:     fetcher,
		filter:      filter,
		poster:      poster,
		out:         out,
		logger:      logger,
		now:         time.Now,
	}
}

// Run executes the pipeline once. Only an unreadable sources file or a
// failed history save is returned as an error; everything else is logged
// and the run carries on.
func (b *Bot) Run(ctx context.Context) (Result, error) {
	history := b.store.Load(b.now())

	sources, err := config.LoadSources(b.sourcesPath)
	if err != nil {
		return Result{}, err
	}
	b.logger.Info("Starting run", "feeds", len(sources), "history", len(history.Posted))

	headlines := b.fetcher.FetchAll(ctx, sources)
	candidates := b.filter.Candidates(headlines, history)
	metricCandidates.Add(float64(len(candidates)))
	b.logger.Info("Selected candidates", "headlines", len(headlines), "candidates", len(candidates))

	res := b.poster.Post(ctx, candidates, history)

	if err := b.store.Save(history); err != nil {
		return res, fmt.Errorf("failed to save history: %w", err)
	}
	metricLastRun.Set(float64(b.now().Unix()))

	b.logger.Info("Run finished",
		"posted", res.Posted,
		"attempts", res.Attempts,
		"failed", res.Failed,
		"fallback", res.Fallback,
		"stop", res.Stop)
	fmt.Fprintf(b.out, "Posted %d headline(s)\n", res.Posted)
	return res, nil
}

type RunOptions struct {
	Out    io.Writer // user-facing report lines
	Logger *slog.Logger
	Rand   *rand.Rand // picks the fallback message
}

// NewFromConfig wires a Bot from cfg.
func NewFromConfig(cfg *config.Config, store state.Store, publisher social.Publisher, opts RunOptions) (*Bot, error) {
	stopwords, err := virality.LoadStopwords(cfg.Filter.StopwordsDir)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fetcher := feed.NewFetcher(feed.Options{
		Workers: cfg.Feeds.Workers,
		PerFeed: cfg.Feeds.PerFeed,
		Timeout: cfg.Feeds.Timeout,
	}, logger)
	filter := virality.NewFilter(virality.NewNormalizer(stopwords), virality.NewMatcher(cfg.Filter.Keywords), logger)
	poster := NewPoster(publisher, PosterOptions{
		MaxPosts:    cfg.Posting.MaxPosts,
		MinInterval: cfg.Posting.MinInterval,
		Template:    cfg.Posting.Template,
		Fallbacks:   cfg.Posting.Fallbacks,
	}, opts.Rand, opts.Out, logger)

	return New(cfg.SourcesPath, store, fetcher, filter, poster, opts.Out, logger), nil
}
