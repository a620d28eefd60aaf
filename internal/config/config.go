package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultTemplate = "🧠 BREAKING: {title}"

// DefaultKeywords marks a headline as a posting candidate when any of them
// appears as a whole word in its normalized text.
var DefaultKeywords = []string{
	"breaking", "latest", "alert", "exclusive",
	"india", "israel", "gaza", "pakistan", "us",
}

var DefaultFallbacks = []string{
	"🧠 Staying curious. More headlines soon.",
	"📰 Quiet news hour. Back with updates shortly.",
	"🔍 Scanning the feeds so you don't have to.",
	"⏳ No big stories right now. Stay tuned.",
	"🌍 The world keeps moving. So do we.",
}

type Config struct {
	SourcesPath string        `yaml:"sources"`
	HistoryPath string        `yaml:"history"`
	Feeds       FeedsConfig   `yaml:"feeds"`
	Filter      FilterConfig  `yaml:"filter"`
	Posting     PostingConfig `yaml:"posting"`
	Lock        LockConfig    `yaml:"lock"`
	Pushgateway string        `yaml:"pushgateway"`

	Credentials Credentials `yaml:"-"`
}

type FeedsConfig struct {
	Workers int           `yaml:"workers"`
	PerFeed int           `yaml:"per_feed"`
	Timeout time.Duration `yaml:"timeout"`
}

type FilterConfig struct {
	Keywords     []string `yaml:"keywords"`
	StopwordsDir string   `yaml:"stopwords_dir"`
}

type PostingConfig struct {
	MaxPosts    int           `yaml:"max_posts"`
	MinInterval time.Duration `yaml:"min_interval"`
	Retention   time.Duration `yaml:"retention"`
	Template    string        `yaml:"template"`
	Fallbacks   []string      `yaml:"fallbacks"`
	Timeout     time.Duration `yaml:"timeout"`
}

type LockConfig struct {
	Type     string        `yaml:"type"` // "none", "file" or "valkey"
	Path     string        `yaml:"path"`
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	Key      string        `yaml:"key"`
	TTL      time.Duration `yaml:"ttl"`
}

// Credentials for the posting account. They only ever come from the
// environment.
type Credentials struct {
	BearerToken  string
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
}

func (c Credentials) HasOAuth1() bool {
	return c.APIKey != "" && c.APISecret != "" && c.AccessToken != "" && c.AccessSecret != ""
}

func (c Credentials) Empty() bool {
	return c.BearerToken == "" && !c.HasOAuth1()
}

func CredentialsFromEnv() Credentials {
	return Credentials{
		BearerToken:  os.Getenv("BEARER_TOKEN"),
		APIKey:       os.Getenv("API_KEY"),
		APISecret:    os.Getenv("API_SECRET"),
		AccessToken:  os.Getenv("ACCESS_TOKEN"),
		AccessSecret: os.Getenv("ACCESS_SECRET"),
	}
}

func Default() *Config {
	return &Config{
		SourcesPath: "sources.txt",
		HistoryPath: "usage.json",
		Feeds: FeedsConfig{
			Workers: 3,
			PerFeed: 5,
			Timeout: 20 * time.Second,
		},
		Filter: FilterConfig{
			Keywords: append([]string(nil), DefaultKeywords...),
		},
		Posting: PostingConfig{
			MaxPosts:    1,
			MinInterval: time.Hour,
			Retention:   48 * time.Hour,
			Template:    DefaultTemplate,
			Fallbacks:   append([]string(nil), DefaultFallbacks...),
			Timeout:     15 * time.Second,
		},
		Lock: LockConfig{
			Type: "none",
			Path: "headline-bot.lock",
			Key:  "headline-bot:lock",
			TTL:  10 * time.Minute,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path, if any.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		if err := loadYaml(path, c); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if c.Filter.StopwordsDir == "" {
		c.Filter.StopwordsDir = os.Getenv("STOPWORDS_DIR")
	}
	if c.Filter.StopwordsDir == "" {
		c.Filter.StopwordsDir = os.Getenv("NLTK_DATA")
	}
	c.Credentials = CredentialsFromEnv()

	return c, nil
}

func (c *Config) Validate() error {
	if c.SourcesPath == "" {
		return fmt.Errorf("no sources file configured")
	}
	if c.HistoryPath == "" {
		return fmt.Errorf("no history file configured")
	}
	if c.Feeds.Workers < 1 {
		return fmt.Errorf("feeds.workers must be at least 1, got %d", c.Feeds.Workers)
	}
	if c.Feeds.PerFeed < 1 {
		return fmt.Errorf("feeds.per_feed must be at least 1, got %d", c.Feeds.PerFeed)
	}
	if c.Posting.MaxPosts < 0 {
		return fmt.Errorf("max posts must not be negative, got %d", c.Posting.MaxPosts)
	}
	if c.Posting.MinInterval < 0 || c.Posting.Retention < 0 {
		return fmt.Errorf("posting intervals must not be negative")
	}
	if len(c.Filter.Keywords) == 0 {
		return fmt.Errorf("no keywords configured")
	}
	if !strings.Contains(c.Posting.Template, "{title}") {
		return fmt.Errorf("posting.template must contain {title}")
	}
	switch c.Lock.Type {
	case "none", "":
	case "file":
		if c.Lock.Path == "" {
			return fmt.Errorf("lock.path is required for file locks")
		}
	case "valkey":
		if c.Lock.Address == "" {
			return fmt.Errorf("lock.address is required for valkey locks")
		}
	default:
		return fmt.Errorf("unknown lock type %q", c.Lock.Type)
	}
	return nil
}

// LoadSources reads one feed URL per line. Blank lines and lines starting
// with '#' are ignored.
func LoadSources(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sources: %w", err)
	}
	defer f.Close()

	var sources []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sources = append(sources, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sources: %w", err)
	}
	return sources, nil
}

func loadYaml(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}
