package feed

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

var (
	metricFetchCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "headline_bot_fetch_total",
		Help: "The total number of feed fetches",
	}, []string{"feed", "status"})

	metricHeadlines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "headline_bot_headlines_total",
		Help: "The total number of headlines read from feeds",
	}, []string{"feed"})
)

// Headline is a single entry title taken from a feed.
type Headline struct {
	Title string
	Feed  string
}

type Options struct {
	Workers int           // concurrent fetches
	PerFeed int           // titles kept per feed
	Timeout time.Duration // per-feed request timeout
	Client  *http.Client
}

type Fetcher struct {
	opts   Options
	logger *slog.Logger
}

func NewFetcher(opts Options, logger *slog.Logger) *Fetcher {
	if opts.Workers < 1 {
		opts.Workers = 3
	}
	if opts.PerFeed < 1 {
		opts.PerFeed = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{opts: opts, logger: logger}
}

// FetchAll retrieves every feed with a bounded pool and returns the titles
// in source order, de-duplicated by exact text with the first occurrence
// kept. A feed that fails is logged and skipped.
func (f *Fetcher) FetchAll(ctx context.Context, feeds []string) []Headline {
	results := make([][]Headline, len(feeds))

	var g errgroup.Group
	g.SetLimit(f.opts.Workers)

	for i, feedURL := range feeds {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			headlines, err := f.FetchFeed(ctx, feedURL)
			if err != nil {
				f.logger.Warn("Failed to fetch feed", "feed", feedURL, "error", err)
				return nil
			}
			results[i] = headlines
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{})
	var all []Headline
	for _, headlines := range results {
		for _, h := range headlines {
			if _, ok := seen[h.Title]; ok {
				continue
			}
			seen[h.Title] = struct{}{}
			all = append(all, h)
		}
	}

	f.logger.Info("Fetched headlines", "feeds", len(feeds), "unique", len(all))
	return all
}

// FetchFeed returns the titles of the first PerFeed entries of one feed,
// in feed order. Entries without a title are skipped.
func (f *Fetcher) FetchFeed(ctx context.Context, feedURL string) ([]Headline, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	// gofeed parsers keep state while parsing, so each fetch gets its own.
	parser := gofeed.NewParser()
	parser.UserAgent = "headline-bot/1.0"
	if f.opts.Client != nil {
		parser.Client = f.opts.Client
	}

	feed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		metricFetchCount.WithLabelValues(feedURL, "error").Inc()
		return nil, err
	}
	metricFetchCount.WithLabelValues(feedURL, "success").Inc()

	items := feed.Items
	if len(items) > f.opts.PerFeed {
		items = items[:f.opts.PerFeed]
	}

	var headlines []Headline
	for _, item := range items {
		title := CleanTitle(item.Title)
		if title == "" {
			continue
		}
		headlines = append(headlines, Headline{Title: title, Feed: feedURL})
	}

	metricHeadlines.WithLabelValues(feedURL).Add(float64(len(headlines)))
	f.logger.Debug("Read feed", "feed", feedURL, "title", feed.Title, "headlines", len(headlines))
	return headlines, nil
}

// CleanTitle reduces a feed title to plain text: markup is dropped,
// entities are decoded and whitespace is collapsed.
func CleanTitle(raw string) string {
	text := raw
	if strings.ContainsAny(raw, "<&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
		if err == nil {
			text = doc.Text()
		}
	}
	return strings.Join(strings.Fields(text), " ")
}
