package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"headline-bot/internal/feed"
	"headline-bot/internal/social"
	"headline-bot/internal/state"
)

var metricPosts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "headline_bot_posts_total",
	Help: "The total number of post attempts",
}, []string{"kind", "status"})

// StopReason says why the posting loop ended.
type StopReason string

const (
	StopExhausted   StopReason = "exhausted"    // every candidate was tried
	StopCap         StopReason = "cap"          // max posts reached
	StopInterval    StopReason = "interval"     // too soon after the last post
	StopRateLimited StopReason = "rate_limited" // platform refused with a rate limit
	StopCancelled   StopReason = "cancelled"
)

type Result struct {
	Posted   int // headline posts; the fallback is never counted
	Attempts int
	Failed   int
	Fallback bool // a fallback message was published
	Stop     StopReason
}

type PosterOptions struct {
	MaxPosts    int
	MinInterval time.Duration
	Template    string // must contain {title}
	Fallbacks   []string
}

// Poster publishes candidates one at a time, honoring the minimum interval
// between posts and the per-run cap.
type Poster struct {
	publisher social.Publisher
	opts      PosterOptions
	rng       *rand.Rand
	now       func() time.Time
	out       io.Writer
	logger    *slog.Logger
}

func NewPoster(publisher social.Publisher, opts PosterOptions, rng *rand.Rand, out io.Writer, logger *slog.Logger) *Poster {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poster{
		publisher: publisher,
		opts:      opts,
		rng:       rng,
		now:       time.Now,
		out:       out,
		logger:    logger,
	}
}

func (p *Poster) Format(title string) string {
	return strings.ReplaceAll(p.opts.Template, "{title}", title)
}

// Post walks the candidates in order and records every successful post in
// h. When no headline was posted and nothing forbids posting, one fallback
// message is tried instead.
func (p *Poster) Post(ctx context.Context, candidates []feed.Headline, h *state.History) Result {
	res := Result{Stop: StopExhausted}

	if p.opts.MaxPosts <= 0 {
		res.Stop = StopCap
		return res
	}

loop:
	for _, c := range candidates {
		if ctx.Err() != nil {
			res.Stop = StopCancelled
			break
		}
		if since := h.SinceLastPost(p.now()); p.tooSoon(since) {
			p.logger.Info("Too soon since last post", "since", since.Round(time.Second), "min_interval", p.opts.MinInterval)
			res.Stop = StopInterval
			break
		}

		res.Attempts++
		id, err := p.publisher.Publish(ctx, p.Format(c.Title))
		switch {
		case err == nil:
			h.Record(c.Title, p.now())
			res.Posted++
			metricPosts.WithLabelValues("headline", "success").Inc()
			fmt.Fprintf(p.out, "Posted: %s\n", c.Title)
			p.logger.Info("Posted headline", "id", id, "title", c.Title, "feed", c.Feed)
			if res.Posted >= p.opts.MaxPosts {
				res.Stop = StopCap
				break loop
			}
		case errors.Is(err, social.ErrRateLimited):
			metricPosts.WithLabelValues("headline", "rate_limited").Inc()
			fmt.Fprintln(p.out, "Rate limit hit, stopping for this run")
			p.logger.Warn("Rate limited", "title", c.Title, "error", err)
			res.Stop = StopRateLimited
			break loop
		default:
			res.Failed++
			metricPosts.WithLabelValues("headline", "error").Inc()
			fmt.Fprintf(p.out, "Tweet failed: %v\n", err)
			p.logger.Error("Failed to post headline", "title", c.Title, "error", err)
		}
	}

	if res.Posted == 0 && res.Stop == StopExhausted {
		res.Fallback = p.postFallback(ctx, h)
	}
	return res
}

func (p *Poster) tooSoon(since time.Duration) bool {
	return p.opts.MinInterval > 0 && since < p.opts.MinInterval
}

// postFallback publishes one random filler message. Failure is logged and
// otherwise ignored. A published fallback moves the last post time but is
// not recorded as a headline.
func (p *Poster) postFallback(ctx context.Context, h *state.History) bool {
	if len(p.opts.Fallbacks) == 0 {
		return false
	}
	if p.tooSoon(h.SinceLastPost(p.now())) {
		return false
	}

	msg := p.opts.Fallbacks[p.rng.IntN(len(p.opts.Fallbacks))]
	id, err := p.publisher.Publish(ctx, msg)
	if err != nil {
		status := "error"
		if errors.Is(err, social.ErrRateLimited) {
			status = "rate_limited"
		}
		metricPosts.WithLabelValues("fallback", status).Inc()
		fmt.Fprintf(p.out, "Fallback failed: %v\n", err)
		p.logger.Error("Failed to post fallback", "error", err)
		return false
	}

	h.Touch(p.now())
	metricPosts.WithLabelValues("fallback", "success").Inc()
	fmt.Fprintf(p.out, "Fallback posted: %s\n", msg)
	p.logger.Info("Posted fallback", "id", id)
	return true
}
