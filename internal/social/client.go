package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dghubble/oauth1"
	"golang.org/x/time/rate"

	"headline-bot/internal/config"
)

const DefaultEndpoint = "https://api.twitter.com/2/tweets"

// Publisher posts a text message to the account and returns the new
// post's ID.
type Publisher interface {
	Publish(ctx context.Context, text string) (string, error)
}

type createPostRequest struct {
	Text string `json:"text"`
}

type createPostResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// XClient posts through the X API v2. Each post is a single attempt.
type XClient struct {
	client   *http.Client
	endpoint string
	bearer   string
	limiter  *rate.Limiter
}

type Option func(*XClient)

func WithEndpoint(url string) Option {
	return func(c *XClient) { c.endpoint = url }
}

func WithTimeout(d time.Duration) Option {
	return func(c *XClient) { c.client.Timeout = d }
}

// WithLimiter replaces the limiter that spaces requests apart.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *XClient) { c.limiter = l }
}

// NewXClient signs requests with OAuth 1.0a when the full consumer and
// access key set is present, and otherwise sends BearerToken as an OAuth 2.0
// user token.
func NewXClient(creds config.Credentials, opts ...Option) (*XClient, error) {
	if creds.Empty() {
		return nil, ErrMissingCredentials
	}

	c := &XClient{
		endpoint: DefaultEndpoint,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
	if creds.HasOAuth1() {
		cfg := oauth1.NewConfig(creds.APIKey, creds.APISecret)
		c.client = cfg.Client(context.Background(), oauth1.NewToken(creds.AccessToken, creds.AccessSecret))
	} else {
		c.client = &http.Client{}
		c.bearer = creds.BearerToken
	}
	c.client.Timeout = 15 * time.Second

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *XClient) Publish(ctx context.Context, text string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	body, err := json.Marshal(createPostRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal post: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "headline-bot/1.0")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send post: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", newRateLimitError(resp.Header)
	}
	if resp.StatusCode >= 400 {
		return "", newAPIError(resp.StatusCode, data)
	}

	var out createPostResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Data.ID, nil
}

// DryRun logs posts instead of publishing them.
type DryRun struct {
	logger *slog.Logger
	count  int
}

func NewDryRun(logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{logger: logger}
}

func (d *DryRun) Publish(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.count++
	id := fmt.Sprintf("dry-run-%d", d.count)
	d.logger.Info("Dry run, not publishing", "id", id, "text", text)
	return id, nil
}
