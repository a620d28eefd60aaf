package social

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrRateLimited means the platform refused the post because the
	// account is over its rate limit. Callers should stop posting for the
	// rest of the run.
	ErrRateLimited = errors.New("rate limited")

	ErrMissingCredentials = errors.New("no platform credentials configured")
)

// RateLimitError is returned for HTTP 429 responses.
type RateLimitError struct {
	Reset time.Time // zero when the platform did not say
}

func (e *RateLimitError) Error() string {
	if e.Reset.IsZero() {
		return "rate limited"
	}
	return fmt.Sprintf("rate limited until %s", e.Reset.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// APIError is any other error response from the platform.
type APIError struct {
	Status int
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("platform responded with status %d: %s", e.Status, e.Detail)
	case e.Title != "":
		return fmt.Sprintf("platform responded with status %d: %s", e.Status, e.Title)
	}
	return fmt.Sprintf("platform responded with status %d", e.Status)
}

// problem is the error body format of the v2 API.
type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	var p problem
	if json.Unmarshal(body, &p) == nil {
		e.Title = p.Title
		e.Detail = p.Detail
	}
	return e
}

func newRateLimitError(h http.Header) *RateLimitError {
	e := &RateLimitError{}
	if reset := h.Get("x-rate-limit-reset"); reset != "" {
		if sec, err := strconv.ParseInt(reset, 10, 64); err == nil && sec > 0 {
			e.Reset = time.Unix(sec, 0)
		}
	}
	return e
}
