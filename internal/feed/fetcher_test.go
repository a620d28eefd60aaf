package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func rssDoc(titles ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Test</title>`)
	for i, title := range titles {
		fmt.Fprintf(&b, "<item><title>%s</title><link>https://example.com/%d</link></item>", title, i)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

func serveFeed(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetchFeedLimitsTitles(t *testing.T) {
	server := serveFeed(t, rssDoc("one", "two", "three", "four", "five", "six", "seven"))

	f := NewFetcher(Options{PerFeed: 5}, nil)
	headlines, err := f.FetchFeed(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("FetchFeed: %v", err)
	}

	want := []string{"one", "two", "three", "four", "five"}
	if len(headlines) != len(want) {
		t.Fatalf("got %d headlines, want %d", len(headlines), len(want))
	}
	for i, h := range headlines {
		if h.Title != want[i] {
			t.Errorf("headlines[%d] = %q, want %q", i, h.Title, want[i])
		}
		if h.Feed != server.URL {
			t.Errorf("headlines[%d].Feed = %q, want %q", i, h.Feed, server.URL)
		}
	}
}

func TestFetchAllOrderAndDedup(t *testing.T) {
	first := serveFeed(t, rssDoc("Alpha", "Shared story", "Beta"))
	second := serveFeed(t, rssDoc("Shared story", "Gamma"))

	f := NewFetcher(Options{}, nil)
	headlines := f.FetchAll(context.Background(), []string{first.URL, second.URL})

	want := []string{"Alpha", "Shared story", "Beta", "Gamma"}
	if len(headlines) != len(want) {
		t.Fatalf("got %v, want %v", headlines, want)
	}
	for i, h := range headlines {
		if h.Title != want[i] {
			t.Errorf("headlines[%d] = %q, want %q", i, h.Title, want[i])
		}
	}
	if headlines[1].Feed != first.URL {
		t.Error("duplicate title should keep its first occurrence")
	}
}

func TestFetchAllSkipsFailingFeed(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer broken.Close()
	garbage := serveFeed(t, "this is not a feed")
	good := serveFeed(t, rssDoc("Still here"))

	f := NewFetcher(Options{}, nil)
	headlines := f.FetchAll(context.Background(), []string{broken.URL, garbage.URL, good.URL})

	if len(headlines) != 1 || headlines[0].Title != "Still here" {
		t.Errorf("expected only the healthy feed's headline, got %v", headlines)
	}
}

func TestFetchFeedTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	f := NewFetcher(Options{Timeout: 50 * time.Millisecond}, nil)
	start := time.Now()
	if _, err := f.FetchFeed(context.Background(), slow.URL); err == nil {
		t.Error("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("fetch should give up after its timeout, took %v", elapsed)
	}
}

func TestFetchAllBoundedConcurrency(t *testing.T) {
	var inFlight, peak int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		fmt.Fprint(w, rssDoc("story "+r.URL.Path))
	}))
	defer server.Close()

	var feeds []string
	for i := 0; i < 9; i++ {
		feeds = append(feeds, fmt.Sprintf("%s/%d", server.URL, i))
	}

	f := NewFetcher(Options{Workers: 3}, nil)
	headlines := f.FetchAll(context.Background(), feeds)

	if len(headlines) != 9 {
		t.Errorf("got %d headlines, want 9", len(headlines))
	}
	if peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
	for i, h := range headlines {
		if want := fmt.Sprintf("story /%d", i); h.Title != want {
			t.Errorf("headlines[%d] = %q, want %q", i, h.Title, want)
		}
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Plain title", "Plain title"},
		{"  spaced \n  out\ttitle ", "spaced out title"},
		{"AT&amp;T strikes deal", "AT&T strikes deal"},
		{"<b>Bold</b> move", "Bold move"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := CleanTitle(tt.in); got != tt.want {
			t.Errorf("CleanTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
