package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"headline-bot/internal/config"
	"headline-bot/internal/state"
)

func serveRSS(t *testing.T, titles ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>Feed</title>`)
	for i, title := range titles {
		fmt.Fprintf(&b, "<item><title>%s</title><link>https://news.example/%d</link></item>", title, i)
	}
	b.WriteString(`</channel></rss>`)
	body := b.String()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server.URL
}

type fixture struct {
	dir     string
	cfg     *config.Config
	pub     *fakePublisher
	out     bytes.Buffer
	bot     *Bot
	history string
}

func newFixture(t *testing.T, feeds ...string) *fixture {
	t.Helper()
	f := &fixture{dir: t.TempDir(), pub: &fakePublisher{}}

	f.cfg = config.Default()
	f.cfg.SourcesPath = filepath.Join(f.dir, "sources.txt")
	f.cfg.HistoryPath = filepath.Join(f.dir, "usage.json")
	f.history = f.cfg.HistoryPath

	if err := os.WriteFile(f.cfg.SourcesPath, []byte(strings.Join(feeds, "\n")+"\n\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) build(t *testing.T) {
	t.Helper()
	store := state.NewFileStore(f.cfg.HistoryPath, f.cfg.Posting.Retention, nil)
	b, err := NewFromConfig(f.cfg, store, f.pub, RunOptions{
		Out:  &f.out,
		Rand: rand.New(rand.NewPCG(7, 7)),
	})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	f.bot = b
}

func (f *fixture) readHistory(t *testing.T) (posted map[string]string, last float64) {
	t.Helper()
	data, err := os.ReadFile(f.history)
	if err != nil {
		t.Fatalf("reading history: %v", err)
	}
	var doc struct {
		Posted       map[string]string `json:"posted"`
		LastPostTime float64           `json:"last_post_time"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("history is not valid JSON: %v", err)
	}
	return doc.Posted, doc.LastPostTime
}

func TestRunEndToEnd(t *testing.T) {
	first := serveRSS(t, "Markets steady", "Breaking: Storm makes landfall", "Rain expected", "Local fair opens", "Team wins cup")
	second := serveRSS(t, "Recipe of the week", "Museum reopens", "New bridge planned", "City budget approved", "Book review")

	f := newFixture(t, first, second)
	f.build(t)

	start := time.Now()
	res, err := f.bot.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Posted != 1 {
		t.Fatalf("Posted = %d, want 1", res.Posted)
	}
	if len(f.pub.posted) != 1 || !strings.Contains(f.pub.posted[0], "Breaking: Storm makes landfall") {
		t.Errorf("published %q", f.pub.posted)
	}

	posted, last := f.readHistory(t)
	ts, ok := posted["Breaking: Storm makes landfall"]
	if !ok {
		t.Fatalf("usage.json missing the posted title: %v", posted)
	}
	if parsed, err := time.Parse(time.RFC3339Nano, ts); err != nil || parsed.Before(start.Add(-time.Second)) {
		t.Errorf("unexpected timestamp %q (%v)", ts, err)
	}
	if last < float64(start.Unix()) {
		t.Errorf("last_post_time = %v, want >= %d", last, start.Unix())
	}

	lines := strings.Split(strings.TrimSpace(f.out.String()), "\n")
	if lines[len(lines)-1] != "Posted 1 headline(s)" {
		t.Errorf("final line = %q, want %q", lines[len(lines)-1], "Posted 1 headline(s)")
	}
}

func TestRunSkipsHeadlineInHistory(t *testing.T) {
	feedURL := serveRSS(t, "Breaking: Storm makes landfall", "Latest: Rates unchanged")

	f := newFixture(t, feedURL)
	f.cfg.Posting.MinInterval = 0
	f.cfg.Posting.MaxPosts = 5

	seed := state.NewHistory()
	seed.Posted["Breaking: Storm makes landfall"] = time.Now().Add(-time.Hour)
	if err := state.NewFileStore(f.history, 48*time.Hour, nil).Save(seed); err != nil {
		t.Fatal(err)
	}
	f.build(t)

	res, err := f.bot.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Posted != 1 || len(f.pub.posted) != 1 || !strings.Contains(f.pub.posted[0], "Rates unchanged") {
		t.Errorf("expected only the new headline to be posted, got %q", f.pub.posted)
	}

	posted, _ := f.readHistory(t)
	if len(posted) != 2 {
		t.Errorf("history should hold both headlines, got %v", posted)
	}
}

func TestRunFallbackWhenNothingViral(t *testing.T) {
	feedURL := serveRSS(t, "Recipe of the week", "Museum reopens")

	f := newFixture(t, feedURL)
	f.build(t)

	res, err := f.bot.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Posted != 0 || !res.Fallback {
		t.Errorf("expected fallback only: %+v", res)
	}
	if len(f.pub.attempts) != 1 {
		t.Errorf("expected exactly one attempt, got %d", len(f.pub.attempts))
	}

	posted, last := f.readHistory(t)
	if len(posted) != 0 {
		t.Errorf("fallback must not be stored as a posted headline: %v", posted)
	}
	if last == 0 {
		t.Error("fallback should update last_post_time")
	}
	if !strings.HasSuffix(f.out.String(), "Posted 0 headline(s)\n") {
		t.Errorf("unexpected output: %q", f.out.String())
	}
}

func TestRunRespectsInterval(t *testing.T) {
	feedURL := serveRSS(t, "Breaking: Storm makes landfall")

	f := newFixture(t, feedURL)
	seed := state.NewHistory()
	seed.Touch(time.Now().Add(-30 * time.Minute))
	state.NewFileStore(f.history, 48*time.Hour, nil).Save(seed)
	f.build(t)

	res, err := f.bot.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Posted != 0 || len(f.pub.attempts) != 0 || res.Stop != StopInterval {
		t.Errorf("nothing may be posted within the interval: %+v, %d attempts", res, len(f.pub.attempts))
	}
}

func TestRunDeadFeedDoesNotAbort(t *testing.T) {
	good := serveRSS(t, "Exclusive: Interview with the minister")

	f := newFixture(t, "http://127.0.0.1:1/rss", good)
	f.build(t)

	res, err := f.bot.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Posted != 1 {
		t.Errorf("healthy feed should still be posted, got %+v", res)
	}
}

func TestRunMissingSources(t *testing.T) {
	f := newFixture(t)
	os.Remove(f.cfg.SourcesPath)
	f.build(t)

	if _, err := f.bot.Run(context.Background()); err == nil {
		t.Fatal("missing sources file must be fatal")
	}
	if len(f.pub.attempts) != 0 {
		t.Error("nothing may be posted when sources cannot be read")
	}
	if _, err := os.Stat(f.history); !os.IsNotExist(err) {
		t.Error("history should not be written when the run aborts early")
	}
}

func TestRunSaveFailureIsFatal(t *testing.T) {
	feedURL := serveRSS(t, "Museum reopens")

	f := newFixture(t, feedURL)
	f.cfg.HistoryPath = filepath.Join(f.dir, "no-such-dir", "usage.json")
	f.build(t)

	if _, err := f.bot.Run(context.Background()); err == nil {
		t.Fatal("history write failure must be returned")
	}
	if strings.Contains(f.out.String(), "headline(s)") {
		t.Error("final count should not be printed when history cannot be saved")
	}
}
