package state

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// History is the record of previously posted headlines and the time of the
// last successful post.
type History struct {
	Posted       map[string]time.Time
	LastPostTime float64 // epoch seconds
}

func NewHistory() *History {
	return &History{Posted: make(map[string]time.Time)}
}

// Has reports whether title was posted within the retention window.
func (h *History) Has(title string) bool {
	_, ok := h.Posted[title]
	return ok
}

// Record stores a posted headline and advances the last post time.
func (h *History) Record(title string, t time.Time) {
	h.Posted[title] = t
	h.Touch(t)
}

// Touch advances the last post time without recording a headline.
func (h *History) Touch(t time.Time) {
	h.LastPostTime = float64(t.UnixNano()) / float64(time.Second)
}

func (h *History) LastPost() time.Time {
	sec, frac := math.Modf(h.LastPostTime)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// SinceLastPost is the time elapsed between the last post and now.
func (h *History) SinceLastPost(now time.Time) time.Duration {
	return now.Sub(h.LastPost())
}

// Prune drops every entry that is not strictly newer than now-window and
// returns the number dropped.
func (h *History) Prune(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	dropped := 0
	for title, t := range h.Posted {
		if !t.After(cutoff) {
			delete(h.Posted, title)
			dropped++
		}
	}
	return dropped
}

func (h *History) Clone() *History {
	c := &History{
		Posted:       make(map[string]time.Time, len(h.Posted)),
		LastPostTime: h.LastPostTime,
	}
	for k, v := range h.Posted {
		c.Posted[k] = v
	}
	return c
}

// historyFile is the on-disk layout of usage.json.
type historyFile struct {
	Posted       map[string]string `json:"posted"`
	LastPostTime float64           `json:"last_post_time"`
}

// Timestamps written by older versions of the bot carry no zone offset.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339Nano {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, time.Local)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (h *History) MarshalJSON() ([]byte, error) {
	f := historyFile{
		Posted:       make(map[string]string, len(h.Posted)),
		LastPostTime: h.LastPostTime,
	}
	for title, t := range h.Posted {
		f.Posted[title] = t.Format(time.RFC3339Nano)
	}
	return json.Marshal(f)
}

// decodeHistory validates raw usage.json content. Entries whose timestamp
// cannot be parsed are returned in skipped rather than failing the record.
func decodeHistory(data []byte) (h *History, skipped []string, err error) {
	var f historyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("invalid history: %w", err)
	}
	if f.LastPostTime < 0 {
		return nil, nil, fmt.Errorf("invalid history: negative last_post_time %v", f.LastPostTime)
	}

	h = NewHistory()
	h.LastPostTime = f.LastPostTime
	for title, ts := range f.Posted {
		t, err := parseTimestamp(ts)
		if err != nil {
			skipped = append(skipped, title)
			continue
		}
		h.Posted[title] = t
	}
	return h, skipped, nil
}
