package virality

import (
	"log/slog"
	"strings"

	"headline-bot/internal/feed"
)

// Matcher finds virality keywords in normalized text. A keyword matches
// only as whole words: "us" matches "us markets" but not "busy markets".
type Matcher struct {
	keywords []keyword
}

type keyword struct {
	term   string
	tokens []string
}

func NewMatcher(terms []string) *Matcher {
	m := &Matcher{}
	for _, term := range terms {
		var tokens []string
		for _, tok := range Tokenize(strings.ToLower(term)) {
			if isAlnum(tok) {
				tokens = append(tokens, tok)
			}
		}
		if len(tokens) == 0 {
			continue
		}
		m.keywords = append(m.keywords, keyword{term: term, tokens: tokens})
	}
	return m
}

// Matches returns the keywords found in normalized, in keyword order.
func (m *Matcher) Matches(normalized string) []string {
	words := strings.Fields(normalized)
	var found []string
	for _, kw := range m.keywords {
		if containsRun(words, kw.tokens) {
			found = append(found, kw.term)
		}
	}
	return found
}

func (m *Matcher) Match(normalized string) bool {
	words := strings.Fields(normalized)
	for _, kw := range m.keywords {
		if containsRun(words, kw.tokens) {
			return true
		}
	}
	return false
}

// containsRun reports whether run appears contiguously in words.
func containsRun(words, run []string) bool {
	for i := 0; i+len(run) <= len(words); i++ {
		match := true
		for j := range run {
			if words[i+j] != run[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Seen is the set of headlines posted recently.
type Seen interface {
	Has(title string) bool
}

type Filter struct {
	normalizer *Normalizer
	matcher    *Matcher
	logger     *slog.Logger
}

func NewFilter(normalizer *Normalizer, matcher *Matcher, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{normalizer: normalizer, matcher: matcher, logger: logger}
}

// IsViral reports whether any keyword appears in the normalized title.
func (f *Filter) IsViral(title string) bool {
	return f.matcher.Match(f.normalizer.Normalize(title))
}

// Candidates keeps the viral headlines that are not in seen, preserving
// order.
func (f *Filter) Candidates(headlines []feed.Headline, seen Seen) []feed.Headline {
	var out []feed.Headline
	for _, h := range headlines {
		if seen != nil && seen.Has(h.Title) {
			f.logger.Debug("Skipping posted headline", "title", h.Title)
			continue
		}
		matched := f.matcher.Matches(f.normalizer.Normalize(h.Title))
		if len(matched) == 0 {
			continue
		}
		f.logger.Debug("Candidate headline", "title", h.Title, "keywords", matched)
		out = append(out, h)
	}
	return out
}
