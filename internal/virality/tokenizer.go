package virality

import (
	"strings"
	"unicode"
)

// Runes that always stand alone as punctuation tokens.
const breakRunes = "!?;\"()[]{}<>«»“”…"

// Contraction suffixes split from the word they follow.
var clitics = []string{"'s", "'re", "'ve", "'ll", "'d", "'m"}

// Tokenize splits text into word-like units in the manner of the Penn
// Treebank tokenizer: punctuation at word edges becomes its own token,
// contractions are split ("don't" -> "do", "n't") and punctuation inside a
// word is kept ("u.s.", "covid-19"). Tokenize does not change case.
func Tokenize(text string) []string {
	text = strings.NewReplacer("’", "'", "‘", "'").Replace(text)

	var tokens []string
	for _, field := range strings.Fields(text) {
		tokens = splitField(tokens, []rune(field))
	}
	return tokens
}

func splitField(out []string, runes []rune) []string {
	start := 0
	for i, r := range runes {
		if !isBreak(runes, i) {
			continue
		}
		out = appendWord(out, runes[start:i])
		out = append(out, string(r))
		start = i + 1
	}
	return appendWord(out, runes[start:])
}

// isBreak reports whether runes[i] separates tokens. Commas and colons
// between digits ("1,000", "10:30") do not.
func isBreak(runes []rune, i int) bool {
	r := runes[i]
	if r == ',' || r == ':' {
		between := i > 0 && i < len(runes)-1 &&
			unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1])
		return !between
	}
	return strings.ContainsRune(breakRunes, r)
}

func appendWord(out []string, runes []rune) []string {
	if len(runes) == 0 {
		return out
	}

	// Leading punctuation
	for len(runes) > 0 && !isWordRune(runes[0]) {
		out = append(out, string(runes[0]))
		runes = runes[1:]
	}

	// Trailing punctuation, keeping the final period of abbreviations.
	var trailing []string
	for len(runes) > 0 && !isWordRune(runes[len(runes)-1]) {
		last := runes[len(runes)-1]
		if last == '.' && strings.ContainsRune(string(runes[:len(runes)-1]), '.') {
			break
		}
		trailing = append(trailing, string(last))
		runes = runes[:len(runes)-1]
	}

	if len(runes) > 0 {
		out = append(out, splitClitic(string(runes))...)
	}
	for i := len(trailing) - 1; i >= 0; i-- {
		out = append(out, trailing[i])
	}
	return out
}

func splitClitic(word string) []string {
	lower := strings.ToLower(word)
	if strings.HasSuffix(lower, "n't") && len(word) > 3 {
		return []string{word[:len(word)-3], word[len(word)-3:]}
	}
	for _, c := range clitics {
		if strings.HasSuffix(lower, c) && len(word) > len(c) {
			return []string{word[:len(word)-len(c)], word[len(word)-len(c):]}
		}
	}
	return []string{word}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// isAlnum reports whether s is non-empty and made only of letters and
// digits.
func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isWordRune(r) {
			return false
		}
	}
	return true
}

// Normalizer reduces a headline to the text used for keyword matching.
type Normalizer struct {
	stopwords map[string]struct{}
}

func NewNormalizer(stopwords []string) *Normalizer {
	stops := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		stops[strings.ToLower(w)] = struct{}{}
	}
	return &Normalizer{stopwords: stops}
}

// Tokens lowercases and tokenizes text, keeping only purely alphanumeric
// tokens that are not stopwords.
func (n *Normalizer) Tokens(text string) []string {
	var kept []string
	for _, tok := range Tokenize(strings.ToLower(text)) {
		if !isAlnum(tok) {
			continue
		}
		if _, stop := n.stopwords[tok]; stop {
			continue
		}
		kept = append(kept, tok)
	}
	return kept
}

// Normalize joins the surviving tokens with single spaces. It is
// idempotent.
func (n *Normalizer) Normalize(text string) string {
	return strings.Join(n.Tokens(text), " ")
}
