package classifier

import (
	"strings"
	"unicode"

	"conductor/internal/catalog"
)

// negationTokens flip intent when they appear just before a matched signal.
var negationTokens = map[string]bool{
	"not":     true,
	"don't":   true,
	"dont":    true,
	"won't":   true,
	"wont":    true,
	"can't":   true,
	"cant":    true,
	"never":   true,
	"avoid":   true,
	"without": true,
	"except":  true,
}

// continuationTokens signal the prompt extends a previous topic.
var continuationTokens = map[string]bool{
	"also":         true,
	"additionally": true,
	"then":         true,
	"next":         true,
	"furthermore":  true,
	"plus":         true,
}

// negationWindow is how many characters before a matched signal are scanned
// for a negation construction.
const negationWindow = 40

// isWordRune treats Unicode letters, digits, and apostrophes as word
// characters so contractions survive tokenization and non-ASCII text does not
// splinter into garbage tokens.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '’'
}

// tokenize lowercased text into word tokens.
func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !isWordRune(r)
	})
}

// document is a prompt pre-processed for repeated matching. Building the
// token set once keeps per-candidate scoring cheap and guarantees the
// word-boundary property: a keyword can only ever match a whole token.
type document struct {
	lower    string
	tokens   []string
	tokenSet map[string]bool
}

func newDocument(prompt string) *document {
	lower := strings.ToLower(prompt)
	tokens := tokenize(lower)
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		set[tok] = true
	}
	return &document{lower: lower, tokens: tokens, tokenSet: set}
}

// matchKeyword reports whether the keyword matches as a whole token. A
// multi-word keyword degrades to contiguous matching. Returns the matched
// text for signal recording.
func (d *document) matchKeyword(keyword string) (bool, string) {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return false, ""
	}
	if strings.ContainsRune(kw, ' ') {
		return d.matchPhrase(kw), kw
	}
	return d.tokenSet[kw], kw
}

// matchPhrase reports whether a multi-word phrase occurs contiguously in the
// prompt. The whole string is scanned; long prompts are never truncated.
func (d *document) matchPhrase(phrase string) bool {
	ph := strings.ToLower(strings.TrimSpace(phrase))
	if ph == "" {
		return false
	}
	return strings.Contains(d.lower, ph)
}

// negatesAny reports whether any matched signal is preceded by a negation
// construction within the scan window.
func (d *document) negatesAny(signals []Signal) bool {
	for _, sig := range signals {
		if sig.Type == SignalContext {
			continue
		}
		idx := strings.Index(d.lower, strings.ToLower(sig.Text))
		if idx < 0 {
			continue
		}
		start := idx - negationWindow
		if start < 0 {
			start = 0
		}
		window := d.lower[start:idx]
		if strings.Contains(window, "instead of") {
			return true
		}
		for _, tok := range tokenize(window) {
			if negationTokens[tok] {
				return true
			}
		}
	}
	return false
}

// hasContinuation reports whether the prompt carries a continuation keyword.
func (d *document) hasContinuation() bool {
	for _, tok := range d.tokens {
		if continuationTokens[tok] {
			return true
		}
	}
	return false
}

// historyMentions reports whether any of the candidate's keywords or phrases
// appear in the recent prompt history. Returns the first matching term.
func historyMentions(recent []string, entry catalog.Entry) (string, bool) {
	for _, past := range recent {
		pastDoc := newDocument(past)
		for _, kw := range entry.Keywords {
			if ok, text := pastDoc.matchKeyword(kw.Text); ok {
				return text, true
			}
		}
		for _, ph := range entry.Phrases {
			if pastDoc.matchPhrase(ph.Text) {
				return strings.ToLower(ph.Text), true
			}
		}
	}
	return "", false
}

// keywordLengthFactor weights longer keywords more: they carry more specific
// intent than short generic tokens. Linear in character length, capped at 1.5x.
func keywordLengthFactor(keyword string) float64 {
	n := len(strings.TrimSpace(keyword))
	if n <= 3 {
		return 1.0
	}
	f := 1.0 + 0.05*float64(n-3)
	if f > 1.5 {
		return 1.5
	}
	return f
}

// phraseWordFactor weights longer phrases more: each extra word adds 20%.
func phraseWordFactor(phrase string) float64 {
	words := len(strings.Fields(phrase))
	if words <= 1 {
		return 1.0
	}
	return 1.0 + 0.2*float64(words-1)
}
