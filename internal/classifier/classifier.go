// Package classifier scores a free-text prompt against the candidate catalog
// and produces ranked matches with normalized confidence. Scoring is
// deterministic keyword/phrase matching - no model inference - so identical
// inputs always produce identical output ordering.
package classifier

import (
	"math"
	"sort"
	"sync/atomic"
	"time"

	"conductor/internal/catalog"
	"conductor/internal/logging"
)

// Confidence thresholds consumed by the dispatch decision layer.
const (
	// AutoDispatchThreshold gates automatic dispatch without confirmation.
	AutoDispatchThreshold = 85
	// SkillInjectThreshold gates automatic skill injection.
	SkillInjectThreshold = 80
	// RecommendThreshold gates a surfaced suggestion without auto-action.
	RecommendThreshold = 70
	// ConfidenceFloor drops matches below this from results entirely.
	ConfidenceFloor = 20
)

// Scoring constants.
const (
	// NegationPenalty is subtracted once from a candidate's raw score when a
	// negation construction appears near one of its matched signals.
	NegationPenalty = 25.0

	// ContextBonus is added when the prompt continues a topic from recent
	// history (continuation keyword + candidate term in the last few prompts).
	ContextBonus = 15.0

	// ContextWindow is how many trailing history entries count as "recent".
	ContextWindow = 3

	// MinPromptLength is the minimum prompt length (in runes) worth classifying.
	MinPromptLength = 10
)

// SignalType identifies what kind of evidence produced a signal.
type SignalType string

const (
	SignalKeyword SignalType = "keyword"
	SignalPhrase  SignalType = "phrase"
	SignalContext SignalType = "context"
)

// Signal records one piece of matched evidence for a candidate.
type Signal struct {
	Type SignalType `json:"type"`
	Text string     `json:"text"`
}

// Match is one candidate's score against a prompt.
type Match struct {
	CandidateID string   `json:"candidate_id"`
	RawScore    float64  `json:"raw_score"`
	Confidence  int      `json:"confidence"`
	Signals     []Signal `json:"signals"`
}

// Result is the ordered outcome of one classification call.
type Result struct {
	Matches   []Match   `json:"matches"`
	Prompt    string    `json:"prompt"`
	Timestamp time.Time `json:"timestamp"`
}

// Top returns the highest-confidence match, or a zero Match if empty.
func (r *Result) Top() (Match, bool) {
	if r == nil || len(r.Matches) == 0 {
		return Match{}, false
	}
	return r.Matches[0], true
}

// Classifier scores prompts against an immutable catalog snapshot. The
// snapshot is held behind an atomic pointer so hot reload can swap it from
// the watcher goroutine while a classification is in flight; each Classify
// call reads the pointer once and scores against that snapshot throughout.
type Classifier struct {
	catalog atomic.Pointer[catalog.Catalog]
}

// New creates a classifier over the given catalog snapshot.
func New(cat *catalog.Catalog) *Classifier {
	c := &Classifier{}
	c.catalog.Store(cat)
	return c
}

// SetCatalog swaps the catalog snapshot (used by hot reload).
func (c *Classifier) SetCatalog(cat *catalog.Catalog) {
	c.catalog.Store(cat)
}

// Classify scores the prompt against every catalog entry and returns ranked
// matches. history is most-recent-last. adjustments maps candidate id to a
// calibration delta (already clamped by the calibration engine); it may be nil.
// Returns nil when the prompt is filtered out by ShouldClassify.
func (c *Classifier) Classify(prompt string, history []string, adjustments map[string]float64) *Result {
	if !c.ShouldClassify(prompt) {
		return nil
	}

	doc := newDocument(prompt)
	recent := recentHistory(history, ContextWindow)
	cat := c.catalog.Load()

	matches := make([]Match, 0, cat.Len())
	for _, entry := range cat.Entries() {
		m := c.scoreEntry(doc, recent, entry)

		if adj, ok := adjustments[entry.ID]; ok && len(m.Signals) > 0 {
			m.RawScore += adj
		}

		m.Confidence = normalizeConfidence(m.RawScore)
		if m.Confidence < ConfidenceFloor {
			continue
		}
		matches = append(matches, m)
	}

	// Descending confidence; candidate id breaks ties for determinism.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].CandidateID < matches[j].CandidateID
	})

	logging.ClassifierDebug("Classified prompt (%d chars): %d matches", len(prompt), len(matches))

	return &Result{
		Matches:   matches,
		Prompt:    prompt,
		Timestamp: time.Now(),
	}
}

// scoreEntry computes the raw score and signals for one candidate.
func (c *Classifier) scoreEntry(doc *document, recent []string, entry catalog.Entry) Match {
	m := Match{CandidateID: entry.ID}

	for _, kw := range entry.Keywords {
		if matched, text := doc.matchKeyword(kw.Text); matched {
			m.RawScore += kw.Weight * keywordLengthFactor(kw.Text)
			m.Signals = append(m.Signals, Signal{Type: SignalKeyword, Text: text})
		}
	}

	for _, ph := range entry.Phrases {
		if doc.matchPhrase(ph.Text) {
			m.RawScore += ph.Weight * phraseWordFactor(ph.Text)
			m.Signals = append(m.Signals, Signal{Type: SignalPhrase, Text: ph.Text})
		}
	}

	if len(m.Signals) > 0 && doc.negatesAny(m.Signals) {
		m.RawScore -= NegationPenalty
	}

	if doc.hasContinuation() {
		if text, ok := historyMentions(recent, entry); ok {
			m.RawScore += ContextBonus
			m.Signals = append(m.Signals, Signal{Type: SignalContext, Text: text})
		}
	}

	return m
}

// normalizeConfidence maps a raw score to 0-100.
//
// The mapping is the identity clamped to [0, 100]: monotonic, saturating, and
// trivially deterministic. Catalog weights are tuned against this scale.
func normalizeConfidence(raw float64) int {
	n := int(math.Round(raw))
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// recentHistory returns the last n entries of history (most-recent-last).
func recentHistory(history []string, n int) []string {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
