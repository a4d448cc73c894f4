package orchestrator

import (
	"strings"

	"conductor/internal/catalog"
	"conductor/internal/classifier"
)

// stepConnectives mark a prompt describing ordered, multi-step work.
var stepConnectives = []string{
	" then ",
	"and then",
	"after that",
	"followed by",
	"once that's done",
	"step 1",
	"step one",
}

// detectPipeline returns the ordered agent candidate ids for a multi-step
// prompt, or nil when the prompt does not describe a pipeline. A pipeline
// needs an ordering connective in the prompt and at least two distinct agent
// candidates at recommendation confidence or better; the match order (already
// confidence-ranked, id-tiebroken) is the proposed execution order.
func detectPipeline(prompt string, result *classifier.Result, cat *catalog.Catalog) []string {
	lower := strings.ToLower(prompt)

	found := false
	for _, conn := range stepConnectives {
		if strings.Contains(lower, conn) {
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	var steps []string
	for _, m := range result.Matches {
		if m.Confidence < classifier.RecommendThreshold {
			break // Matches are sorted; nothing below clears the bar.
		}
		entry, ok := cat.Get(m.CandidateID)
		if !ok || entry.Kind != catalog.KindAgent {
			continue
		}
		steps = append(steps, m.CandidateID)
	}

	if len(steps) < 2 {
		return nil
	}
	return steps
}
