package classifier

import (
	"strings"
	"unicode/utf8"
)

// metaPhrases are questions about the orchestration system itself. They read
// like strong dispatch signals but asking "which agent handles X" should never
// dispatch anything.
var metaPhrases = []string{
	"which agent",
	"what agent",
	"which agents",
	"what agents",
	"which skill",
	"what skill",
	"which skills",
	"what skills",
	"list agents",
	"list skills",
	"available agents",
	"available skills",
}

// ackWords are single-word acknowledgements that carry no dispatchable intent.
var ackWords = map[string]bool{
	"yes":    true,
	"no":     true,
	"ok":     true,
	"okay":   true,
	"yep":    true,
	"nope":   true,
	"yeah":   true,
	"sure":   true,
	"thanks": true,
	"thx":    true,
	"ty":     true,
	"cool":   true,
	"done":   true,
	"great":  true,
	"nice":   true,
	"k":      true,
}

// ShouldClassify reports whether a prompt is worth scoring at all.
// Rejected prompts must produce no side effects anywhere in the pipeline.
func (c *Classifier) ShouldClassify(prompt string) bool {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return false
	}

	lower := strings.ToLower(trimmed)

	// Single-word acknowledgements, checked before the length floor so that
	// padded variants ("thanks!!!!!!") are still filtered.
	tokens := tokenize(lower)
	if len(tokens) == 1 && ackWords[tokens[0]] {
		return false
	}

	if utf8.RuneCountInString(trimmed) < MinPromptLength {
		return false
	}

	for _, phrase := range metaPhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}

	return true
}
