package memory

import (
	"strings"
)

// importanceKeywords are markers of durable conversational value:
// decisions, commitments, problems and their resolutions.
var importanceKeywords = []string{
	"decide", "decided", "decision",
	"commit", "agreed", "deadline",
	"important", "remember", "must",
	"bug", "fix", "release",
	"task", "plan", "goal",
}

// ScoreImportance is the persist-stage heuristic deciding whether a
// message earns an immediate long-term record without waiting for the
// nightly consolidation. It is a pure function of the content.
func ScoreImportance(content string, mentionsTask bool) float64 {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return 0
	}
	lower := strings.ToLower(trimmed)

	score := 0.0

	// Keyword density.
	hits := 0
	for _, kw := range importanceKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	switch {
	case hits >= 3:
		score += 0.5
	case hits == 2:
		score += 0.35
	case hits == 1:
		score += 0.2
	}

	// Explicit task mention outweighs everything else.
	if mentionsTask {
		score += 0.4
	}

	// Longer messages carry more context worth keeping.
	switch {
	case len(trimmed) >= 400:
		score += 0.3
	case len(trimmed) >= 120:
		score += 0.2
	case len(trimmed) >= 40:
		score += 0.1
	}

	if score > 1 {
		score = 1
	}
	return score
}
