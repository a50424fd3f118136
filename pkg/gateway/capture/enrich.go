package capture

import "strings"

// Annotations are best-effort, locally computed turn metadata. They are a
// pure function of the text; persistence never depends on them.
type Annotations struct {
	Topic         string
	NeedsFollowUp bool
	Engagement    string
}

// Engagement levels.
const (
	EngagementLow    = "low"
	EngagementMedium = "medium"
	EngagementHigh   = "high"
)

var topicKeywords = map[string][]string{
	"pricing":     {"price", "cost", "pricing", "quote", "budget", "how much"},
	"scheduling":  {"schedule", "appointment", "book", "availability", "meeting"},
	"support":     {"help", "issue", "problem", "broken", "not working", "error"},
	"product":     {"feature", "product", "service", "offer", "plan", "demo"},
	"integration": {"integrate", "integration", "api", "connect", "webhook"},
}

var followUpPhrases = []string{
	"call me back", "follow up", "get back to me", "reach out",
	"more information", "send me", "email me",
}

// Annotate computes the side-channel enrichment for one utterance: keyword
// topic classification, follow-up detection, and a coarse engagement
// heuristic from length and punctuation density.
func Annotate(text string) Annotations {
	lower := strings.ToLower(text)

	return Annotations{
		Topic:         classifyTopic(lower),
		NeedsFollowUp: needsFollowUp(lower),
		Engagement:    engagementLevel(text),
	}
}

func classifyTopic(lower string) string {
	best := "general"
	bestHits := 0
	for topic, keywords := range topicKeywords {
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = topic, hits
		}
	}
	return best
}

func needsFollowUp(lower string) bool {
	if strings.Contains(lower, "?") {
		return true
	}
	for _, phrase := range followUpPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func engagementLevel(text string) string {
	length := len(strings.TrimSpace(text))
	if length == 0 {
		return EngagementLow
	}

	punct := 0
	for _, r := range text {
		switch r {
		case '?', '!', ',', ';', ':':
			punct++
		}
	}
	density := float64(punct) / float64(length)

	switch {
	case length > 120 || (length > 40 && density > 0.02):
		return EngagementHigh
	case length > 25:
		return EngagementMedium
	default:
		return EngagementLow
	}
}
