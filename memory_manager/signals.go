package memorymanager

import (
	"sort"
	"strings"
)

// Signals are the capture-time flags stored with an entry.
type Signals struct {
	HasAction   bool
	HasDecision bool
	Topics      []string
}

var (
	actionPhrases = []string{
		"todo", "to do", "to-do", "need to", "needs to", "must ", "should ",
		"follow up", "follow-up", "remind", "deadline", "action item",
		"next step", "i will", "i'll", "we will", "we'll", "due ",
	}

	decisionPhrases = []string{
		"decided", "decision", "agreed", "we chose", "i chose", "going with",
		"go with", "settled on", "approved", "confirmed", "opted for",
	}

	topicWords = map[string]string{
		"code":        "engineering",
		"bug":         "engineering",
		"deploy":      "engineering",
		"release":     "engineering",
		"build":       "engineering",
		"test":        "engineering",
		"api":         "engineering",
		"meeting":     "schedule",
		"calendar":    "schedule",
		"schedule":    "schedule",
		"tomorrow":    "schedule",
		"appointment": "schedule",
		"email":       "communication",
		"message":     "communication",
		"reply":       "communication",
		"call":        "communication",
		"invoice":     "finance",
		"payment":     "finance",
		"budget":      "finance",
		"price":       "finance",
		"flight":      "travel",
		"hotel":       "travel",
		"trip":        "travel",
		"travel":      "travel",
		"doctor":      "health",
		"health":      "health",
		"workout":     "health",
		"family":      "personal",
		"birthday":    "personal",
		"home":        "personal",
	}
)

// DetectSignals scans text for action items, decisions and coarse topics.
func DetectSignals(text string) Signals {
	lower := " " + strings.ToLower(oneLine(text)) + " "

	signals := Signals{
		HasAction:   containsAny(lower, actionPhrases),
		HasDecision: containsAny(lower, decisionPhrases),
	}

	seen := map[string]struct{}{}
	for _, token := range tokenize(text) {
		token = strings.TrimSuffix(token, "s")
		if topic, ok := topicWords[token]; ok {
			if _, exists := seen[topic]; !exists {
				seen[topic] = struct{}{}
				signals.Topics = append(signals.Topics, topic)
			}
		}
	}

	sort.Strings(signals.Topics)

	return signals
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
