package memorymanager

import (
	"strings"
	"unicode/utf8"
)

// Summarize is the deterministic fallback used when the generator is
// unavailable. It keeps leading whole sentences up to max runes and cuts
// on a word boundary otherwise.
func Summarize(content string, max int) string {
	text := oneLine(content)
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}

	runes := []rune(text)

	if cut := lastSentenceEnd(runes[:max]); cut > max/2 {
		return strings.TrimSpace(string(runes[:cut]))
	}

	limit := max - 3
	if limit < 1 {
		return string(runes[:max])
	}

	cut := limit
	for i := limit; i > limit/2; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}

	return strings.TrimSpace(string(runes[:cut])) + "..."
}

func lastSentenceEnd(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		switch runes[i] {
		case '.', '!', '?':
			if i == len(runes)-1 || runes[i+1] == ' ' {
				return i + 1
			}
		}
	}
	return -1
}
