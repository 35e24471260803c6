package memorymanager

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		max      int
		expected string
	}{
		{name: "short text is kept", content: "booked the venue", max: 40, expected: "booked the venue"},
		{name: "whitespace is collapsed", content: "  booked\n\tthe   venue ", max: 40, expected: "booked the venue"},
		{name: "cuts at a sentence", content: "First sentence here. Second sentence is much longer than the first one.", max: 30, expected: "First sentence here."},
		{name: "cuts at a word", content: "alpha beta gamma delta epsilon", max: 20, expected: "alpha beta gamma..."},
		{name: "no limit", content: "alpha beta", max: 0, expected: "alpha beta"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Summarize(tt.content, tt.max)
			assert.Equal(t, tt.expected, out)
			if tt.max > 0 {
				assert.LessOrEqual(t, utf8.RuneCountInString(out), tt.max)
			}
		})
	}
}
