package memorymanager

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/w-h-a/workmem/memory_manager/providers/storer"
)

func TestFormat(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	chronological := []ScoredRecord{
		{Record: storer.Record{Summary: "asked about the\nrelease", CreatedAt: now.Add(-5 * time.Hour)}},
		{Record: storer.Record{Summary: "agreed to ship friday", CreatedAt: now.Add(-10 * time.Minute), HasDecision: true, HasAction: true}},
	}
	ranked := []ScoredRecord{
		{Record: storer.Record{Summary: "budget approved", CreatedAt: now.Add(-72 * time.Hour)}},
	}

	out := Format(chronological, ranked, now)

	expected := strings.Join([]string{
		"<working-memory>",
		"Recent timeline:",
		"- [5h ago] asked about the release",
		"- [10m ago] agreed to ship friday (decision, action)",
		"",
		"Earlier and relevant:",
		"- [3d ago] budget approved",
		"</working-memory>",
	}, "\n")

	assert.Equal(t, expected, out)

	t.Run("nothing to inject", func(t *testing.T) {
		assert.Empty(t, Format(nil, nil, now))
	})

	t.Run("ranked only", func(t *testing.T) {
		out := Format(nil, ranked, now)
		assert.NotContains(t, out, "Recent timeline")
		assert.Contains(t, out, "Earlier and relevant:\n- [3d ago] budget approved\n")
	})
}

func TestAge(t *testing.T) {
	assert.Equal(t, "just now", Age(20*time.Second))
	assert.Equal(t, "just now", Age(-time.Minute))
	assert.Equal(t, "45m ago", Age(45*time.Minute))
	assert.Equal(t, "23h ago", Age(23*time.Hour+59*time.Minute))
	assert.Equal(t, "2d ago", Age(50*time.Hour))
}
