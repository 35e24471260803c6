package memorymanager

import (
	"fmt"
	"strings"
	"time"
)

// Format renders a recollection for injection ahead of the next turn.
// It returns an empty string when there is nothing to inject.
func Format(chronological []ScoredRecord, ranked []ScoredRecord, now time.Time) string {
	if len(chronological) == 0 && len(ranked) == 0 {
		return ""
	}

	var b strings.Builder

	b.WriteString("<working-memory>\n")

	if len(chronological) > 0 {
		b.WriteString("Recent timeline:\n")
		for _, rec := range chronological {
			writeLine(&b, rec, now)
		}
	}

	if len(ranked) > 0 {
		if len(chronological) > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Earlier and relevant:\n")
		for _, rec := range ranked {
			writeLine(&b, rec, now)
		}
	}

	b.WriteString("</working-memory>")

	return b.String()
}

func writeLine(b *strings.Builder, rec ScoredRecord, now time.Time) {
	fmt.Fprintf(b, "- [%s] %s", Age(now.Sub(rec.CreatedAt)), oneLine(rec.Summary))

	var tags []string
	if rec.HasDecision {
		tags = append(tags, "decision")
	}
	if rec.HasAction {
		tags = append(tags, "action")
	}
	if len(tags) > 0 {
		fmt.Fprintf(b, " (%s)", strings.Join(tags, ", "))
	}

	b.WriteString("\n")
}

// Age renders a duration the way a person would say it.
func Age(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}
