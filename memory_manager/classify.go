package memorymanager

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/w-h-a/workmem/memory_manager/providers/storer"
)

type VerdictKind int

const (
	VerdictUnparsed VerdictKind = iota
	VerdictSkip
	VerdictNew
	VerdictUpdate
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictSkip:
		return "skip"
	case VerdictNew:
		return "new"
	case VerdictUpdate:
		return "update"
	default:
		return "unparsed"
	}
}

// Verdict is the parsed classifier reply. Index is 1-based and only
// meaningful for VerdictUpdate.
type Verdict struct {
	Kind  VerdictKind
	Index int
	Text  string
}

var (
	skipPattern   = regexp.MustCompile(`(?i)^\s*SKIP[\s.!]*$`)
	updatePattern = regexp.MustCompile(`(?is)^\s*UPDATE\s*\[\s*(\d+)\s*\]\s*:?\s*(.*?)\s*$`)
	newPattern    = regexp.MustCompile(`(?is)^\s*NEW\s*:\s*(.*?)\s*$`)
)

// ParseVerdict reads one of `SKIP`, `UPDATE [n]: text` or `NEW: text`.
// Anything else is VerdictUnparsed and never an error.
func ParseVerdict(raw string) Verdict {
	if skipPattern.MatchString(raw) {
		return Verdict{Kind: VerdictSkip}
	}

	if m := updatePattern.FindStringSubmatch(raw); m != nil {
		index, err := strconv.Atoi(m[1])
		if err != nil {
			index = 0
		}
		return Verdict{Kind: VerdictUpdate, Index: index, Text: m[2]}
	}

	if m := newPattern.FindStringSubmatch(raw); m != nil {
		return Verdict{Kind: VerdictNew, Text: m[1]}
	}

	return Verdict{Kind: VerdictUnparsed}
}

// Resolve turns a verdict into a decision against refs, newest first.
// Updates that point outside refs or carry too little text become new
// entries. Unparsed replies are kept whole.
func Resolve(v Verdict, raw string, refs []storer.Record, minUpdateLength int) Decision {
	switch v.Kind {
	case VerdictSkip:
		return Decision{Action: ActionSkip}
	case VerdictUpdate:
		text := strings.TrimSpace(v.Text)
		if v.Index >= 1 && v.Index <= len(refs) && utf8.RuneCountInString(text) >= minUpdateLength {
			return Decision{Action: ActionUpdate, Summary: text, TargetId: refs[v.Index-1].Id}
		}
		if len(text) == 0 {
			text = strings.TrimSpace(raw)
		}
		return Decision{Action: ActionNew, Summary: text}
	case VerdictNew:
		return Decision{Action: ActionNew, Summary: strings.TrimSpace(v.Text)}
	default:
		return Decision{Action: ActionNew, Summary: strings.TrimSpace(raw)}
	}
}

// ClassifyPrompt asks the generator to compare a turn with the most recent
// stored summaries.
func ClassifyPrompt(content string, refs []storer.Record, maxSummaryLength int) string {
	var b strings.Builder

	b.WriteString("You maintain a short working memory for an assistant.\n")
	b.WriteString("Summarize the new conversation turn in one or two sentences")
	if maxSummaryLength > 0 {
		fmt.Fprintf(&b, " (at most %d characters)", maxSummaryLength)
	}
	b.WriteString(" and compare it with the recent memories below.\n\n")

	if len(refs) == 0 {
		b.WriteString("Recent memories: none\n\n")
	} else {
		b.WriteString("Recent memories (1 is the most recent):\n")
		for i, ref := range refs {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, oneLine(ref.Summary))
		}
		b.WriteString("\n")
	}

	b.WriteString("New turn:\n")
	b.WriteString(strings.TrimSpace(content))
	b.WriteString("\n\n")

	b.WriteString("Reply with exactly one line in one of these forms:\n")
	b.WriteString("SKIP  (the turn adds nothing new)\n")
	b.WriteString("UPDATE [n]: <summary>  (the turn continues memory n; the summary replaces it)\n")
	b.WriteString("NEW: <summary>  (the turn is about something else)\n")

	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
