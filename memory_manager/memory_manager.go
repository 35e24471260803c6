package memorymanager

import (
	"context"
	"io"

	"github.com/w-h-a/workmem/memory_manager/providers/storer"
)

type MemoryManager interface {
	Capture(ctx context.Context, turn Turn) (Decision, error)
	Recall(ctx context.Context, sessionKey string, prompt string) (Recollection, error)
	Consolidate(ctx context.Context, opts ...ConsolidateOption) (ConsolidationReport, error)
	Prune(ctx context.Context) (int, error)
	Restore(ctx context.Context, r io.Reader) (int, error)
}

// Turn is the content of one finished interaction.
type Turn struct {
	SessionKey string           `json:"session_key"`
	Content    string           `json:"content"`
	Reference  storer.Reference `json:"reference,omitzero"`
}

type Action string

const (
	ActionNew    Action = "new"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
)

// Decision is what Capture did with a turn. TargetId is set on update,
// Record holds the stored entry for new and update. Dropped means the
// decision could not be persisted.
type Decision struct {
	Action   Action        `json:"action"`
	Summary  string        `json:"summary,omitempty"`
	TargetId string        `json:"target_id,omitempty"`
	Record   storer.Record `json:"record,omitzero"`
	Fallback bool          `json:"fallback,omitempty"`
	Dropped  bool          `json:"dropped,omitempty"`
}

type Recollection struct {
	Chronological []ScoredRecord `json:"chronological"`
	Ranked        []ScoredRecord `json:"ranked"`
	Text          string         `json:"text"`
}

func (r Recollection) Empty() bool {
	return len(r.Chronological) == 0 && len(r.Ranked) == 0
}

type ConsolidationReport struct {
	DryRun   bool            `json:"dry_run"`
	Scanned  int             `json:"scanned"`
	Clusters []ClusterReport `json:"clusters"`
	Merged   int             `json:"merged"`
	Removed  int             `json:"removed"`
	Failed   int             `json:"failed"`
}

type ClusterReport struct {
	MemberIds []string `json:"member_ids"`
	Summaries []string `json:"summaries"`
	Merged    string   `json:"merged,omitempty"`
	NewId     string   `json:"new_id,omitempty"`
	Fallback  bool     `json:"fallback,omitempty"`
	Error     string   `json:"error,omitempty"`
}
