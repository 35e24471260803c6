package storer

import "time"

type Origin string

const (
	OriginDirect    Origin = "direct"
	OriginGroup     Origin = "group"
	OriginScheduled Origin = "scheduled"
	OriginWebhook   Origin = "webhook"
	OriginIsolated  Origin = "isolated"
	OriginUnknown   Origin = "unknown"
)

// Record is one stored memory entry. Records are never mutated in
// place: an update is a delete followed by an insert.
type Record struct {
	Id          string    `json:"id"`
	Summary     string    `json:"summary"`
	Embedding   []float32 `json:"embedding"`
	SessionKey  string    `json:"session_key"`
	Origin      Origin    `json:"origin"`
	CreatedAt   time.Time `json:"created_at"`
	HasAction   bool      `json:"has_action,omitempty"`
	HasDecision bool      `json:"has_decision,omitempty"`
	Topics      []string  `json:"topics,omitempty"`
	Reference   Reference `json:"reference,omitzero"`
	Score       float32   `json:"-"`
}

// Reference points back at the raw conversation a record was distilled from.
type Reference struct {
	SourcePath     string `json:"source_path,omitempty"`
	FirstMessageId string `json:"first_message_id,omitempty"`
	LastMessageId  string `json:"last_message_id,omitempty"`
}
