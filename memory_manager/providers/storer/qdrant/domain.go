package qdrant

import (
	"encoding/json"
	"strings"
)

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Result T            `json:"result"`
}

type qdrantStatus struct {
	State string `json:"status"`
	Error string `json:"error,omitempty"`
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}

	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantCollectionRequest struct {
	Vectors qdrantVectorParams `json:"vectors"`
}

type qdrantVectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type qdrantIndexRequest struct {
	FieldName   string `json:"field_name"`
	FieldSchema string `json:"field_schema"`
}

// qdrantPayload is the stored form of a record; the vector travels beside it.
type qdrantPayload struct {
	Summary     string          `json:"summary"`
	SessionKey  string          `json:"session_key"`
	Origin      string          `json:"origin"`
	CreatedAt   int64           `json:"created_at"`
	HasAction   bool            `json:"has_action"`
	HasDecision bool            `json:"has_decision"`
	Topics      []string        `json:"topics"`
	Reference   qdrantReference `json:"reference"`
}

type qdrantReference struct {
	SourcePath     string `json:"source_path"`
	FirstMessageId string `json:"first_message_id"`
	LastMessageId  string `json:"last_message_id"`
}

type qdrantPoint struct {
	Id      string        `json:"id"`
	Vector  []float32     `json:"vector"`
	Payload qdrantPayload `json:"payload"`
}

type qdrantUpsertRequest struct {
	Points []qdrantPoint `json:"points"`
}

type qdrantDeleteRequest struct {
	Points []string `json:"points"`
}

type qdrantSearchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithVector  bool      `json:"with_vector"`
	WithPayload bool      `json:"with_payload"`
}

type qdrantScrollRequest struct {
	Limit       int           `json:"limit"`
	Filter      *qdrantFilter `json:"filter,omitempty"`
	Offset      any           `json:"offset,omitempty"`
	WithVector  bool          `json:"with_vector"`
	WithPayload bool          `json:"with_payload"`
}

type qdrantFilter struct {
	Must []qdrantCondition `json:"must"`
}

type qdrantCondition struct {
	Key   string      `json:"key"`
	Range qdrantRange `json:"range"`
}

type qdrantRange struct {
	Gte int64 `json:"gte"`
}

type qdrantPointResult struct {
	Id      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float32      `json:"vector"`
}

type qdrantScrollResult struct {
	Points         []qdrantPointResult `json:"points"`
	NextPageOffset any                 `json:"next_page_offset"`
}
