package storer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// OriginFromSessionKey derives the origin kind from the segments of a
// session key such as "agent:main:telegram:dm:42".
func OriginFromSessionKey(key string) Origin {
	segments := strings.FieldsFunc(strings.ToLower(key), func(r rune) bool {
		return r == ':' || r == '/' || r == '.'
	})

	for _, seg := range segments {
		switch seg {
		case "dm", "direct", "private":
			return OriginDirect
		case "group", "channel", "room", "thread":
			return OriginGroup
		case "cron", "scheduled", "heartbeat":
			return OriginScheduled
		case "hook", "webhook":
			return OriginWebhook
		case "isolated", "subagent", "task":
			return OriginIsolated
		}
	}

	return OriginUnknown
}

// ParseOrigin maps a persisted origin value back to a known kind.
func ParseOrigin(s string) Origin {
	switch o := Origin(strings.ToLower(strings.TrimSpace(s))); o {
	case OriginDirect, OriginGroup, OriginScheduled, OriginWebhook, OriginIsolated:
		return o
	default:
		return OriginUnknown
	}
}

// NormalizeTopics lowercases, trims, dedups and sorts topic tags.
func NormalizeTopics(topics []string) []string {
	if len(topics) == 0 {
		return nil
	}

	seen := map[string]struct{}{}
	out := make([]string, 0, len(topics))

	for _, t := range topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if len(t) == 0 {
			continue
		}
		if _, exists := seen[t]; exists {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	sort.Strings(out)

	return out
}

// CheckDimensions rejects vectors that do not match the configured length.
// A zero want accepts anything.
func CheckDimensions(want int, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if want > 0 && len(vector) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), want)
	}
	return nil
}

// Metadata is the JSON document stores persist next to the vector.
type Metadata struct {
	Topics    []string  `json:"topics,omitempty"`
	Reference Reference `json:"reference,omitzero"`
}

func EncodeMetadata(rec Record) ([]byte, error) {
	return json.Marshal(Metadata{
		Topics:    NormalizeTopics(rec.Topics),
		Reference: rec.Reference,
	})
}

func DecodeMetadata(raw []byte, rec *Record) {
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return
	}
	rec.Topics = meta.Topics
	rec.Reference = meta.Reference
}

// Stamp fills the fields Insert is responsible for.
func Stamp(rec Record, id string, now time.Time) Record {
	rec.Id = id
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.CreatedAt = rec.CreatedAt.UTC().Truncate(time.Millisecond)
	rec.Origin = ParseOrigin(string(rec.Origin))
	rec.Topics = NormalizeTopics(rec.Topics)
	rec.Score = 0

	cpy := make([]float32, len(rec.Embedding))
	copy(cpy, rec.Embedding)
	rec.Embedding = cpy

	return rec
}
