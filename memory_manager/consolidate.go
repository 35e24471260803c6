package memorymanager

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/w-h-a/workmem/memory_manager/providers/storer"
)

// Cluster groups records greedily in scan order. Each unprocessed record
// seeds a cluster and pulls in every later unprocessed record whose cosine
// similarity to the seed reaches threshold. Singletons are dropped.
func Cluster(records []storer.Record, threshold float64) [][]storer.Record {
	processed := make([]bool, len(records))
	clusters := [][]storer.Record{}

	for i, seed := range records {
		if processed[i] {
			continue
		}
		processed[i] = true

		cluster := []storer.Record{seed}

		for j := i + 1; j < len(records); j++ {
			if processed[j] {
				continue
			}
			if CosineSimilarity(seed.Embedding, records[j].Embedding) >= threshold {
				cluster = append(cluster, records[j])
				processed[j] = true
			}
		}

		if len(cluster) > 1 {
			clusters = append(clusters, cluster)
		}
	}

	return clusters
}

// Newest returns the most recently created member. Ties go to the
// earlier member.
func Newest(cluster []storer.Record) storer.Record {
	var newest storer.Record
	for i, rec := range cluster {
		if i == 0 || rec.CreatedAt.After(newest.CreatedAt) {
			newest = rec
		}
	}
	return newest
}

// Merge builds the replacement for a cluster. It carries the newest
// member's origin, session, reference and timestamp, the union of topics
// and the OR of the signal flags. The embedding is left for the caller.
func Merge(cluster []storer.Record, summary string) storer.Record {
	newest := Newest(cluster)

	merged := storer.Record{
		Summary:    summary,
		SessionKey: newest.SessionKey,
		Origin:     newest.Origin,
		CreatedAt:  newest.CreatedAt,
		Reference:  newest.Reference,
	}

	var topics []string
	for _, rec := range cluster {
		merged.HasAction = merged.HasAction || rec.HasAction
		merged.HasDecision = merged.HasDecision || rec.HasDecision
		topics = append(topics, rec.Topics...)
	}

	merged.Topics = storer.NormalizeTopics(topics)

	return merged
}

// MergedSummary cleans a generator reply and falls back to the newest
// member's summary when the reply is too short to stand on its own.
func MergedSummary(raw string, cluster []storer.Record, minLength int) (string, bool) {
	summary := strings.TrimSpace(raw)

	if m := newPattern.FindStringSubmatch(summary); m != nil {
		summary = m[1]
	}

	summary = oneLine(summary)

	if utf8.RuneCountInString(summary) < minLength {
		return Newest(cluster).Summary, true
	}

	return summary, false
}

func MergePrompt(cluster []storer.Record, maxSummaryLength int) string {
	var b strings.Builder

	b.WriteString("These working-memory entries describe the same thing.\n")
	b.WriteString("Write one summary that keeps every distinct fact, decision and open action")
	if maxSummaryLength > 0 {
		fmt.Fprintf(&b, " in at most %d characters", maxSummaryLength)
	}
	b.WriteString(". Reply with the summary only.\n\n")

	for _, rec := range cluster {
		fmt.Fprintf(&b, "- %s\n", oneLine(rec.Summary))
	}

	return b.String()
}
