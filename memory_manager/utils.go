package memorymanager

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/w-h-a/workmem/memory_manager/providers/storer"
)

const (
	SimilarityWeight = 0.40
	RecencyWeight    = 0.30
	SessionBoost     = 0.10
	SignalBoost      = 0.10
	DirectBoost      = 0.10
)

// ScoredRecord is a record with a score that is only valid for the
// retrieval call that produced it.
type ScoredRecord struct {
	storer.Record
	Similarity float64 `json:"similarity"`
	FinalScore float64 `json:"final_score"`
}

type ScoreParams struct {
	SessionKey string
	Now        time.Time
	HalfLife   time.Duration
}

type AssembleParams struct {
	ScoreParams
	MaxEntries       int
	DedupWindow      time.Duration
	JaccardThreshold float64
}

// Score fuses similarity, recency and categorical boosts. Boosts are
// additive and the sum is not rescaled.
func Score(rec storer.Record, similarity float64, params ScoreParams) float64 {
	score := SimilarityWeight * clamp(similarity)
	score += RecencyWeight * Recency(rec.CreatedAt, params.Now, params.HalfLife)

	if len(params.SessionKey) > 0 && rec.SessionKey == params.SessionKey {
		score += SessionBoost
	}

	if rec.HasAction || rec.HasDecision {
		score += SignalBoost
	}

	if rec.Origin == storer.OriginDirect {
		score += DirectBoost
	}

	return score
}

// Recency is exp(-ln2/halfLife * hoursAgo). Timestamps in the future
// count as now.
func Recency(createdAt time.Time, now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 0
	}

	hoursAgo := now.Sub(createdAt).Hours()
	if hoursAgo < 0 {
		hoursAgo = 0
	}

	lambda := math.Ln2 / halfLife.Hours()

	return clamp(math.Exp(-lambda * hoursAgo))
}

// Assemble unions the recency and semantic lists by id, scores every
// survivor, drops near duplicates and truncates to the budget.
func Assemble(recent []storer.Record, similar []storer.Record, params AssembleParams) []ScoredRecord {
	seen := map[string]struct{}{}
	scored := make([]ScoredRecord, 0, len(recent)+len(similar))

	add := func(rec storer.Record, similarity float64) {
		if _, exists := seen[rec.Id]; exists {
			return
		}
		seen[rec.Id] = struct{}{}
		scored = append(scored, ScoredRecord{
			Record:     rec,
			Similarity: similarity,
			FinalScore: Score(rec, similarity, params.ScoreParams),
		})
	}

	for _, rec := range recent {
		add(rec, 0)
	}

	for _, rec := range similar {
		add(rec, float64(rec.Score))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].FinalScore > scored[j].FinalScore
	})

	scored = Dedup(scored, params.DedupWindow, params.JaccardThreshold)

	if params.MaxEntries >= 0 && len(scored) > params.MaxEntries {
		scored = scored[:params.MaxEntries]
	}

	return scored
}

// Dedup keeps entries in order, dropping any whose significant words
// overlap an already kept entry from within window by at least threshold.
func Dedup(scored []ScoredRecord, window time.Duration, threshold float64) []ScoredRecord {
	kept := make([]ScoredRecord, 0, len(scored))
	keptWords := make([]map[string]struct{}, 0, len(scored))

	for _, candidate := range scored {
		words := SignificantWords(candidate.Summary)
		duplicate := false

		for i, accepted := range kept {
			if absDuration(candidate.CreatedAt.Sub(accepted.CreatedAt)) > window {
				continue
			}
			if Jaccard(words, keptWords[i]) >= threshold {
				duplicate = true
				break
			}
		}

		if duplicate {
			continue
		}

		kept = append(kept, candidate)
		keptWords = append(keptWords, words)
	}

	return kept
}

// SignificantWords returns the lowercased tokens of text longer than
// three characters.
func SignificantWords(text string) map[string]struct{} {
	words := map[string]struct{}{}

	for _, token := range tokenize(text) {
		if utf8.RuneCountInString(token) > 3 {
			words[token] = struct{}{}
		}
	}

	return words
}

// Jaccard is |a∩b| / |a∪b|. Two empty sets share nothing.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}

	intersection := 0
	for w := range small {
		if _, ok := large[w]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection

	return float64(intersection) / float64(union)
}

// Split partitions scored entries into a timeline of those created within
// recentWindow of now, oldest first, and the rest by descending score.
func Split(scored []ScoredRecord, recentWindow time.Duration, now time.Time) ([]ScoredRecord, []ScoredRecord) {
	chronological := []ScoredRecord{}
	ranked := []ScoredRecord{}

	for _, rec := range scored {
		if now.Sub(rec.CreatedAt) <= recentWindow {
			chronological = append(chronological, rec)
		} else {
			ranked = append(ranked, rec)
		}
	}

	sort.SliceStable(chronological, func(i, j int) bool {
		return chronological[i].CreatedAt.Before(chronological[j].CreatedAt)
	})

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalScore > ranked[j].FinalScore
	})

	return chronological, ranked
}

func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
