package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/google/uuid"
	memorymanager "github.com/w-h-a/workmem/memory_manager"
	"github.com/w-h-a/workmem/memory_manager/providers/storer"
)

const (
	// below this many live records search is exact
	exactSearchLimit = 128

	// graph fan-out and search candidate list size
	graphM        = 32
	graphEfSearch = 200

	// ann candidates fetched per requested result before exact re-ranking
	overFetch = 4
)

type memoryStorer struct {
	options storer.Options
	records map[string]storer.Record
	order   []string
	graph   *hnsw.Graph[string]
	// deleted ids still present in the graph
	stale int
	mtx   sync.RWMutex
}

func (s *memoryStorer) Insert(ctx context.Context, rec storer.Record) (storer.Record, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := storer.CheckDimensions(s.dimensions(), rec.Embedding); err != nil {
		return storer.Record{}, err
	}

	rec = storer.Stamp(rec, uuid.New().String(), time.Now())

	s.records[rec.Id] = rec
	s.order = append(s.order, rec.Id)
	s.graph.Add(hnsw.MakeNode(rec.Id, rec.Embedding))

	return rec, nil
}

func (s *memoryStorer) Delete(ctx context.Context, id string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, exists := s.records[id]; !exists {
		return nil
	}

	delete(s.records, id)

	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	s.stale++
	if 4*s.stale > len(s.records) {
		s.rebuild()
	}

	return nil
}

func (s *memoryStorer) Scan(ctx context.Context) ([]storer.Record, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	records := make([]storer.Record, 0, len(s.order))
	for _, id := range s.order {
		records = append(records, s.records[id])
	}

	return records, nil
}

func (s *memoryStorer) Search(ctx context.Context, vector []float32, limit int) ([]storer.Record, error) {
	if limit < 1 {
		return nil, nil
	}

	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if len(s.records) == 0 {
		return nil, nil
	}

	if err := storer.CheckDimensions(s.dimensions(), vector); err != nil {
		return nil, err
	}

	var keys []string

	if len(s.records) <= exactSearchLimit {
		keys = s.order
	} else {
		// over-fetch to make up for stale nodes, then re-rank exactly below
		for _, node := range s.graph.Search(vector, max(overFetch*limit, limit+s.stale)) {
			keys = append(keys, node.Key)
		}
	}

	candidates := make([]storer.Record, 0, len(keys))

	for _, key := range keys {
		rec, exists := s.records[key]
		if !exists {
			continue
		}
		rec.Score = float32(memorymanager.CosineSimilarity(vector, rec.Embedding))
		candidates = append(candidates, rec)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	return candidates, nil
}

func (s *memoryStorer) Recent(ctx context.Context, limit int, window time.Duration) ([]storer.Record, error) {
	if limit < 1 {
		return nil, nil
	}

	s.mtx.RLock()
	defer s.mtx.RUnlock()

	cutoff := time.Now().UTC().Add(-window)

	var records []storer.Record

	for _, id := range s.order {
		rec := s.records[id]
		if window > 0 && rec.CreatedAt.Before(cutoff) {
			continue
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

func (s *memoryStorer) Close() error {
	return nil
}

// dimensions is the configured length, or the length of the first stored
// vector when none is configured. Zero accepts anything.
func (s *memoryStorer) dimensions() int {
	if s.options.Dimensions > 0 {
		return s.options.Dimensions
	}
	if len(s.order) > 0 {
		return len(s.records[s.order[0]].Embedding)
	}
	return 0
}

func (s *memoryStorer) rebuild() {
	s.graph = newGraph()
	for _, id := range s.order {
		s.graph.Add(hnsw.MakeNode(id, s.records[id].Embedding))
	}
	s.stale = 0
}

func newGraph() *hnsw.Graph[string] {
	graph := hnsw.NewGraph[string]()
	graph.Distance = hnsw.CosineDistance
	graph.M = graphM
	graph.EfSearch = graphEfSearch
	return graph
}

func NewStorer(opts ...storer.Option) storer.Storer {
	options := storer.NewOptions(opts...)

	s := &memoryStorer{
		options: options,
		records: map[string]storer.Record{},
		order:   []string{},
		graph:   newGraph(),
		mtx:     sync.RWMutex{},
	}

	return s
}
