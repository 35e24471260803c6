package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	memorymanager "github.com/w-h-a/workmem/memory_manager"
	"github.com/w-h-a/workmem/memory_manager/providers/storer"
)

type fakePoint struct {
	Id      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// fakeQdrant serves the subset of the qdrant REST api the storer uses.
type fakeQdrant struct {
	created bool
	points  []fakePoint
	keys    []string
	mtx     sync.Mutex
}

func (f *fakeQdrant) router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/collections/{name}", f.getCollection).Methods(http.MethodGet)
	r.HandleFunc("/collections/{name}", f.putCollection).Methods(http.MethodPut)
	r.HandleFunc("/collections/{name}/index", f.ok).Methods(http.MethodPut)
	r.HandleFunc("/collections/{name}/points", f.upsert).Methods(http.MethodPut)
	r.HandleFunc("/collections/{name}/points/delete", f.delete).Methods(http.MethodPost)
	r.HandleFunc("/collections/{name}/points/scroll", f.scroll).Methods(http.MethodPost)
	r.HandleFunc("/collections/{name}/points/search", f.search).Methods(http.MethodPost)

	return r
}

func (f *fakeQdrant) record(r *http.Request) {
	f.keys = append(f.keys, r.Header.Get("api-key"))
}

func (f *fakeQdrant) reply(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "result": result})
}

func (f *fakeQdrant) ok(w http.ResponseWriter, r *http.Request) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.record(r)
	f.reply(w, true)
}

func (f *fakeQdrant) getCollection(w http.ResponseWriter, r *http.Request) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.record(r)

	if !f.created {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"status": map[string]any{"error": "Not found"}})
		return
	}

	f.reply(w, map[string]any{"status": "green"})
}

func (f *fakeQdrant) putCollection(w http.ResponseWriter, r *http.Request) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.record(r)
	f.created = true
	f.reply(w, true)
}

func (f *fakeQdrant) upsert(w http.ResponseWriter, r *http.Request) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.record(r)

	var req struct {
		Points []fakePoint `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.points = append(f.points, req.Points...)
	f.reply(w, map[string]any{"status": "completed"})
}

func (f *fakeQdrant) delete(w http.ResponseWriter, r *http.Request) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.record(r)

	var req struct {
		Points []string `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	kept := f.points[:0]
	for _, p := range f.points {
		drop := false
		for _, id := range req.Points {
			drop = drop || p.Id == id
		}
		if !drop {
			kept = append(kept, p)
		}
	}
	f.points = kept

	f.reply(w, map[string]any{"status": "completed"})
}

func (f *fakeQdrant) scroll(w http.ResponseWriter, r *http.Request) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.record(r)

	var req struct {
		Limit  int  `json:"limit"`
		Offset *int `json:"offset"`
		Filter *struct {
			Must []struct {
				Key   string `json:"key"`
				Range struct {
					Gte int64 `json:"gte"`
				} `json:"range"`
			} `json:"must"`
		} `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var matched []fakePoint
	for _, p := range f.points {
		keep := true
		if req.Filter != nil {
			for _, cond := range req.Filter.Must {
				created, _ := p.Payload[cond.Key].(float64)
				keep = keep && int64(created) >= cond.Range.Gte
			}
		}
		if keep {
			matched = append(matched, p)
		}
	}

	start := 0
	if req.Offset != nil {
		start = *req.Offset
	}

	// pages of two exercise the offset loop
	end := min(start+2, len(matched))
	if start > end {
		start = end
	}

	result := map[string]any{"points": matched[start:end], "next_page_offset": nil}
	if end < len(matched) {
		result["next_page_offset"] = end
	}

	f.reply(w, result)
}

func (f *fakeQdrant) search(w http.ResponseWriter, r *http.Request) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.record(r)

	var req struct {
		Vector []float32 `json:"vector"`
		Limit  int       `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	type scored struct {
		fakePoint
		Score float64 `json:"score"`
	}

	var results []scored
	for _, p := range f.points {
		results = append(results, scored{p, memorymanager.CosineSimilarity(req.Vector, p.Vector)})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	f.reply(w, results)
}

func newTestStorer(t *testing.T) (storer.Storer, *fakeQdrant) {
	t.Helper()

	fake := &fakeQdrant{}
	srv := httptest.NewServer(fake.router())
	t.Cleanup(srv.Close)

	s := NewStorer(
		storer.WithLocation(srv.URL+"/"),
		storer.WithDimensions(3),
		storer.WithApiKey("secret"),
	)
	t.Cleanup(func() { s.Close() })

	return s, fake
}

func TestConfigureCreatesCollection(t *testing.T) {
	_, fake := newTestStorer(t)

	assert.True(t, fake.created)
	for _, key := range fake.keys {
		assert.Equal(t, "secret", key)
	}
}

func TestInsertScanDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorer(t)

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i, summary := range []string{"one", "two", "three"} {
		rec, err := s.Insert(ctx, storer.Record{
			Summary:    summary,
			Embedding:  []float32{1, float32(i), 0},
			SessionKey: "agent:main:group:3",
			Origin:     storer.OriginGroup,
			CreatedAt:  created.Add(time.Duration(i) * time.Minute),
			HasAction:  i == 1,
			Topics:     []string{"finance"},
			Reference:  storer.Reference{SourcePath: "log.jsonl"},
		})
		require.NoError(t, err)
		ids = append(ids, rec.Id)
	}

	records, err := s.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)

	second := records[1]
	assert.Equal(t, ids[1], second.Id)
	assert.Equal(t, "two", second.Summary)
	assert.Equal(t, []float32{1, 1, 0}, second.Embedding)
	assert.Equal(t, storer.OriginGroup, second.Origin)
	assert.True(t, second.CreatedAt.Equal(created.Add(time.Minute)))
	assert.True(t, second.HasAction)
	assert.False(t, second.HasDecision)
	assert.Equal(t, []string{"finance"}, second.Topics)
	assert.Equal(t, "log.jsonl", second.Reference.SourcePath)

	require.NoError(t, s.Delete(ctx, ids[0]))

	records, err = s.Scan(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorer(t)

	_, err := s.Insert(ctx, storer.Record{Summary: "x", Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)
	_, err = s.Insert(ctx, storer.Record{Summary: "z", Embedding: []float32{0, 0, 1}})
	require.NoError(t, err)

	found, err := s.Search(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, "x", found[0].Summary)
	assert.InDelta(t, 1.0, found[0].Score, 1e-6)

	_, err = s.Search(ctx, []float32{1, 0}, 1)
	require.ErrorIs(t, err, storer.ErrDimensionMismatch)
}

func TestRecent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorer(t)
	now := time.Now().UTC()

	for _, age := range []time.Duration{5 * time.Hour, 100 * time.Hour, time.Minute, 2 * time.Hour} {
		_, err := s.Insert(ctx, storer.Record{
			Summary:   age.String(),
			Embedding: []float32{1, 0, 0},
			CreatedAt: now.Add(-age),
		})
		require.NoError(t, err)
	}

	records, err := s.Recent(ctx, 10, 72*time.Hour)
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, time.Minute.String(), records[0].Summary)
	assert.Equal(t, (2 * time.Hour).String(), records[1].Summary)
	assert.Equal(t, (5 * time.Hour).String(), records[2].Summary)
}
