package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/w-h-a/workmem/memory_manager/providers/storer"
)

func newTestStorer(t *testing.T, opts ...storer.Option) (storer.Storer, string) {
	t.Helper()

	location := filepath.Join(t.TempDir(), "nested", "memory.db")

	s := NewStorer(append([]storer.Option{storer.WithLocation(location)}, opts...)...)
	t.Cleanup(func() { s.Close() })

	return s, location
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorer(t, storer.WithDimensions(3))

	created := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)

	in := storer.Record{
		Summary:     "agreed to ship on friday",
		Embedding:   []float32{0.25, -0.5, 1},
		SessionKey:  "agent:main:dm:7",
		Origin:      storer.OriginDirect,
		CreatedAt:   created,
		HasDecision: true,
		Topics:      []string{"schedule", "engineering"},
		Reference:   storer.Reference{SourcePath: "sessions/7.jsonl", FirstMessageId: "m1", LastMessageId: "m4"},
	}

	out, err := s.Insert(ctx, in)
	require.NoError(t, err)

	assert.NotEmpty(t, out.Id)
	assert.Equal(t, created.Truncate(time.Millisecond), out.CreatedAt)

	records, err := s.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, out.Id, got.Id)
	assert.Equal(t, in.Summary, got.Summary)
	assert.Equal(t, in.Embedding, got.Embedding)
	assert.Equal(t, in.SessionKey, got.SessionKey)
	assert.Equal(t, storer.OriginDirect, got.Origin)
	assert.True(t, got.CreatedAt.Equal(out.CreatedAt))
	assert.True(t, got.HasDecision)
	assert.False(t, got.HasAction)
	assert.Equal(t, []string{"engineering", "schedule"}, got.Topics)
	assert.Equal(t, in.Reference, got.Reference)
}

func TestDimensions(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects other lengths", func(t *testing.T) {
		s, _ := newTestStorer(t, storer.WithDimensions(3))

		_, err := s.Insert(ctx, storer.Record{Summary: "a", Embedding: []float32{1, 2}})
		require.ErrorIs(t, err, storer.ErrDimensionMismatch)

		_, err = s.Search(ctx, []float32{1, 2}, 3)
		require.ErrorIs(t, err, storer.ErrDimensionMismatch)
	})

	t.Run("store refuses to reopen with another length", func(t *testing.T) {
		s, location := newTestStorer(t, storer.WithDimensions(3))
		require.NoError(t, s.Close())

		reopened := NewStorer(storer.WithLocation(location), storer.WithDimensions(3))
		require.NoError(t, reopened.Close())

		assert.Panics(t, func() {
			NewStorer(storer.WithLocation(location), storer.WithDimensions(4))
		})
	})
}

func TestSearchAndDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorer(t)

	x, err := s.Insert(ctx, storer.Record{Summary: "x", Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)
	_, err = s.Insert(ctx, storer.Record{Summary: "xy", Embedding: []float32{1, 1, 0}})
	require.NoError(t, err)
	_, err = s.Insert(ctx, storer.Record{Summary: "z", Embedding: []float32{0, 0, 1}})
	require.NoError(t, err)

	found, err := s.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)

	require.Len(t, found, 2)
	assert.Equal(t, "x", found[0].Summary)
	assert.InDelta(t, 1.0, found[0].Score, 1e-6)
	assert.Equal(t, "xy", found[1].Summary)

	require.NoError(t, s.Delete(ctx, x.Id))
	require.NoError(t, s.Delete(ctx, x.Id))
	require.NoError(t, s.Delete(ctx, "not-a-number"))

	found, err = s.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, found)
	assert.Equal(t, "xy", found[0].Summary)
}

func TestRecent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorer(t)
	now := time.Now().UTC()

	for _, age := range []time.Duration{5 * time.Hour, 100 * time.Hour, time.Minute, 2 * time.Hour} {
		_, err := s.Insert(ctx, storer.Record{
			Summary:   age.String(),
			Embedding: []float32{1, 0},
			CreatedAt: now.Add(-age),
		})
		require.NoError(t, err)
	}

	records, err := s.Recent(ctx, 2, 72*time.Hour)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, time.Minute.String(), records[0].Summary)
	assert.Equal(t, (2 * time.Hour).String(), records[1].Summary)

	all, err := s.Recent(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	s, location := newTestStorer(t)

	_, err := s.Insert(ctx, storer.Record{Summary: "survives restarts", Embedding: []float32{1, 0}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := NewStorer(storer.WithLocation(location))
	defer reopened.Close()

	records, err := reopened.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "survives restarts", records[0].Summary)
}
