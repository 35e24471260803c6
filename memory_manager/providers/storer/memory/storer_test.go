package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/w-h-a/workmem/memory_manager/providers/storer"
)

func TestInsertAndScan(t *testing.T) {
	ctx := context.Background()
	s := NewStorer()

	first, err := s.Insert(ctx, storer.Record{Summary: "one", Embedding: []float32{1, 0}, Origin: "DM", Topics: []string{"Travel", "travel"}})
	require.NoError(t, err)
	second, err := s.Insert(ctx, storer.Record{Summary: "two", Embedding: []float32{0, 1}})
	require.NoError(t, err)

	assert.NotEmpty(t, first.Id)
	assert.NotEqual(t, first.Id, second.Id)
	assert.False(t, first.CreatedAt.IsZero())
	assert.Equal(t, storer.OriginUnknown, first.Origin)
	assert.Equal(t, []string{"travel"}, first.Topics)

	records, err := s.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "one", records[0].Summary)
	assert.Equal(t, "two", records[1].Summary)
}

func TestDimensionLock(t *testing.T) {
	ctx := context.Background()

	t.Run("configured", func(t *testing.T) {
		s := NewStorer(storer.WithDimensions(3))

		_, err := s.Insert(ctx, storer.Record{Summary: "short", Embedding: []float32{1, 0}})
		require.ErrorIs(t, err, storer.ErrDimensionMismatch)

		_, err = s.Search(ctx, []float32{1, 0}, 5)
		assert.NoError(t, err)
	})

	t.Run("first insert wins", func(t *testing.T) {
		s := NewStorer()

		_, err := s.Insert(ctx, storer.Record{Summary: "a", Embedding: []float32{1, 0}})
		require.NoError(t, err)

		_, err = s.Insert(ctx, storer.Record{Summary: "b", Embedding: []float32{1, 0, 0}})
		require.ErrorIs(t, err, storer.ErrDimensionMismatch)

		_, err = s.Search(ctx, []float32{1, 0, 0}, 5)
		require.ErrorIs(t, err, storer.ErrDimensionMismatch)
	})

	t.Run("empty vector", func(t *testing.T) {
		s := NewStorer()

		_, err := s.Insert(ctx, storer.Record{Summary: "a"})
		require.ErrorIs(t, err, storer.ErrDimensionMismatch)
	})
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s := NewStorer()

	_, err := s.Insert(ctx, storer.Record{Summary: "x", Embedding: []float32{1, 0, 0}})
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
	assert.InDelta(t, 0.7071, found[1].Score, 1e-3)

	none, err := s.Search(ctx, []float32{1, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearchLargeStore(t *testing.T) {
	ctx := context.Background()
	s := NewStorer()

	for i := 0; i < exactSearchLimit+40; i++ {
		angle := float32(i) / float32(exactSearchLimit+40)
		_, err := s.Insert(ctx, storer.Record{
			Summary:   fmt.Sprintf("entry %d", i),
			Embedding: []float32{1 - angle, angle, 0.01},
		})
		require.NoError(t, err)
	}

	found, err := s.Search(ctx, []float32{1, 0, 0.01}, 5)
	require.NoError(t, err)

	require.NotEmpty(t, found)
	assert.Greater(t, found[0].Score, float32(0.99))
	for i := 1; i < len(found); i++ {
		assert.GreaterOrEqual(t, found[i-1].Score, found[i].Score)
	}
}

func TestSearchFindsEveryLiveRecord(t *testing.T) {
	ctx := context.Background()
	s := NewStorer(storer.WithDimensions(16))
	rng := rand.New(rand.NewPCG(7, 11))

	var inserted []storer.Record
	for i := 0; i < 400; i++ {
		vec := make([]float32, 16)
		for j := range vec {
			vec[j] = rng.Float32()*2 - 1
		}
		rec, err := s.Insert(ctx, storer.Record{Summary: fmt.Sprintf("entry %d", i), Embedding: vec})
		require.NoError(t, err)
		inserted = append(inserted, rec)
	}

	for _, rec := range inserted[:150] {
		require.NoError(t, s.Delete(ctx, rec.Id))
	}

	for _, rec := range inserted[150:] {
		found, err := s.Search(ctx, rec.Embedding, 1)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, rec.Id, found[0].Id, rec.Summary)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStorer()

	kept, err := s.Insert(ctx, storer.Record{Summary: "kept", Embedding: []float32{1, 0}})
	require.NoError(t, err)
	gone, err := s.Insert(ctx, storer.Record{Summary: "gone", Embedding: []float32{0, 1}})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, gone.Id))
	require.NoError(t, s.Delete(ctx, gone.Id))
	require.NoError(t, s.Delete(ctx, "never-existed"))

	records, err := s.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, kept.Id, records[0].Id)

	found, err := s.Search(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, kept.Id, found[0].Id)
}

func TestRecent(t *testing.T) {
	ctx := context.Background()
	s := NewStorer()
	now := time.Now().UTC()

	for _, age := range []time.Duration{5 * time.Hour, 100 * time.Hour, time.Minute, 2 * time.Hour} {
		_, err := s.Insert(ctx, storer.Record{
			Summary:   age.String(),
			Embedding: []float32{1, 0},
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

	limited, err := s.Recent(ctx, 1, 72*time.Hour)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, time.Minute.String(), limited[0].Summary)

	unbounded, err := s.Recent(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, unbounded, 4)
}
