package cached

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/w-h-a/workmem/memory_manager/providers/embedder"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1}, nil
}

type fixedEmbedder struct {
	vec   []float32
	calls int
}

func (e *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	return append([]float32(nil), e.vec...), nil
}

func TestCachesByText(t *testing.T) {
	ctx := context.Background()
	backend := &countingEmbedder{}

	e := NewEmbedder(embedder.WithEmbedder(backend), embedder.WithTTL(time.Minute))

	first, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	second, err := e.Embed(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, backend.calls)

	_, err = e.Embed(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.calls)
}

func TestCachedVectorsAreCopies(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder(embedder.WithEmbedder(&countingEmbedder{}))

	first, err := e.Embed(ctx, "abc")
	require.NoError(t, err)
	first[0] = 99

	second, err := e.Embed(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, second)
}

func TestErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	backend := &countingEmbedder{err: errors.New("rate limited")}

	e := NewEmbedder(embedder.WithEmbedder(backend))

	_, err := e.Embed(ctx, "abc")
	require.Error(t, err)

	backend.err = nil

	vec, err := e.Embed(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, vec)
	assert.Equal(t, 2, backend.calls)
}

func TestRequiresBackend(t *testing.T) {
	assert.Panics(t, func() { NewEmbedder() })
}

func TestUnreachableSharedCacheFallsBack(t *testing.T) {
	ctx := context.Background()
	backend := &countingEmbedder{}

	e := NewEmbedder(
		embedder.WithEmbedder(backend),
		embedder.WithCacheLocation("redis://127.0.0.1:1/0?max_retries=-1&dial_timeout=200ms"),
	)

	vec, err := e.Embed(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, vec)

	_, err = e.Embed(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls)
}

func TestBadSharedCacheLocation(t *testing.T) {
	assert.Panics(t, func() {
		NewEmbedder(
			embedder.WithEmbedder(&countingEmbedder{}),
			embedder.WithCacheLocation("not a url"),
		)
	})
}

func TestVectorEncoding(t *testing.T) {
	vec := []float32{0.125, -3.5, 0}

	out, err := decode(encode(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, out)

	_, err = decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestSharedCacheAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	location := "redis://" + mr.Addr() + "/0"

	first := &fixedEmbedder{vec: []float32{1, 2, 3}}
	writer := NewEmbedder(
		embedder.WithEmbedder(first),
		embedder.WithModel("text-embedding-3-small"),
		embedder.WithDimensions(3),
		embedder.WithCacheLocation(location),
	)

	_, err := writer.Embed(ctx, "where did we book the hotel")
	require.NoError(t, err)

	t.Run("same model reads the shared vector", func(t *testing.T) {
		second := &fixedEmbedder{vec: []float32{9, 9, 9}}
		reader := NewEmbedder(
			embedder.WithEmbedder(second),
			embedder.WithModel("text-embedding-3-small"),
			embedder.WithDimensions(3),
			embedder.WithCacheLocation(location),
		)

		vec, err := reader.Embed(ctx, "where did we book the hotel")
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2, 3}, vec)
		assert.Zero(t, second.calls)
	})

	t.Run("other dimensions embed their own", func(t *testing.T) {
		other := &fixedEmbedder{vec: []float32{5, 4, 3, 2, 1}}
		reader := NewEmbedder(
			embedder.WithEmbedder(other),
			embedder.WithModel("text-embedding-3-small"),
			embedder.WithDimensions(5),
			embedder.WithCacheLocation(location),
		)

		vec, err := reader.Embed(ctx, "where did we book the hotel")
		require.NoError(t, err)
		assert.Equal(t, []float32{5, 4, 3, 2, 1}, vec)
		assert.Equal(t, 1, other.calls)
	})

	t.Run("other model with equal dimensions embeds its own", func(t *testing.T) {
		other := &fixedEmbedder{vec: []float32{7, 7, 7}}
		reader := NewEmbedder(
			embedder.WithEmbedder(other),
			embedder.WithModel("text-embedding-ada-002"),
			embedder.WithDimensions(3),
			embedder.WithCacheLocation(location),
		)

		vec, err := reader.Embed(ctx, "where did we book the hotel")
		require.NoError(t, err)
		assert.Equal(t, []float32{7, 7, 7}, vec)
		assert.Equal(t, 1, other.calls)
	})
}

func TestCacheKeyScopesModel(t *testing.T) {
	base := cacheKey("text-embedding-3-small", 1536, "hello")

	assert.Equal(t, base, cacheKey("text-embedding-3-small", 1536, "hello"))
	assert.NotEqual(t, base, cacheKey("text-embedding-ada-002", 1536, "hello"))
	assert.NotEqual(t, base, cacheKey("text-embedding-3-small", 512, "hello"))
	assert.NotEqual(t, base, cacheKey("text-embedding-3-small", 1536, "hello!"))
}
