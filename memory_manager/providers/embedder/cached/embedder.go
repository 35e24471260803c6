package cached

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/w-h-a/workmem/memory_manager/providers/embedder"
)

const keyPrefix = "workmem:embedding:"

// cachedEmbedder memoizes vectors by text so a recall and the capture that
// follows it do not embed the same prompt twice. With a redis location the
// cache outlives the process, which is what separate hook invocations need.
type cachedEmbedder struct {
	options embedder.Options
	cache   *cache.Cache
	shared  *redis.Client
}

func (e *cachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(e.options.Model, e.options.Dimensions, text)

	if v, ok := e.cache.Get(key); ok {
		return clone(v.([]float32)), nil
	}

	if vec, ok := e.lookupShared(ctx, key); ok {
		e.cache.SetDefault(key, clone(vec))
		return vec, nil
	}

	vec, err := e.options.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.SetDefault(key, clone(vec))
	e.storeShared(ctx, key, vec)

	return vec, nil
}

func (e *cachedEmbedder) lookupShared(ctx context.Context, key string) ([]float32, bool) {
	if e.shared == nil {
		return nil, false
	}

	raw, err := e.shared.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		slog.WarnContext(ctx, "embedding cache lookup failed", "error", err)
		return nil, false
	}

	vec, err := decode(raw)
	if err != nil {
		slog.WarnContext(ctx, "discarding unreadable cached embedding", "error", err)
		return nil, false
	}

	return vec, true
}

func (e *cachedEmbedder) storeShared(ctx context.Context, key string, vec []float32) {
	if e.shared == nil {
		return
	}

	if err := e.shared.Set(ctx, keyPrefix+key, encode(vec), e.options.TTL).Err(); err != nil {
		slog.WarnContext(ctx, "embedding cache store failed", "error", err)
	}
}

// cacheKey scopes a text's vector to the model and length that produced it.
func cacheKey(model string, dims int, text string) string {
	sum := sha256.Sum256([]byte(text))
	return model + ":" + strconv.Itoa(dims) + ":" + hex.EncodeToString(sum[:])
}

func clone(vec []float32) []float32 {
	return append([]float32(nil), vec...)
}

func encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decode(raw []byte) ([]float32, error) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("invalid vector of %d bytes", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec, nil
}

func NewEmbedder(opts ...embedder.Option) embedder.Embedder {
	options := embedder.NewOptions(opts...)

	if options.Embedder == nil {
		panic("cached embedder requires a backend embedder")
	}

	e := &cachedEmbedder{
		options: options,
		cache:   cache.New(options.TTL, 2*options.TTL),
	}

	if len(options.CacheLocation) > 0 {
		redisOpts, err := redis.ParseURL(options.CacheLocation)
		if err != nil {
			detail := "failed to parse embedding cache location"
			slog.ErrorContext(options.Context, detail, "error", err)
			panic(detail)
		}
		e.shared = redis.NewClient(redisOpts)
	}

	return e
}
