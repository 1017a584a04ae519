package ml

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Cache defaults.
const (
	DefaultCacheSize = 4096
	DefaultCacheTTL  = 10 * time.Minute
)

// EmbeddingCache stores embeddings keyed by content hash. Implementations
// must be safe for concurrent use.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Put(ctx context.Context, key string, embedding []float32)
}

// CacheKey derives the cache key for a text under a given model. The model
// name participates so a model swap never serves stale vectors.
func CacheKey(modelName, text string) string {
	h := xxhash.New()
	_, _ = h.WriteString(modelName)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(text)
	return fmt.Sprintf("emb:%016x", h.Sum64())
}

// LRUCache is the in-process cache backend: a size-bounded LRU where
// entries also expire after a TTL.
type LRUCache struct {
	lru *expirable.LRU[string, []float32]
}

// NewLRUCache builds an in-process cache. Non-positive size or TTL fall
// back to the defaults.
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &LRUCache{lru: expirable.NewLRU[string, []float32](size, nil, ttl)}
}

func (c *LRUCache) Get(_ context.Context, key string) ([]float32, bool) {
	return c.lru.Get(key)
}

func (c *LRUCache) Put(_ context.Context, key string, embedding []float32) {
	c.lru.Add(key, embedding)
}

// RedisCache is the shared cache backend for deployments where multiple
// scanner processes should reuse each other's embeddings. Errors are
// treated as misses; a flaky Redis never fails a scan.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache builds a Redis-backed embedding cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	embedding, err := decodeEmbedding(data)
	if err != nil {
		return nil, false
	}
	return embedding, true
}

func (c *RedisCache) Put(ctx context.Context, key string, embedding []float32) {
	_ = c.client.Set(ctx, key, encodeEmbedding(embedding), c.ttl).Err()
}

// encodeEmbedding packs a vector as little-endian float32 bits.
func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, 4*len(embedding))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("malformed embedding payload: %d bytes", len(data))
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return embedding, nil
}

// CachingProvider wraps an EmbeddingProvider with a cache. Hit and miss
// counts are exposed for health reporting.
type CachingProvider struct {
	inner     EmbeddingProvider
	cache     EmbeddingCache
	modelName string
	hits      atomic.Int64
	misses    atomic.Int64
}

// NewCachingProvider wraps inner with cache. modelName keys the cache
// entries; pass the selected model's name.
func NewCachingProvider(inner EmbeddingProvider, cache EmbeddingCache, modelName string) *CachingProvider {
	return &CachingProvider{inner: inner, cache: cache, modelName: modelName}
}

func (p *CachingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(p.modelName, text)
	if embedding, ok := p.cache.Get(ctx, key); ok {
		p.hits.Add(1)
		return embedding, nil
	}
	p.misses.Add(1)

	embedding, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Put(ctx, key, embedding)
	return embedding, nil
}

func (p *CachingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missing := make([]int, 0, len(texts))
	for i, text := range texts {
		if embedding, ok := p.cache.Get(ctx, CacheKey(p.modelName, text)); ok {
			p.hits.Add(1)
			out[i] = embedding
			continue
		}
		p.misses.Add(1)
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	uncached := make([]string, len(missing))
	for j, i := range missing {
		uncached[j] = texts[i]
	}
	fresh, err := p.inner.EmbedBatch(ctx, uncached)
	if err != nil {
		return nil, err
	}
	for j, i := range missing {
		if j < len(fresh) {
			out[i] = fresh[j]
			p.cache.Put(ctx, CacheKey(p.modelName, texts[i]), fresh[j])
		}
	}
	return out, nil
}

func (p *CachingProvider) Dimension() int { return p.inner.Dimension() }

func (p *CachingProvider) Ready() bool { return p.inner.Ready() }

// CacheStats returns cumulative hit and miss counts.
func (p *CachingProvider) CacheStats() (hits, misses int64) {
	return p.hits.Load(), p.misses.Load()
}
