package ml

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestCacheKeyIncludesModel(t *testing.T) {
	a := CacheKey("all-MiniLM-L6-v2", "hello")
	b := CacheKey("bge-small-en-v1.5", "hello")
	if a == b {
		t.Fatal("cache keys for different models must differ")
	}
	if a != CacheKey("all-MiniLM-L6-v2", "hello") {
		t.Fatal("cache key must be stable for the same inputs")
	}
}

func TestLRUCacheRoundTrip(t *testing.T) {
	cache := NewLRUCache(8, time.Minute)
	ctx := context.Background()

	if _, ok := cache.Get(ctx, "missing"); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	want := []float32{0.1, 0.2, 0.3}
	cache.Put(ctx, "k", want)

	got, ok := cache.Get(ctx, "k")
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if len(got) != len(want) || got[0] != want[0] || got[2] != want[2] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestLRUCacheEvicts(t *testing.T) {
	cache := NewLRUCache(2, time.Minute)
	ctx := context.Background()

	cache.Put(ctx, "a", []float32{1})
	cache.Put(ctx, "b", []float32{2})
	cache.Put(ctx, "c", []float32{3})

	if _, ok := cache.Get(ctx, "a"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := cache.Get(ctx, "c"); !ok {
		t.Fatal("newest entry should survive")
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	cache := NewRedisCache(client, time.Minute)
	ctx := context.Background()

	want := []float32{-1.5, 0, 2.25, 0.125}
	cache.Put(ctx, "emb:test", want)

	got, ok := cache.Get(ctx, "emb:test")
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRedisCacheExpiry(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	cache := NewRedisCache(client, time.Second)
	ctx := context.Background()

	cache.Put(ctx, "emb:ttl", []float32{1})
	srv.FastForward(2 * time.Second)

	if _, ok := cache.Get(ctx, "emb:ttl"); ok {
		t.Fatal("entry should have expired")
	}
}

func TestRedisCacheTreatsErrorsAsMisses(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	cache := NewRedisCache(client, time.Minute)
	ctx := context.Background()

	// Corrupt payload: not a multiple of 4 bytes.
	if err := client.Set(ctx, "emb:bad", "xyz", 0).Err(); err != nil {
		t.Fatalf("seed redis: %v", err)
	}
	if _, ok := cache.Get(ctx, "emb:bad"); ok {
		t.Fatal("malformed payload must read as a miss")
	}

	srv.Close()
	if _, ok := cache.Get(ctx, "emb:gone"); ok {
		t.Fatal("unreachable redis must read as a miss")
	}
}

func TestCachingProviderCountsHits(t *testing.T) {
	embedder := &fakeEmbedder{
		dim:     3,
		vectors: map[string][]float32{"hello": {1, 2, 3}},
	}
	provider := NewCachingProvider(embedder, NewLRUCache(8, time.Minute), "test-model")
	ctx := context.Background()

	if _, err := provider.Embed(ctx, "hello"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if _, err := provider.Embed(ctx, "hello"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	hits, misses := provider.CacheStats()
	if hits != 1 || misses != 1 {
		t.Fatalf("hits/misses = %d/%d, want 1/1", hits, misses)
	}
}

func TestCachingProviderBatchFillsMissesOnly(t *testing.T) {
	embedder := &fakeEmbedder{
		dim: 3,
		vectors: map[string][]float32{
			"a": {1, 0, 0},
			"b": {0, 1, 0},
		},
	}
	cache := NewLRUCache(8, time.Minute)
	provider := NewCachingProvider(embedder, cache, "test-model")
	ctx := context.Background()

	// Warm one of the two.
	if _, err := provider.Embed(ctx, "a"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	out, err := provider.EmbedBatch(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(out) != 2 || out[0][0] != 1 || out[1][1] != 1 {
		t.Fatalf("unexpected batch result: %v", out)
	}

	hits, misses := provider.CacheStats()
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
	if misses != 2 {
		t.Errorf("misses = %d, want 2", misses)
	}
}
