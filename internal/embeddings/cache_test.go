package embeddings

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/unipost/unipost/internal/circuitbreaker"
)

func TestMakeKeyNormalization(t *testing.T) {
	// Case and whitespace variants map to the same key
	k1 := MakeKey("m", "Coffee  Trends")
	k2 := MakeKey("m", "  coffee trends ")
	k3 := MakeKey("m", "coffee\ttrends")
	assert.Equal(t, k1, k2)
	assert.Equal(t, k1, k3)

	// Different model or text produces a different key
	assert.NotEqual(t, k1, MakeKey("other", "coffee trends"))
	assert.NotEqual(t, k1, MakeKey("m", "tea trends"))

	// Deterministic across calls
	assert.Equal(t, MakeKey("m", "x"), MakeKey("m", "x"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b c", Normalize("  A   b\n C "))
	assert.Equal(t, "", Normalize("   "))
}

func TestLocalLRUEviction(t *testing.T) {
	lru := NewLocalLRU(2)
	ctx := context.Background()

	lru.Set(ctx, "a", []float32{1}, time.Minute)
	lru.Set(ctx, "b", []float32{2}, time.Minute)

	// Touch "a" so "b" becomes the eviction candidate
	_, ok := lru.Get(ctx, "a")
	require.True(t, ok)

	lru.Set(ctx, "c", []float32{3}, time.Minute)

	_, ok = lru.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = lru.Get(ctx, "a")
	assert.True(t, ok)
	_, ok = lru.Get(ctx, "c")
	assert.True(t, ok)
}

func TestLocalLRUExpiry(t *testing.T) {
	lru := NewLocalLRU(8)
	ctx := context.Background()

	lru.Set(ctx, "k", []float32{1, 2}, 10*time.Millisecond)
	_, ok := lru.Get(ctx, "k")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = lru.Get(ctx, "k")
	assert.False(t, ok, "expired entry should not be returned")
}

func TestRedisCacheRoundtrip(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	wrapper := circuitbreaker.NewRedisWrapper(client, zaptest.NewLogger(t))
	cache := NewRedisCache(wrapper)
	ctx := context.Background()

	vec := []float32{0.5, -1.25, 3.75}
	cache.Set(ctx, "emb:test", vec, time.Minute)

	got, ok := cache.Get(ctx, "emb:test")
	require.True(t, ok)
	assert.Equal(t, vec, got)

	// TTL expiry is Redis's own
	s.FastForward(2 * time.Minute)
	_, ok = cache.Get(ctx, "emb:test")
	assert.False(t, ok)
}

func TestRedisCacheMiss(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	wrapper := circuitbreaker.NewRedisWrapper(client, zaptest.NewLogger(t))
	cache := NewRedisCache(wrapper)

	_, ok := cache.Get(context.Background(), "emb:absent")
	assert.False(t, ok)
}
