package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridewise-ai/ridewise/internal/config"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/observability"
)

func testResults() []domain.SearchResult {
	return []domain.SearchResult{
		{
			ID:             "doc-1",
			Content:        "The Ducati Panigale V4 produces 215 horsepower.",
			RelevanceScore: 0.92,
			Source:         domain.SourceRef{AgentType: domain.AgentTypeVector, SourceName: "motorcycle-specs-v1", DocumentID: "doc-1"},
		},
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	opts := domain.DefaultSearchOptions()
	opts.Filters = map[string]string{"make": "Ducati", "model": "Panigale"}

	k1 := Fingerprint(domain.AgentTypeVector, "  Panigale   V4 horsepower ", opts)
	k2 := Fingerprint(domain.AgentTypeVector, "panigale v4 HORSEPOWER", opts)
	assert.Equal(t, k1, k2, "case and whitespace must not change the key")

	k3 := Fingerprint(domain.AgentTypePDF, "panigale v4 horsepower", opts)
	assert.NotEqual(t, k1, k3, "agent type is part of the key")

	opts.MaxResults = 25
	k4 := Fingerprint(domain.AgentTypeVector, "panigale v4 horsepower", opts)
	assert.NotEqual(t, k1, k4, "result-shaping options are part of the key")
}

func TestQueryCacheMemoryRoundTrip(t *testing.T) {
	qc := NewQueryCacheWithClient(NewMemoryClient(100), time.Minute, false, observability.NopLogger())
	defer qc.Close()

	ctx := context.Background()
	key := Fingerprint(domain.AgentTypeVector, "panigale horsepower", domain.DefaultSearchOptions())

	_, ok := qc.Get(ctx, key)
	assert.False(t, ok)

	qc.Set(ctx, key, testResults())

	got, ok := qc.Get(ctx, key)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "doc-1", got[0].ID)
	assert.InDelta(t, 0.92, got[0].RelevanceScore, 1e-9)

	stats := qc.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRatio, 1e-9)
}

func TestQueryCacheCompression(t *testing.T) {
	qc := NewQueryCacheWithClient(NewMemoryClient(100), time.Minute, true, observability.NopLogger())
	defer qc.Close()

	ctx := context.Background()
	key := Fingerprint(domain.AgentTypePDF, "oil change interval", domain.DefaultSearchOptions())

	qc.Set(ctx, key, testResults())

	got, ok := qc.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "doc-1", got[0].ID)
}

func TestQueryCacheInvalidate(t *testing.T) {
	qc := NewQueryCacheWithClient(NewMemoryClient(100), time.Minute, false, observability.NopLogger())
	defer qc.Close()

	ctx := context.Background()
	k1 := Fingerprint(domain.AgentTypeVector, "query one", domain.DefaultSearchOptions())
	k2 := Fingerprint(domain.AgentTypeWeb, "query two", domain.DefaultSearchOptions())
	qc.Set(ctx, k1, testResults())
	qc.Set(ctx, k2, testResults())

	removed, err := qc.Invalidate(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, ok := qc.Get(ctx, k1)
	assert.False(t, ok)
}

func TestQueryCacheRedisDriver(t *testing.T) {
	srv := miniredis.RunT(t)

	cfg := config.CacheConfig{
		Driver:          "redis",
		DefaultDuration: time.Minute,
		Redis:           config.RedisConfig{Addr: srv.Addr(), PoolSize: 2},
	}

	qc, err := NewQueryCache(cfg, observability.NopLogger())
	require.NoError(t, err)
	defer qc.Close()

	ctx := context.Background()
	key := Fingerprint(domain.AgentTypeVector, "top speed hayabusa", domain.DefaultSearchOptions())

	qc.Set(ctx, key, testResults())

	got, ok := qc.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "doc-1", got[0].ID)

	removed, err := qc.Invalidate(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestQueryCacheEntryExpires(t *testing.T) {
	srv := miniredis.RunT(t)

	cfg := config.CacheConfig{
		Driver:          "redis",
		DefaultDuration: time.Minute,
		Redis:           config.RedisConfig{Addr: srv.Addr(), PoolSize: 2},
	}

	qc, err := NewQueryCache(cfg, observability.NopLogger())
	require.NoError(t, err)
	defer qc.Close()

	ctx := context.Background()
	key := Fingerprint(domain.AgentTypeVector, "valve clearance interval", domain.DefaultSearchOptions())
	qc.Set(ctx, key, testResults())

	_, ok := qc.Get(ctx, key)
	require.True(t, ok)

	srv.FastForward(time.Minute + time.Second)

	_, ok = qc.Get(ctx, key)
	assert.False(t, ok, "entry must be gone once its ttl elapses")
}

func TestVectorCacheQuantizedRoundTrip(t *testing.T) {
	qc := NewQueryCacheWithClient(NewMemoryClient(100), time.Minute, false, observability.NopLogger())
	defer qc.Close()

	ctx := context.Background()
	key := VectorFingerprint("", "panigale v4 horsepower")

	_, ok := qc.GetVector(ctx, key)
	assert.False(t, ok)

	original := []float32{-1, -0.5, 0, 0.25, 1}
	qc.SetVector(ctx, key, original)

	got, ok := qc.GetVector(ctx, key)
	require.True(t, ok)
	require.Len(t, got, len(original))
	for i := range original {
		// Quantization error is bounded by span/255.
		assert.InDelta(t, original[i], got[i], 2.0/255.0+1e-6)
	}
}

func TestVectorFingerprintNormalizesText(t *testing.T) {
	assert.Equal(t,
		VectorFingerprint("", "  Panigale   V4 "),
		VectorFingerprint("", "panigale v4"))
	assert.NotEqual(t,
		VectorFingerprint("", "panigale v4"),
		VectorFingerprint("large", "panigale v4"))
}

func TestMemoryClientEviction(t *testing.T) {
	mc := NewMemoryClient(2)
	defer mc.Close()

	ctx := context.Background()
	require.NoError(t, mc.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, mc.Set(ctx, "b", []byte("2"), 2*time.Minute))
	require.NoError(t, mc.Set(ctx, "c", []byte("3"), 3*time.Minute))

	assert.Equal(t, 2, mc.Len())
	_, err := mc.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
