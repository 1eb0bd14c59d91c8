package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ridewise-ai/ridewise/internal/config"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/observability"
	"github.com/ridewise-ai/ridewise/internal/vector"
)

const (
	queryKeyPrefix  = "query:"
	vectorKeyPrefix = "vec:"
)

// QueryCache caches agent search results keyed by a fingerprint of the query
// and the options that affect its outcome.
type QueryCache struct {
	client   Client
	logger   *observability.Logger
	ttl      time.Duration
	compress bool

	hits   atomic.Int64
	misses atomic.Int64
}

// NewQueryCache builds the query cache on the configured driver.
func NewQueryCache(cfg config.CacheConfig, logger *observability.Logger) (*QueryCache, error) {
	var client Client
	switch cfg.Driver {
	case "redis":
		rc, err := NewRedisClient(cfg.Redis, "rw:")
		if err != nil {
			return nil, fmt.Errorf("create redis cache: %w", err)
		}
		client = rc
	case "memory", "":
		client = NewMemoryClient(cfg.MaxEntries)
	default:
		return nil, domain.NewError(domain.KindConfig, "unknown cache driver: "+cfg.Driver, nil)
	}

	ttl := cfg.DefaultDuration
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	return &QueryCache{
		client:   client,
		logger:   logger.WithComponent("cache"),
		ttl:      ttl,
		compress: cfg.EnableCompression,
	}, nil
}

// NewQueryCacheWithClient wraps an existing backend, used by tests.
func NewQueryCacheWithClient(client Client, ttl time.Duration, compress bool, logger *observability.Logger) *QueryCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &QueryCache{client: client, logger: logger.WithComponent("cache"), ttl: ttl, compress: compress}
}

// Fingerprint derives the cache key for one agent invocation. Queries are
// case-folded and whitespace-normalized; only options that change the result
// set participate, with filter keys sorted for determinism.
func Fingerprint(agent domain.AgentType, query string, opts domain.SearchOptions) string {
	var b strings.Builder
	b.WriteString(string(agent))
	b.WriteByte('|')
	b.WriteString(strings.Join(strings.Fields(strings.ToLower(query)), " "))
	b.WriteByte('|')
	fmt.Fprintf(&b, "max=%d|min=%.4f", opts.MaxResults, opts.MinRelevanceScore)

	if len(opts.Filters) > 0 {
		keys := make([]string, 0, len(opts.Filters))
		for k := range opts.Filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "|f:%s=%s", k, opts.Filters[k])
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return queryKeyPrefix + hex.EncodeToString(sum[:])
}

type cachedResults struct {
	Results  []domain.SearchResult `json:"results"`
	CachedAt time.Time             `json:"cached_at"`
}

// Get returns cached results for the fingerprint, or (nil, false) on a miss.
// Backend errors count as misses so a degraded cache never fails a query.
func (c *QueryCache) Get(ctx context.Context, key string) ([]domain.SearchResult, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.WithContext(ctx).Debug().Err(err).Str("key", key).Msg("Cache get error")
		}
		c.misses.Add(1)
		return nil, false
	}

	if c.compress {
		data, err = gunzip(data)
		if err != nil {
			c.logger.WithContext(ctx).Warn().Err(err).Str("key", key).Msg("Failed to decompress cached entry")
			c.misses.Add(1)
			return nil, false
		}
	}

	var cached cachedResults
	if err := json.Unmarshal(data, &cached); err != nil {
		c.logger.WithContext(ctx).Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached entry")
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return cached.Results, true
}

// Set stores results under the fingerprint. Failures are logged, never fatal.
func (c *QueryCache) Set(ctx context.Context, key string, results []domain.SearchResult) {
	data, err := json.Marshal(cachedResults{Results: results, CachedAt: time.Now().UTC()})
	if err != nil {
		c.logger.WithContext(ctx).Warn().Err(err).Msg("Failed to marshal cache entry")
		return
	}

	if c.compress {
		data, err = gzipBytes(data)
		if err != nil {
			c.logger.WithContext(ctx).Warn().Err(err).Msg("Failed to compress cache entry")
			return
		}
	}

	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.WithContext(ctx).Warn().Err(err).Str("key", key).Msg("Failed to cache results")
	}
}

// VectorFingerprint derives the cache key for one embedding call. The text is
// case-folded and whitespace-normalized like the query fingerprint.
func VectorFingerprint(model, text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(model + "|" + normalized))
	return vectorKeyPrefix + hex.EncodeToString(sum[:])
}

// GetVector returns a cached embedding. Stored vectors are int8-quantized, so
// the reconstruction is approximate within the quantization error bound.
func (c *QueryCache) GetVector(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.WithContext(ctx).Debug().Err(err).Str("key", key).Msg("Vector cache get error")
		}
		return nil, false
	}

	var comp vector.Compressed
	if err := json.Unmarshal(data, &comp); err != nil {
		c.logger.WithContext(ctx).Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached vector")
		return nil, false
	}
	return comp.Decompress(), true
}

// SetVector stores an embedding in quantized form. Failures are logged,
// never fatal.
func (c *QueryCache) SetVector(ctx context.Context, key string, vec []float32) {
	comp, err := vector.Quantize(vec)
	if err != nil {
		c.logger.WithContext(ctx).Warn().Err(err).Msg("Failed to quantize vector for caching")
		return
	}

	data, err := json.Marshal(comp)
	if err != nil {
		c.logger.WithContext(ctx).Warn().Err(err).Msg("Failed to marshal vector cache entry")
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.WithContext(ctx).Warn().Err(err).Str("key", key).Msg("Failed to cache vector")
	}
}

// Invalidate removes entries matching the glob pattern. "*" clears the whole
// query cache.
func (c *QueryCache) Invalidate(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		pattern = "*"
	}
	removed, err := c.client.DeletePattern(ctx, queryKeyPrefix+pattern)
	if err != nil {
		return removed, fmt.Errorf("invalidate cache: %w", err)
	}

	c.logger.WithContext(ctx).Info().
		Str("pattern", pattern).
		Int("removed", removed).
		Msg("Cache invalidated")
	return removed, nil
}

// Stats reports hit and miss counters since process start.
type Stats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRatio float64 `json:"hit_ratio"`
}

// Stats returns the current counters.
func (c *QueryCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRatio = float64(hits) / float64(total)
	}
	return s
}

// Close releases the backend.
func (c *QueryCache) Close() error {
	return c.client.Close()
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
