// Package agents implements the retrieval agents the orchestrator fans out
// to: vector, pdf, web, and the query planner.
package agents

import (
	"context"
	"time"

	"github.com/ridewise-ai/ridewise/internal/cache"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/llm"
)

// Agent is one retrieval strategy. Implementations are pure with respect to
// their backing store and safe for concurrent use.
type Agent interface {
	Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.SearchResult, error)
	Type() domain.AgentType
}

// topKCap bounds the over-fetch used to leave room for post-filtering.
const topKCap = 100

func overfetch(maxResults int) int {
	k := maxResults * 3
	if k > topKCap {
		k = topKCap
	}
	return k
}

// normalizeScore maps an unbounded index score into [0,1) with s/(s+1).
// Hybrid index scores have no fixed upper bound; the map is strictly
// increasing for s > 0, so index ranking survives filtering, dedup, and
// the rerank blend.
func normalizeScore(s float64) float64 {
	if s <= 0 {
		return 0
	}
	return s / (s + 1)
}

// embedQuery embeds the query text, reusing a cached quantized embedding when
// caching is enabled. Quantization loss is well under the score differences
// that matter for retrieval.
func embedQuery(ctx context.Context, embedder llm.Embedder, qc *cache.QueryCache, enabled bool, query string) ([]float32, error) {
	if !enabled || qc == nil {
		return embedder.Embed(ctx, "", query)
	}

	key := cache.VectorFingerprint("", query)
	if vec, ok := qc.GetVector(ctx, key); ok {
		return vec, nil
	}

	vec, err := embedder.Embed(ctx, "", query)
	if err != nil {
		return nil, err
	}
	qc.SetVector(ctx, key, vec)
	return vec, nil
}

// enrichMetadata stamps the standard provenance fields on a result.
func enrichMetadata(r *domain.SearchResult, query string, agentType domain.AgentType) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata["searchQuery"] = query
	r.Metadata["searchTimestamp"] = time.Now().UTC().Format(time.RFC3339)
	r.Metadata["agentType"] = string(agentType)
}

// filterAndTruncate applies the relevance floor and result cap in place.
func filterAndTruncate(results []domain.SearchResult, opts domain.SearchOptions) []domain.SearchResult {
	filtered := results[:0]
	for _, r := range results {
		if r.RelevanceScore >= opts.MinRelevanceScore {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) > opts.MaxResults {
		filtered = filtered[:opts.MaxResults]
	}
	return filtered
}
