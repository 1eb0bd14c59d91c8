package agents

import (
	"context"
	"strings"

	"github.com/ridewise-ai/ridewise/internal/cache"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/llm"
	"github.com/ridewise-ai/ridewise/internal/observability"
	"github.com/ridewise-ai/ridewise/internal/search"
)

// VectorAgent runs hybrid lexical and dense queries against the unified
// index, degrading to lexical-only when embedding is unavailable.
type VectorAgent struct {
	index     search.Index
	embedder  llm.Embedder
	cache     *cache.QueryCache
	indexName string
	logger    *observability.Logger
}

// NewVectorAgent creates the vector search agent.
func NewVectorAgent(index search.Index, embedder llm.Embedder, qc *cache.QueryCache, indexName string, logger *observability.Logger) *VectorAgent {
	if indexName == "" {
		indexName = search.UnifiedIndexName
	}
	return &VectorAgent{
		index:     index,
		embedder:  embedder,
		cache:     qc,
		indexName: indexName,
		logger:    logger.WithAgent(string(domain.AgentTypeVector)),
	}
}

// Type identifies the agent.
func (a *VectorAgent) Type() domain.AgentType { return domain.AgentTypeVector }

// Search runs the hybrid query. A blank query returns an empty result set
// without touching cache, embedder, or index.
func (a *VectorAgent) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	opts.Normalize()

	var key string
	if opts.EnableCaching && a.cache != nil {
		key = cache.Fingerprint(a.Type(), query, opts)
		if cached, ok := a.cache.Get(ctx, key); ok {
			return cached, nil
		}
	}

	q := search.Query{
		Text:    query,
		TopK:    overfetch(opts.MaxResults),
		Filters: opts.Filters,
	}

	vec, err := embedQuery(ctx, a.embedder, a.cache, opts.EnableCaching, query)
	if err != nil {
		a.logger.WithContext(ctx).Warn().Err(err).Msg("Query embedding failed, falling back to lexical search")
	} else {
		q.Vector = vec
	}

	hits, err := a.index.Query(ctx, a.indexName, q)
	if err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(hits))
	for _, hit := range hits {
		r := resultFromHit(hit, a.Type(), a.indexName)
		if opts.IncludeMetadata {
			enrichMetadata(&r, query, a.Type())
		}
		results = append(results, r)
	}
	results = filterAndTruncate(results, opts)

	if key != "" {
		a.cache.Set(ctx, key, results)
	}
	return results, nil
}

// resultFromHit converts an index hit into the agent result shape.
func resultFromHit(hit search.Hit, agentType domain.AgentType, indexName string) domain.SearchResult {
	doc := hit.Document
	r := domain.SearchResult{
		ID:             doc.ID,
		Content:        doc.Content,
		RelevanceScore: normalizeScore(hit.Score),
		Source: domain.SourceRef{
			AgentType:  agentType,
			SourceName: indexName,
			DocumentID: doc.ID,
			URL:        doc.SourceURL,
			Page:       doc.PageNumber,
			Section:    doc.Section,
		},
	}
	if doc.Title != "" || doc.SourceFile != "" {
		r.Metadata = map[string]any{
			"title":       doc.Title,
			"source_file": doc.SourceFile,
			"type":        string(doc.Type),
		}
	}
	return r
}

var _ Agent = (*VectorAgent)(nil)
