package agents

import (
	"context"
	"strings"

	"github.com/ridewise-ai/ridewise/internal/cache"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/observability"
	"github.com/ridewise-ai/ridewise/internal/websearch"
)

// WebAgent augments retrieval with external web results through the rate
// limited search facade.
type WebAgent struct {
	searcher websearch.Searcher
	cache    *cache.QueryCache
	logger   *observability.Logger
}

// NewWebAgent creates the web search agent.
func NewWebAgent(searcher websearch.Searcher, qc *cache.QueryCache, logger *observability.Logger) *WebAgent {
	return &WebAgent{
		searcher: searcher,
		cache:    qc,
		logger:   logger.WithAgent(string(domain.AgentTypeWeb)),
	}
}

// Type identifies the agent.
func (a *WebAgent) Type() domain.AgentType { return domain.AgentTypeWeb }

// Search issues one external query. Result scores decay by rank since the
// facade reports no relevance signal of its own.
func (a *WebAgent) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.SearchResult, error) {
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

	pages, err := a.searcher.Search(ctx, query, opts.MaxResults)
	if err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(pages))
	for i, page := range pages {
		r := domain.SearchResult{
			ID:             page.URL,
			Content:        page.Snippet,
			RelevanceScore: rankScore(i),
			Source: domain.SourceRef{
				AgentType:  a.Type(),
				SourceName: "web",
				URL:        page.URL,
			},
			Metadata: map[string]any{"title": page.Title},
		}
		if page.Published != nil {
			r.Metadata["published"] = page.Published.Format("2006-01-02")
		}
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

// rankScore assigns decaying scores by result position, starting at 0.9.
func rankScore(position int) float64 {
	score := 0.9 - 0.05*float64(position)
	if score < 0.1 {
		score = 0.1
	}
	return score
}

var _ Agent = (*WebAgent)(nil)
