package agents

import (
	"context"
	"sort"
	"strings"

	"github.com/ridewise-ai/ridewise/internal/cache"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/llm"
	"github.com/ridewise-ai/ridewise/internal/observability"
	"github.com/ridewise-ai/ridewise/internal/search"
)

// sectionBoost is applied when a result's section matches a noun phrase in
// the query.
const sectionBoost = 1.1

// PDFAgent runs structure-aware retrieval against the manuals index,
// preserving section and page citations.
type PDFAgent struct {
	index     search.Index
	embedder  llm.Embedder
	cache     *cache.QueryCache
	indexName string
	logger    *observability.Logger
}

// NewPDFAgent creates the PDF search agent.
func NewPDFAgent(index search.Index, embedder llm.Embedder, qc *cache.QueryCache, logger *observability.Logger) *PDFAgent {
	return &PDFAgent{
		index:     index,
		embedder:  embedder,
		cache:     qc,
		indexName: search.PDFIndexName,
		logger:    logger.WithAgent(string(domain.AgentTypePDF)),
	}
}

// Type identifies the agent.
func (a *PDFAgent) Type() domain.AgentType { return domain.AgentTypePDF }

// Search runs the hybrid query scoped to the PDF index.
func (a *PDFAgent) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.SearchResult, error) {
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
	if vec, err := embedQuery(ctx, a.embedder, a.cache, opts.EnableCaching, query); err != nil {
		a.logger.WithContext(ctx).Warn().Err(err).Msg("Query embedding failed, falling back to lexical search")
	} else {
		q.Vector = vec
	}

	hits, err := a.index.Query(ctx, a.indexName, q)
	if err != nil {
		return nil, err
	}

	phrases := nounPhrases(query)
	results := make([]domain.SearchResult, 0, len(hits))
	for _, hit := range hits {
		r := resultFromHit(hit, a.Type(), a.indexName)
		if sectionMatches(hit.Document.Section, phrases) {
			r.RelevanceScore = boost(r.RelevanceScore)
		}
		if opts.IncludeMetadata {
			enrichMetadata(&r, query, a.Type())
			if hit.Document.ChunkType != "" {
				r.Metadata["chunk_type"] = string(hit.Document.ChunkType)
			}
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	results = filterAndTruncate(results, opts)

	if key != "" {
		a.cache.Set(ctx, key, results)
	}
	return results, nil
}

func boost(score float64) float64 {
	boosted := score * sectionBoost
	if boosted > 1 {
		boosted = 1
	}
	return boosted
}

// nounPhrases extracts candidate content words from the query: anything
// longer than three characters that is not a common function word.
func nounPhrases(query string) []string {
	var phrases []string
	for _, word := range strings.Fields(strings.ToLower(query)) {
		word = strings.Trim(word, ".,!?\"'")
		if len(word) > 3 && !stopWords[word] {
			phrases = append(phrases, word)
		}
	}
	return phrases
}

func sectionMatches(section string, phrases []string) bool {
	if section == "" {
		return false
	}
	section = strings.ToLower(section)
	for _, phrase := range phrases {
		if strings.Contains(section, phrase) {
			return true
		}
	}
	return false
}

var stopWords = map[string]bool{
	"what": true, "when": true, "where": true, "which": true, "does": true,
	"should": true, "would": true, "could": true, "with": true, "from": true,
	"that": true, "this": true, "have": true, "about": true, "your": true,
}

var _ Agent = (*PDFAgent)(nil)
