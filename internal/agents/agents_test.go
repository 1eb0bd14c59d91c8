package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridewise-ai/ridewise/internal/cache"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/llm"
	"github.com/ridewise-ai/ridewise/internal/observability"
	"github.com/ridewise-ai/ridewise/internal/search"
	"github.com/ridewise-ai/ridewise/internal/websearch"
)

const testDim = 64

type fakeIndex struct {
	hits      []search.Hit
	err       error
	queries   []search.Query
	lastIndex string
}

func (f *fakeIndex) EnsureIndex(ctx context.Context, def search.IndexDefinition) error { return nil }

func (f *fakeIndex) UploadBatch(ctx context.Context, indexName string, docs []domain.MotorcycleDocument) (*search.BatchResult, error) {
	return &search.BatchResult{}, nil
}

func (f *fakeIndex) Query(ctx context.Context, indexName string, q search.Query) ([]search.Hit, error) {
	f.queries = append(f.queries, q)
	f.lastIndex = indexName
	return f.hits, f.err
}

func (f *fakeIndex) Stats(ctx context.Context, indexName string) (*search.IndexStats, error) {
	return &search.IndexStats{}, nil
}

func specHit(id string, score float64) search.Hit {
	return search.Hit{
		Score: score,
		Document: domain.MotorcycleDocument{
			ID:         id,
			Title:      "Ducati Panigale V4",
			Content:    "Engine: 1103cc. Power: 215 hp.",
			Type:       domain.DocumentTypeSpecification,
			SourceFile: "bikes.csv",
		},
	}
}

func manualHit(id, section string, page int, score float64) search.Hit {
	return search.Hit{
		Score: score,
		Document: domain.MotorcycleDocument{
			ID:         id,
			Content:    "Check the chain slack every 600 miles.",
			Type:       domain.DocumentTypeManual,
			SourceFile: "manual.pdf",
			Section:    section,
			PageNumber: &page,
			ChunkType:  domain.ChunkTypeText,
		},
	}
}

func testCache(t *testing.T) *cache.QueryCache {
	t.Helper()
	qc := cache.NewQueryCacheWithClient(cache.NewMemoryClient(100), time.Minute, false, observability.NopLogger())
	t.Cleanup(func() { qc.Close() })
	return qc
}

func TestNormalizeScoreMonotonic(t *testing.T) {
	raw := []float64{0.1, 0.9, 1.0, 1.2, 2.5, 40}
	prev := 0.0
	for _, s := range raw {
		n := normalizeScore(s)
		assert.Greater(t, n, prev, "normalizeScore(%v) must rank above smaller raw scores", s)
		assert.Less(t, n, 1.0)
		prev = n
	}

	assert.Greater(t, normalizeScore(1.2), normalizeScore(0.9),
		"ranking must be preserved when raw scores straddle 1")
	assert.Zero(t, normalizeScore(0))
	assert.Zero(t, normalizeScore(-3))
}

func TestVectorAgentBlankQuery(t *testing.T) {
	idx := &fakeIndex{}
	mock := llm.NewMockClient(testDim)
	agent := NewVectorAgent(idx, mock, nil, "", observability.NopLogger())

	results, err := agent.Search(context.Background(), "   ", domain.DefaultSearchOptions())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, idx.queries, "blank query never reaches the index")
	assert.Zero(t, mock.EmbedCalls, "blank query never reaches the embedder")
}

func TestVectorAgentHybridQuery(t *testing.T) {
	idx := &fakeIndex{hits: []search.Hit{specHit("a", 2.5), specHit("b", 0.8), specHit("c", 0.1)}}
	agent := NewVectorAgent(idx, llm.NewMockClient(testDim), nil, "", observability.NopLogger())

	opts := domain.DefaultSearchOptions()
	opts.MaxResults = 2
	opts.MinRelevanceScore = 0.3

	results, err := agent.Search(context.Background(), "panigale horsepower", opts)
	require.NoError(t, err)

	require.Len(t, idx.queries, 1)
	assert.Equal(t, 6, idx.queries[0].TopK, "over-fetches three times max_results")
	assert.Len(t, idx.queries[0].Vector, testDim)
	assert.Equal(t, search.UnifiedIndexName, idx.lastIndex)

	require.Len(t, results, 2, "low-scored hit filtered, rest truncated to max_results")
	for _, r := range results {
		assert.LessOrEqual(t, r.RelevanceScore, 1.0)
		assert.GreaterOrEqual(t, r.RelevanceScore, 0.3)
		assert.Equal(t, "panigale horsepower", r.Metadata["searchQuery"])
		assert.Equal(t, string(domain.AgentTypeVector), r.Metadata["agentType"])
	}
}

func TestVectorAgentLexicalFallback(t *testing.T) {
	idx := &fakeIndex{hits: []search.Hit{specHit("a", 1.2)}}
	mock := llm.NewMockClient(testDim)
	mock.EmbedErr = errors.New("embedding circuit open")
	agent := NewVectorAgent(idx, mock, nil, "", observability.NopLogger())

	results, err := agent.Search(context.Background(), "panigale", domain.DefaultSearchOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)

	require.Len(t, idx.queries, 1)
	assert.Empty(t, idx.queries[0].Vector, "falls back to lexical-only query")
	assert.Equal(t, "panigale", idx.queries[0].Text)
}

func TestVectorAgentTopKCap(t *testing.T) {
	idx := &fakeIndex{}
	agent := NewVectorAgent(idx, llm.NewMockClient(testDim), nil, "", observability.NopLogger())

	opts := domain.DefaultSearchOptions()
	opts.MaxResults = 100
	_, err := agent.Search(context.Background(), "touring bikes", opts)
	require.NoError(t, err)
	assert.Equal(t, topKCap, idx.queries[0].TopK)
}

func TestVectorAgentCaching(t *testing.T) {
	idx := &fakeIndex{hits: []search.Hit{specHit("a", 0.9)}}
	agent := NewVectorAgent(idx, llm.NewMockClient(testDim), testCache(t), "", observability.NopLogger())

	opts := domain.DefaultSearchOptions()
	first, err := agent.Search(context.Background(), "panigale", opts)
	require.NoError(t, err)
	second, err := agent.Search(context.Background(), "panigale", opts)
	require.NoError(t, err)

	assert.Len(t, idx.queries, 1, "second call is a cache hit")
	assert.Equal(t, first, second)
}

func TestVectorAgentReusesCachedEmbedding(t *testing.T) {
	idx := &fakeIndex{hits: []search.Hit{specHit("a", 0.9)}}
	mock := llm.NewMockClient(testDim)
	agent := NewVectorAgent(idx, mock, testCache(t), "", observability.NopLogger())

	opts := domain.DefaultSearchOptions()
	_, err := agent.Search(context.Background(), "panigale", opts)
	require.NoError(t, err)

	// Different max_results misses the result cache but not the vector cache.
	opts.MaxResults = 5
	_, err = agent.Search(context.Background(), "panigale", opts)
	require.NoError(t, err)

	assert.Equal(t, 1, mock.EmbedCalls, "second search reuses the cached query embedding")
	require.Len(t, idx.queries, 2)
	assert.Len(t, idx.queries[1].Vector, testDim, "cached embedding still drives the hybrid query")
}

func TestVectorAgentIndexError(t *testing.T) {
	idx := &fakeIndex{err: errors.New("index down")}
	agent := NewVectorAgent(idx, llm.NewMockClient(testDim), nil, "", observability.NopLogger())

	_, err := agent.Search(context.Background(), "panigale", domain.DefaultSearchOptions())
	assert.Error(t, err)
}

func TestPDFAgentSectionBoostAndCitations(t *testing.T) {
	idx := &fakeIndex{hits: []search.Hit{
		manualHit("plain", "Electrical System", 80, 0.6),
		manualHit("boosted", "Chain Maintenance", 42, 0.6),
	}}
	agent := NewPDFAgent(idx, llm.NewMockClient(testDim), nil, observability.NopLogger())

	results, err := agent.Search(context.Background(), "chain maintenance interval", domain.DefaultSearchOptions())
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, search.PDFIndexName, idx.lastIndex)
	assert.Equal(t, "boosted", results[0].ID, "section match outranks equal base score")
	assert.Greater(t, results[0].RelevanceScore, results[1].RelevanceScore)

	assert.Equal(t, "Chain Maintenance", results[0].Source.Section)
	require.NotNil(t, results[0].Source.Page)
	assert.Equal(t, 42, *results[0].Source.Page)
	assert.Equal(t, string(domain.ChunkTypeText), results[0].Metadata["chunk_type"])
}

func TestWebAgentMapsResults(t *testing.T) {
	searcher := &fakeSearcher{results: []websearch.Result{
		{Title: "Review", URL: "https://cycleworld.com/a", Snippet: "215 hp superbike"},
		{Title: "News", URL: "https://motorcyclenews.com/b", Snippet: "2026 model updates"},
	}}
	agent := NewWebAgent(searcher, nil, observability.NopLogger())

	results, err := agent.Search(context.Background(), "panigale 2026", domain.DefaultSearchOptions())
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, domain.AgentTypeWeb, results[0].Source.AgentType)
	assert.Equal(t, "https://cycleworld.com/a", results[0].Source.URL)
	assert.Greater(t, results[0].RelevanceScore, results[1].RelevanceScore, "scores decay by rank")
}

func TestWebAgentSearcherError(t *testing.T) {
	agent := NewWebAgent(&fakeSearcher{err: errors.New("quota exceeded")}, nil, observability.NopLogger())

	_, err := agent.Search(context.Background(), "panigale", domain.DefaultSearchOptions())
	assert.Error(t, err)
}

type fakeSearcher struct {
	results []websearch.Result
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, maxResults int) ([]websearch.Result, error) {
	return f.results, f.err
}

func TestPlannerParsesStructuredResponse(t *testing.T) {
	mock := llm.NewMockClient(testDim)
	mock.ChatResponse = "```json\n{\"sub_queries\": [\"panigale v4 horsepower\", \"panigale v4 torque\"], \"use_web_search\": true, \"run_parallel\": false}\n```"
	planner := NewPlanner(mock, "gpt-4o-mini", observability.NopLogger())

	plan := planner.Plan(context.Background(), "panigale v4 engine performance", domain.QueryContext{})
	assert.Equal(t, []string{"panigale v4 horsepower", "panigale v4 torque"}, plan.SubQueries)
	assert.True(t, plan.UseWebSearch)
	assert.False(t, plan.RunParallel)
	assert.Equal(t, "panigale v4 engine performance", plan.OriginalQuery)
}

func TestPlannerClampsSubQueries(t *testing.T) {
	mock := llm.NewMockClient(testDim)
	mock.ChatResponse = `{"sub_queries": ["a1","a2","a3","a4","a5","a6","a7","a8"], "use_web_search": false, "run_parallel": true}`
	planner := NewPlanner(mock, "", observability.NopLogger())

	plan := planner.Plan(context.Background(), "everything about motorcycles", domain.QueryContext{})
	assert.Len(t, plan.SubQueries, maxSubQueries)
}

func TestPlannerTrivialFallbackOnModelError(t *testing.T) {
	mock := llm.NewMockClient(testDim)
	mock.ChatErr = errors.New("model unavailable")
	planner := NewPlanner(mock, "", observability.NopLogger())

	qc := domain.QueryContext{Preferences: domain.SearchPreferences{IncludeWeb: true}}
	plan := planner.Plan(context.Background(), "best sport touring bike", qc)

	assert.Equal(t, []string{"best sport touring bike"}, plan.SubQueries)
	assert.True(t, plan.UseWebSearch, "web preference carries into the trivial plan")
	assert.True(t, plan.RunParallel)
}

func TestPlannerTrivialFallbackOnGarbage(t *testing.T) {
	mock := llm.NewMockClient(testDim)
	mock.ChatResponse = "I cannot help with that."
	planner := NewPlanner(mock, "", observability.NopLogger())

	plan := planner.Plan(context.Background(), "oil capacity cbr600rr", domain.QueryContext{})
	assert.Equal(t, []string{"oil capacity cbr600rr"}, plan.SubQueries)
}
