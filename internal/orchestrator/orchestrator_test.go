package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridewise-ai/ridewise/internal/agents"
	"github.com/ridewise-ai/ridewise/internal/config"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/llm"
	"github.com/ridewise-ai/ridewise/internal/observability"
)

const testDim = 64

type scriptedAgent struct {
	typ     domain.AgentType
	results []domain.SearchResult
	err     error
	calls   atomic.Int32
}

func (a *scriptedAgent) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	return a.results, nil
}

func (a *scriptedAgent) Type() domain.AgentType { return a.typ }

func scriptedResults(agentType domain.AgentType, prefix string, n int, baseScore float64) []domain.SearchResult {
	results := make([]domain.SearchResult, n)
	for i := range results {
		id := fmt.Sprintf("%s-%d", prefix, i)
		results[i] = domain.SearchResult{
			ID:             id,
			Content:        fmt.Sprintf("Snippet %s about motorcycle specifications and maintenance.", id),
			RelevanceScore: baseScore - float64(i)*0.01,
			Source:         domain.SourceRef{AgentType: agentType, SourceName: "test", DocumentID: id},
		}
	}
	return results
}

const sequentialPlan = `{"sub_queries": ["panigale v4 horsepower"], "use_web_search": true, "run_parallel": false}`

func newOrchestrator(plannerMock, synthMock *llm.MockClient, vector, pdf, web agents.Agent) *Orchestrator {
	planner := agents.NewPlanner(plannerMock, "", observability.NopLogger())
	cfg := config.OrchestratorConfig{
		MaxConcurrentCalls:   8,
		ProcessCallLimit:     64,
		RerankAgentWeight:    0.7,
		RerankSemanticWeight: 0.3,
		SynthesisSnippets:    10,
	}
	return New(planner, vector, pdf, web, synthMock, synthMock, "gpt-4o", cfg, observability.NopLogger())
}

func allPrefs() domain.QueryContext {
	return domain.QueryContext{Preferences: domain.SearchPreferences{IncludePDF: true, IncludeWeb: true}}
}

func TestSequentialShortCircuit(t *testing.T) {
	plannerMock := llm.NewMockClient(testDim)
	plannerMock.ChatResponse = sequentialPlan
	synthMock := llm.NewMockClient(testDim)
	synthMock.ChatResponse = "The Panigale V4 produces 215 hp [1]."

	vector := &scriptedAgent{typ: domain.AgentTypeVector, results: scriptedResults(domain.AgentTypeVector, "vec", 5, 0.95)}
	pdf := &scriptedAgent{typ: domain.AgentTypePDF}
	web := &scriptedAgent{typ: domain.AgentTypeWeb}

	o := newOrchestrator(plannerMock, synthMock, vector, pdf, web)

	opts := domain.DefaultSearchOptions()
	opts.MaxResults = 5
	resp, err := o.Query(context.Background(), "panigale v4 horsepower", allPrefs(), opts)
	require.NoError(t, err)

	assert.Equal(t, int32(1), vector.calls.Load())
	assert.Zero(t, pdf.calls.Load(), "short-circuits before the pdf agent")
	assert.Zero(t, web.calls.Load(), "short-circuits before the web agent")
	assert.Len(t, resp.Results, 5)
	assert.Equal(t, StateDone, resp.Metrics.State)
	assert.Contains(t, resp.Answer, "215 hp")
}

func TestParallelInvokesAllAgents(t *testing.T) {
	plannerMock := llm.NewMockClient(testDim)
	plannerMock.ChatErr = errors.New("planner down") // trivial plan runs parallel

	synthMock := llm.NewMockClient(testDim)
	synthMock.ChatResponse = "Answer from fused evidence [1][2]."

	vector := &scriptedAgent{typ: domain.AgentTypeVector, results: scriptedResults(domain.AgentTypeVector, "vec", 2, 0.9)}
	pdf := &scriptedAgent{typ: domain.AgentTypePDF, results: scriptedResults(domain.AgentTypePDF, "pdf", 2, 0.8)}
	web := &scriptedAgent{typ: domain.AgentTypeWeb, results: scriptedResults(domain.AgentTypeWeb, "web", 2, 0.7)}

	o := newOrchestrator(plannerMock, synthMock, vector, pdf, web)

	resp, err := o.Query(context.Background(), "chain maintenance", allPrefs(), domain.DefaultSearchOptions())
	require.NoError(t, err)

	assert.Equal(t, int32(1), vector.calls.Load())
	assert.Equal(t, int32(1), pdf.calls.Load())
	assert.Equal(t, int32(1), web.calls.Load())
	assert.True(t, resp.Metrics.Parallel)
	assert.Len(t, resp.Results, 6)
}

func TestAgentFailureDoesNotAbort(t *testing.T) {
	plannerMock := llm.NewMockClient(testDim)
	plannerMock.ChatErr = errors.New("planner down")
	synthMock := llm.NewMockClient(testDim)
	synthMock.ChatResponse = "Partial answer [1]."

	vector := &scriptedAgent{typ: domain.AgentTypeVector, err: errors.New("index down")}
	pdf := &scriptedAgent{typ: domain.AgentTypePDF, results: scriptedResults(domain.AgentTypePDF, "pdf", 3, 0.8)}

	o := newOrchestrator(plannerMock, synthMock, vector, pdf, nil)

	resp, err := o.Query(context.Background(), "brake pad wear limit", allPrefs(), domain.DefaultSearchOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Metrics.AgentErrors)
	assert.True(t, resp.Metrics.Degraded)
	assert.Len(t, resp.Results, 3)
	assert.NotEmpty(t, resp.Answer)
}

func TestAllAgentsFailed(t *testing.T) {
	plannerMock := llm.NewMockClient(testDim)
	plannerMock.ChatErr = errors.New("planner down")
	synthMock := llm.NewMockClient(testDim)

	vector := &scriptedAgent{typ: domain.AgentTypeVector, err: errors.New("index down")}
	pdf := &scriptedAgent{typ: domain.AgentTypePDF, err: errors.New("index down")}

	o := newOrchestrator(plannerMock, synthMock, vector, pdf, nil)

	resp, err := o.Query(context.Background(), "brake pad wear limit", allPrefs(), domain.DefaultSearchOptions())
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	assert.Equal(t, StateFailed, resp.Metrics.State)
}

func TestEmptyRetrievalSaysSo(t *testing.T) {
	plannerMock := llm.NewMockClient(testDim)
	plannerMock.ChatErr = errors.New("planner down")
	synthMock := llm.NewMockClient(testDim)
	synthMock.ChatResponse = "should not be used"

	vector := &scriptedAgent{typ: domain.AgentTypeVector}

	o := newOrchestrator(plannerMock, synthMock, vector, nil, nil)

	resp, err := o.Query(context.Background(), "hovercraft maintenance", allPrefs(), domain.DefaultSearchOptions())
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Contains(t, resp.Answer, "could not find")
	assert.Zero(t, synthMock.ChatCalls, "no synthesis without evidence")
}

func TestDedupKeepsHighestScore(t *testing.T) {
	dup := domain.SearchResult{
		ID:             "vec-0",
		Content:        "duplicate content",
		RelevanceScore: 0.99,
		Source:         domain.SourceRef{AgentType: domain.AgentTypePDF, SourceName: "test", DocumentID: "vec-0"},
	}

	plannerMock := llm.NewMockClient(testDim)
	plannerMock.ChatErr = errors.New("planner down")
	synthMock := llm.NewMockClient(testDim)
	synthMock.ChatResponse = "answer [1]"

	vector := &scriptedAgent{typ: domain.AgentTypeVector, results: scriptedResults(domain.AgentTypeVector, "vec", 3, 0.8)}
	pdf := &scriptedAgent{typ: domain.AgentTypePDF, results: []domain.SearchResult{dup}}

	o := newOrchestrator(plannerMock, synthMock, vector, pdf, nil)

	resp, err := o.Query(context.Background(), "dedup check", allPrefs(), domain.DefaultSearchOptions())
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, r := range resp.Results {
		key := r.DedupKey()
		assert.False(t, seen[key], "no two results share a dedup key")
		seen[key] = true
		if key == "vec-0" {
			assert.InDelta(t, 0.99, r.RelevanceScore, 1e-9, "highest-scored representative wins")
		}
	}
	assert.Len(t, resp.Results, 3)
}

func TestRerankDisabledSortsByAgentScore(t *testing.T) {
	plannerMock := llm.NewMockClient(testDim)
	plannerMock.ChatErr = errors.New("planner down")
	synthMock := llm.NewMockClient(testDim)
	synthMock.ChatResponse = "answer"

	shuffled := []domain.SearchResult{
		{ID: "low", Content: "low score content here", RelevanceScore: 0.2, Source: domain.SourceRef{DocumentID: "low"}},
		{ID: "high", Content: "high score content here", RelevanceScore: 0.9, Source: domain.SourceRef{DocumentID: "high"}},
		{ID: "mid", Content: "mid score content here", RelevanceScore: 0.5, Source: domain.SourceRef{DocumentID: "mid"}},
	}
	vector := &scriptedAgent{typ: domain.AgentTypeVector, results: shuffled}

	o := newOrchestrator(plannerMock, synthMock, vector, nil, nil)

	qc := domain.QueryContext{Preferences: domain.SearchPreferences{SemanticRerank: false}}
	resp, err := o.Query(context.Background(), "ordering check", qc, domain.DefaultSearchOptions())
	require.NoError(t, err)

	require.Len(t, resp.Results, 3)
	assert.Equal(t, "high", resp.Results[0].ID)
	assert.Equal(t, "mid", resp.Results[1].ID)
	assert.Equal(t, "low", resp.Results[2].ID)
	assert.False(t, resp.Metrics.Reranked)
}

func TestRerankFallbackOnEmbeddingFailure(t *testing.T) {
	plannerMock := llm.NewMockClient(testDim)
	plannerMock.ChatErr = errors.New("planner down")
	synthMock := llm.NewMockClient(testDim)
	synthMock.ChatResponse = "answer"
	synthMock.EmbedErr = errors.New("embedding down")

	vector := &scriptedAgent{typ: domain.AgentTypeVector, results: scriptedResults(domain.AgentTypeVector, "vec", 3, 0.9)}

	o := newOrchestrator(plannerMock, synthMock, vector, nil, nil)

	qc := domain.QueryContext{Preferences: domain.SearchPreferences{SemanticRerank: true}}
	resp, err := o.Query(context.Background(), "fallback ordering", qc, domain.DefaultSearchOptions())
	require.NoError(t, err)

	require.Len(t, resp.Results, 3)
	assert.False(t, resp.Metrics.Reranked)
	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].RelevanceScore, resp.Results[i].RelevanceScore)
	}
}

func TestRerankBlendsScores(t *testing.T) {
	plannerMock := llm.NewMockClient(testDim)
	plannerMock.ChatErr = errors.New("planner down")
	synthMock := llm.NewMockClient(testDim)
	synthMock.ChatResponse = "answer"

	vector := &scriptedAgent{typ: domain.AgentTypeVector, results: scriptedResults(domain.AgentTypeVector, "vec", 2, 0.9)}

	o := newOrchestrator(plannerMock, synthMock, vector, nil, nil)

	qc := domain.QueryContext{Preferences: domain.SearchPreferences{SemanticRerank: true}}
	resp, err := o.Query(context.Background(), "blend check", qc, domain.DefaultSearchOptions())
	require.NoError(t, err)

	assert.True(t, resp.Metrics.Reranked)
	for _, r := range resp.Results {
		assert.LessOrEqual(t, r.RelevanceScore, 1.0)
		assert.GreaterOrEqual(t, r.RelevanceScore, 0.0)
	}
}
