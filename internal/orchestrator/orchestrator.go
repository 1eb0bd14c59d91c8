// Package orchestrator coordinates the retrieval agents: planning, fan-out,
// dedup, semantic rerank, and answer synthesis.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ridewise-ai/ridewise/internal/agents"
	"github.com/ridewise-ai/ridewise/internal/config"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/llm"
	"github.com/ridewise-ai/ridewise/internal/observability"
	"github.com/ridewise-ai/ridewise/internal/processor"
)

// State tracks the per-query pipeline stage.
type State string

const (
	StatePlanning     State = "planning"
	StateRetrieving   State = "retrieving"
	StateFusing       State = "fusing"
	StateSynthesising State = "synthesising"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

const (
	rerankTruncate   = 1024
	noEvidenceAnswer = "I could not find any relevant information in the motorcycle knowledge base for this question."
)

// Metrics describes how a query was answered.
type Metrics struct {
	State             State         `json:"state"`
	SubQueries        int           `json:"sub_queries"`
	AgentsInvoked     []string      `json:"agents_invoked"`
	AgentErrors       int           `json:"agent_errors"`
	ResultsRetrieved  int           `json:"results_retrieved"`
	ResultsAfterDedup int           `json:"results_after_dedup"`
	Reranked          bool          `json:"reranked"`
	Degraded          bool          `json:"degraded"`
	Parallel          bool          `json:"parallel"`
	Duration          time.Duration `json:"duration_ms"`
}

// Response is the fused answer for one query.
type Response struct {
	QueryID     string                `json:"query_id"`
	Answer      string                `json:"answer"`
	Results     []domain.SearchResult `json:"results"`
	Sources     []domain.SourceRef    `json:"sources"`
	Metrics     Metrics               `json:"metrics"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// Orchestrator owns the retrieval pipeline. A process-wide semaphore bounds
// total concurrent agent calls across all requests.
type Orchestrator struct {
	planner   *agents.Planner
	vector    agents.Agent
	pdf       agents.Agent
	web       agents.Agent
	embedder  llm.Embedder
	completer llm.Completer
	chatModel string
	cfg       config.OrchestratorConfig
	procSem   *semaphore.Weighted
	logger    *observability.Logger
}

// New creates the orchestrator. pdf and web may be nil when the deployment
// runs without those sources.
func New(planner *agents.Planner, vector, pdf, web agents.Agent, embedder llm.Embedder, completer llm.Completer, chatModel string, cfg config.OrchestratorConfig, logger *observability.Logger) *Orchestrator {
	if cfg.MaxConcurrentCalls <= 0 {
		cfg.MaxConcurrentCalls = 8
	}
	if cfg.ProcessCallLimit <= 0 {
		cfg.ProcessCallLimit = 64
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 30 * time.Second
	}
	if cfg.RerankAgentWeight <= 0 && cfg.RerankSemanticWeight <= 0 {
		cfg.RerankAgentWeight = 0.7
		cfg.RerankSemanticWeight = 0.3
	}
	if cfg.SynthesisSnippets <= 0 {
		cfg.SynthesisSnippets = 10
	}

	return &Orchestrator{
		planner:   planner,
		vector:    vector,
		pdf:       pdf,
		web:       web,
		embedder:  embedder,
		completer: completer,
		chatModel: chatModel,
		cfg:       cfg,
		procSem:   semaphore.NewWeighted(cfg.ProcessCallLimit),
		logger:    logger.WithComponent("orchestrator"),
	}
}

// Query runs the full pipeline for one user query.
func (o *Orchestrator) Query(ctx context.Context, query string, qc domain.QueryContext, opts domain.SearchOptions) (*Response, error) {
	ctx, cid := observability.EnsureCorrelationID(ctx)
	opts.Normalize()
	started := time.Now()

	resp := &Response{
		QueryID:     uuid.NewString(),
		GeneratedAt: started.UTC(),
	}
	resp.Metrics.State = StatePlanning

	plan := o.planner.Plan(ctx, query, qc)
	resp.Metrics.SubQueries = len(plan.SubQueries)
	resp.Metrics.Parallel = plan.RunParallel

	participants := o.selectAgents(plan, qc.Preferences)
	for _, agent := range participants {
		resp.Metrics.AgentsInvoked = append(resp.Metrics.AgentsInvoked, string(agent.Type()))
	}

	resp.Metrics.State = StateRetrieving
	var retrieved []domain.SearchResult
	var agentErrors int
	if plan.RunParallel {
		retrieved, agentErrors = o.retrieveParallel(ctx, plan.SubQueries, participants, opts)
	} else {
		retrieved, agentErrors = o.retrieveSequential(ctx, plan.SubQueries, participants, opts)
	}
	resp.Metrics.AgentErrors = agentErrors
	resp.Metrics.ResultsRetrieved = len(retrieved)

	resp.Metrics.State = StateFusing
	fused := dedup(retrieved)
	resp.Metrics.ResultsAfterDedup = len(fused)

	if qc.Preferences.SemanticRerank {
		reranked, ok := o.rerank(ctx, query, fused)
		if ok {
			fused = reranked
			resp.Metrics.Reranked = true
		} else {
			sortByScore(fused)
		}
	} else {
		sortByScore(fused)
	}
	if len(fused) > opts.MaxResults {
		fused = fused[:opts.MaxResults]
	}
	resp.Results = fused
	resp.Sources = sourcesOf(fused)

	if len(fused) == 0 {
		if agentErrors > 0 && agentErrors == len(participants)*len(plan.SubQueries) {
			resp.Metrics.State = StateFailed
			resp.Metrics.Duration = time.Since(started)
			return resp, domain.NewError(domain.KindInternal, "all retrieval agents failed", nil)
		}
		resp.Answer = noEvidenceAnswer
		resp.Metrics.State = StateDone
		resp.Metrics.Duration = time.Since(started)
		return resp, nil
	}

	resp.Metrics.State = StateSynthesising
	answer, err := o.synthesise(ctx, query, fused)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// Deadline hit after retrieval: hand back the fused results.
			resp.Answer = ""
			resp.Metrics.Degraded = true
			resp.Metrics.State = StateDone
			resp.Metrics.Duration = time.Since(started)
			return resp, nil
		}
		o.logger.WithContext(ctx).Error().Err(err).Str("correlation_id", cid).Msg("Answer synthesis failed")
		resp.Metrics.Degraded = true
		answer = "An answer could not be generated, but relevant sources were found. See the attached results."
	}
	if agentErrors > 0 {
		resp.Metrics.Degraded = true
	}

	resp.Answer = answer
	resp.Metrics.State = StateDone
	resp.Metrics.Duration = time.Since(started)
	return resp, nil
}

// selectAgents picks participants in the fixed priority order Vector, PDF,
// Web. Vector always runs; PDF and Web follow the preferences and the plan.
func (o *Orchestrator) selectAgents(plan domain.QueryPlan, prefs domain.SearchPreferences) []agents.Agent {
	selected := []agents.Agent{o.vector}
	if prefs.IncludePDF && o.pdf != nil {
		selected = append(selected, o.pdf)
	}
	if plan.UseWebSearch && prefs.IncludeWeb && o.web != nil {
		selected = append(selected, o.web)
	}
	return selected
}

// retrieveSequential walks sub-queries and agents in priority order,
// stopping as soon as the accumulated unique results reach max_results.
func (o *Orchestrator) retrieveSequential(ctx context.Context, subQueries []string, participants []agents.Agent, opts domain.SearchOptions) ([]domain.SearchResult, int) {
	var all []domain.SearchResult
	agentErrors := 0
	unique := make(map[string]struct{})

	for _, sq := range subQueries {
		for _, agent := range participants {
			if ctx.Err() != nil {
				return all, agentErrors
			}

			results, err := o.invoke(ctx, agent, sq, opts)
			if err != nil {
				agentErrors++
				continue
			}
			all = append(all, results...)
			for i := range results {
				unique[results[i].DedupKey()] = struct{}{}
			}

			if len(unique) >= opts.MaxResults {
				return all, agentErrors
			}
		}
	}
	return all, agentErrors
}

// retrieveParallel fans out every sub-query to every participant at once,
// bounded by the per-request concurrency limit.
func (o *Orchestrator) retrieveParallel(ctx context.Context, subQueries []string, participants []agents.Agent, opts domain.SearchOptions) ([]domain.SearchResult, int) {
	var mu sync.Mutex
	var all []domain.SearchResult
	agentErrors := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrentCalls)

	for _, sq := range subQueries {
		for _, agent := range participants {
			sq, agent := sq, agent
			g.Go(func() error {
				results, err := o.invoke(gctx, agent, sq, opts)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					agentErrors++
					return nil
				}
				all = append(all, results...)
				return nil
			})
		}
	}
	_ = g.Wait()

	return all, agentErrors
}

// invoke runs one agent call under the process-wide call budget and the
// agent timeout. Agent failures are logged and absorbed here.
func (o *Orchestrator) invoke(ctx context.Context, agent agents.Agent, query string, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	if err := o.procSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer o.procSem.Release(1)

	timeout := opts.Timeout
	if o.cfg.AgentTimeout < timeout {
		timeout = o.cfg.AgentTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := agent.Search(callCtx, query, opts)
	if err != nil {
		o.logger.WithContext(ctx).Warn().
			Err(err).
			Str("agent", string(agent.Type())).
			Str("sub_query", query).
			Msg("Agent failed, continuing without it")
		return nil, err
	}
	return results, nil
}

// dedup keeps the highest-scored representative per document identity.
func dedup(results []domain.SearchResult) []domain.SearchResult {
	best := make(map[string]domain.SearchResult)
	order := make([]string, 0, len(results))

	for _, r := range results {
		key := r.DedupKey()
		existing, ok := best[key]
		if !ok {
			best[key] = r
			order = append(order, key)
			continue
		}
		if r.RelevanceScore > existing.RelevanceScore {
			best[key] = r
		}
	}

	out := make([]domain.SearchResult, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// rerank blends the agent score with query-document cosine similarity.
// Returns ok=false when embedding fails, so the caller can fall back to the
// agent score ordering.
func (o *Orchestrator) rerank(ctx context.Context, query string, results []domain.SearchResult) ([]domain.SearchResult, bool) {
	if len(results) == 0 {
		return results, true
	}

	qVec, err := o.embedder.Embed(ctx, "", query)
	if err != nil {
		o.logger.WithContext(ctx).Warn().Err(err).Msg("Rerank embedding failed, sorting by agent score")
		return nil, false
	}

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = truncate(r.Content, rerankTruncate)
	}
	docVecs, err := o.embedder.EmbedBatch(ctx, "", texts)
	if err != nil {
		o.logger.WithContext(ctx).Warn().Err(err).Msg("Rerank batch embedding failed, sorting by agent score")
		return nil, false
	}

	wAgent := o.cfg.RerankAgentWeight
	wSem := o.cfg.RerankSemanticWeight
	blended := make([]domain.SearchResult, len(results))
	copy(blended, results)
	for i := range blended {
		sim := processor.Cosine(qVec, docVecs[i])
		if sim < 0 {
			sim = 0
		}
		blended[i].RelevanceScore = wAgent*blended[i].RelevanceScore + wSem*sim
	}
	sortByScore(blended)
	return blended, true
}

func sortByScore(results []domain.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
}

func sourcesOf(results []domain.SearchResult) []domain.SourceRef {
	sources := make([]domain.SourceRef, len(results))
	for i, r := range results {
		sources[i] = r.Source
	}
	return sources
}

// synthesise builds the bounded evidence prompt and requests the final
// answer, instructing the model to cite snippet ids or refuse.
func (o *Orchestrator) synthesise(ctx context.Context, query string, results []domain.SearchResult) (string, error) {
	n := o.cfg.SynthesisSnippets
	if n > len(results) {
		n = len(results)
	}

	var b strings.Builder
	b.WriteString("Answer the user's motorcycle question using ONLY the evidence snippets below.\n")
	b.WriteString("Cite the snippet ids you used in square brackets, e.g. [2].\n")
	b.WriteString("If the snippets do not contain enough evidence, say so explicitly instead of guessing.\n\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "[%d] (%s) %s\n\n", i+1, results[i].Source.SourceName, truncate(results[i].Content, rerankTruncate))
	}
	b.WriteString("Question: ")
	b.WriteString(query)

	return o.completer.Chat(ctx, o.chatModel, b.String())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
