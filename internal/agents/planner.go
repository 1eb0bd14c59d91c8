package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/llm"
	"github.com/ridewise-ai/ridewise/internal/observability"
)

const maxSubQueries = 6

const plannerPromptTemplate = `You are a query planner for a motorcycle knowledge service.
Decompose the user query into between 1 and %d focused sub-queries that together cover the full intent.
Include the original query verbatim when it is already focused.
Decide whether fresh web results would improve the answer (recent models, prices, news) and whether sub-queries are independent enough to run in parallel.

Respond with only a JSON object:
{"sub_queries": ["..."], "use_web_search": true|false, "run_parallel": true|false}

%sUser query: %s`

// Planner decomposes a user query into an execution plan using the
// completion model, degrading to the trivial single-query plan.
type Planner struct {
	completer llm.Completer
	model     string
	logger    *observability.Logger
}

// NewPlanner creates the query planner.
func NewPlanner(completer llm.Completer, model string, logger *observability.Logger) *Planner {
	return &Planner{
		completer: completer,
		model:     model,
		logger:    logger.WithComponent("planner"),
	}
}

type plannerResponse struct {
	SubQueries   []string `json:"sub_queries"`
	UseWebSearch bool     `json:"use_web_search"`
	RunParallel  bool     `json:"run_parallel"`
}

// Plan produces a query plan. Model failures and unparseable responses fall
// back to the trivial plan, never to an error.
func (p *Planner) Plan(ctx context.Context, query string, qc domain.QueryContext) domain.QueryPlan {
	prompt := p.buildPrompt(query, qc.PreviousQueries)

	raw, err := p.completer.Chat(ctx, p.model, prompt)
	if err != nil {
		p.logger.WithContext(ctx).Warn().Err(err).Msg("Planner model unavailable, using trivial plan")
		return domain.TrivialPlan(query, qc.Preferences.IncludeWeb)
	}

	parsed, err := parsePlan(raw)
	if err != nil {
		p.logger.WithContext(ctx).Warn().Err(err).Str("response", truncateForLog(raw)).Msg("Unparseable plan, using trivial plan")
		return domain.TrivialPlan(query, qc.Preferences.IncludeWeb)
	}

	subQueries := make([]string, 0, len(parsed.SubQueries))
	for _, sq := range parsed.SubQueries {
		if s := strings.TrimSpace(sq); s != "" {
			subQueries = append(subQueries, s)
		}
		if len(subQueries) == maxSubQueries {
			break
		}
	}
	if len(subQueries) == 0 {
		return domain.TrivialPlan(query, qc.Preferences.IncludeWeb)
	}

	return domain.QueryPlan{
		OriginalQuery: query,
		SubQueries:    subQueries,
		UseWebSearch:  parsed.UseWebSearch,
		RunParallel:   parsed.RunParallel,
	}
}

func (p *Planner) buildPrompt(query string, previous []string) string {
	history := ""
	if len(previous) > 0 {
		tail := previous
		if len(tail) > 3 {
			tail = tail[len(tail)-3:]
		}
		history = "Recent queries in this session: " + strings.Join(tail, "; ") + "\n"
	}
	return fmt.Sprintf(plannerPromptTemplate, maxSubQueries, history, query)
}

// parsePlan extracts the JSON object from the model response, tolerating
// code fences and surrounding prose.
func parsePlan(raw string) (*plannerResponse, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var parsed plannerResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	return &parsed, nil
}

func truncateForLog(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200]
}
