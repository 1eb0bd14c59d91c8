// Package main provides the API server for the motorcycle QA service.
package main

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ridewise-ai/ridewise/cmd/ridewise-api/handlers"
	"github.com/ridewise-ai/ridewise/cmd/ridewise-api/middleware"
	"github.com/ridewise-ai/ridewise/internal/agents"
	"github.com/ridewise-ai/ridewise/internal/cache"
	"github.com/ridewise-ai/ridewise/internal/config"
	"github.com/ridewise-ai/ridewise/internal/httpclient"
	"github.com/ridewise-ai/ridewise/internal/indexing"
	"github.com/ridewise-ai/ridewise/internal/llm"
	"github.com/ridewise-ai/ridewise/internal/observability"
	"github.com/ridewise-ai/ridewise/internal/orchestrator"
	"github.com/ridewise-ai/ridewise/internal/resilience"
	"github.com/ridewise-ai/ridewise/internal/search"
	"github.com/ridewise-ai/ridewise/internal/websearch"
)

// app holds the process-scoped services behind the HTTP surface.
type app struct {
	orchestrator *orchestrator.Orchestrator
	indexing     *indexing.Service
	queryCache   *cache.QueryCache
}

// newApp wires the shared clients, agents, and the orchestrator.
func newApp(cfg *config.Config, logger *observability.Logger) (*app, error) {
	httpClient := httpclient.New(cfg.HTTPClients)
	res := resilience.NewService(logger, cfg.Resilience)

	llmClient, err := llm.NewClient(llm.ClientConfig{
		Endpoint:  cfg.AzureAI.OpenAIEndpoint,
		APIKey:    cfg.AzureAI.OpenAIAPIKey,
		Models:    cfg.AzureAI.Models,
		Dimension: cfg.Search.VectorDimension,
	}, httpClient, res, logger)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	index, err := search.NewClient(cfg.AzureAI.SearchEndpoint, cfg.AzureAI.SearchAPIKey, httpClient, res, logger)
	if err != nil {
		return nil, fmt.Errorf("create search client: %w", err)
	}

	queryCache, err := cache.NewQueryCache(cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}

	vectorAgent := agents.NewVectorAgent(index, llmClient, queryCache, cfg.Search.IndexName, logger)
	pdfAgent := agents.NewPDFAgent(index, llmClient, queryCache, logger)

	var webAgent agents.Agent
	if cfg.WebSearch.Endpoint != "" {
		searcher, err := websearch.NewClient(cfg.WebSearch, httpClient, res, logger)
		if err != nil {
			return nil, fmt.Errorf("create websearch client: %w", err)
		}
		webAgent = agents.NewWebAgent(searcher, queryCache, logger)
	} else {
		logger.Warn().Msg("No websearch endpoint configured, web augmentation disabled")
	}

	planner := agents.NewPlanner(llmClient, cfg.AzureAI.Models.Planner, logger)
	orch := orchestrator.New(planner, vectorAgent, pdfAgent, webAgent, llmClient, llmClient,
		cfg.AzureAI.Models.Chat, cfg.Orchestrator, logger)

	return &app{
		orchestrator: orch,
		indexing:     indexing.NewService(index, cfg.Search, logger),
		queryCache:   queryCache,
	}, nil
}

func (a *app) close() {
	if a.queryCache != nil {
		_ = a.queryCache.Close()
	}
}

// NewRouter creates the API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg *config.Config, a *app) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Correlation)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.Server.WriteTimeout))

	queryHandler := handlers.NewQueryHandler(logger, a.orchestrator, cfg.Server.RequestDeadline)
	healthHandler := handlers.NewHealthHandler(logger, a.indexing, a.queryCache)

	r.Route("/api/motorcycles", func(r chi.Router) {
		r.Post("/query", queryHandler.Query)
		r.Get("/health", healthHandler.Health)
	})

	return r
}
