package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"github.com/ridewise-ai/ridewise/cmd/ridewise-ingest/ui"
	"github.com/ridewise-ai/ridewise/internal/config"
	"github.com/ridewise-ai/ridewise/internal/domain"
	"github.com/ridewise-ai/ridewise/internal/httpclient"
	"github.com/ridewise-ai/ridewise/internal/indexing"
	"github.com/ridewise-ai/ridewise/internal/llm"
	"github.com/ridewise-ai/ridewise/internal/observability"
	"github.com/ridewise-ai/ridewise/internal/resilience"
	"github.com/ridewise-ai/ridewise/internal/search"
)

// toolbox bundles the clients a single ingestion run needs.
type toolbox struct {
	cfg      *config.Config
	logger   *observability.Logger
	llm      *llm.Client
	index    search.Index
	indexing *indexing.Service
	res      *resilience.Service
	http     *http.Client
}

// newToolbox loads configuration and constructs the shared clients.
func newToolbox() (*toolbox, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, exitWith(ExitValidation, fmt.Errorf("load config: %w", err))
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "ridewise-ingest",
	})

	hc := httpclient.New(cfg.HTTPClients)
	res := resilience.NewService(logger, cfg.Resilience)

	llmClient, err := llm.NewClient(llm.ClientConfig{
		Endpoint:  cfg.AzureAI.OpenAIEndpoint,
		APIKey:    cfg.AzureAI.OpenAIAPIKey,
		Models:    cfg.AzureAI.Models,
		Dimension: cfg.Search.VectorDimension,
	}, hc, res, logger)
	if err != nil {
		return nil, exitWith(ExitValidation, err)
	}

	index, err := search.NewClient(cfg.AzureAI.SearchEndpoint, cfg.AzureAI.SearchAPIKey, hc, res, logger)
	if err != nil {
		return nil, exitWith(ExitValidation, err)
	}

	return &toolbox{
		cfg:      cfg,
		logger:   logger,
		llm:      llmClient,
		index:    index,
		indexing: indexing.NewService(index, cfg.Search, logger),
		res:      res,
		http:     hc,
	}, nil
}

// classifyExit maps a processing or wiring error onto an exit code.
func classifyExit(err error) error {
	switch domain.KindOf(err) {
	case domain.KindCircuitOpen, domain.KindTimeout, domain.KindUpstreamTerminal:
		return exitWith(ExitUnavailable, err)
	case domain.KindValidation, domain.KindConfig:
		return exitWith(ExitValidation, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return exitWith(ExitUnavailable, err)
	}
	return exitWith(ExitValidation, err)
}

// uploadDocuments pushes documents to the index in slices so the progress bar
// advances as batches complete, and merges the per-slice reports.
func uploadDocuments(ctx context.Context, tb *toolbox, indexName string, docs []domain.MotorcycleDocument) (*indexing.Report, error) {
	combined := &indexing.Report{Failed: make(map[string]string)}
	if len(docs) == 0 {
		return combined, nil
	}

	bar := ui.NewProgressBar(len(docs), "uploading")
	slice := tb.cfg.Search.BatchSize
	if slice <= 0 {
		slice = 250
	}

	for start := 0; start < len(docs); start += slice {
		end := start + slice
		if end > len(docs) {
			end = len(docs)
		}

		report, err := tb.indexing.IndexDocuments(ctx, indexName, docs[start:end])
		if err != nil {
			return nil, err
		}

		combined.Total += report.Total
		combined.Succeeded += report.Succeeded
		for id, msg := range report.Failed {
			combined.Failed[id] = msg
		}
		combined.BatchErrors = append(combined.BatchErrors, report.BatchErrors...)
		_ = bar.Add(end - start)
	}
	_ = bar.Finish()

	return combined, nil
}

// reportOutcome prints the upload summary and returns the exit error for
// partial or total failures.
func reportOutcome(report *indexing.Report, skipped []string) error {
	for _, msg := range skipped {
		ui.Warning("%s", msg)
	}

	if len(report.BatchErrors) > 0 {
		for _, msg := range report.BatchErrors {
			ui.Error("batch failed: %s", msg)
		}
	}

	switch {
	case report.Total == 0:
		ui.Warning("No documents to upload")
		return nil
	case report.Succeeded == 0:
		return exitWith(ExitUnavailable, fmt.Errorf("no documents were indexed (%d attempted)", report.Total))
	case report.PartialFailure():
		ui.Warning("Indexed %d of %d documents", report.Succeeded, report.Total)
		return exitWith(ExitPartial, fmt.Errorf("%d of %d documents failed to index", report.Total-report.Succeeded, report.Total))
	}

	ui.Success("Indexed %d documents", report.Succeeded)
	return nil
}
