package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ridewise-ai/ridewise/cmd/ridewise-ingest/ui"
	"github.com/ridewise-ai/ridewise/internal/layout"
	"github.com/ridewise-ai/ridewise/internal/processor"
	"github.com/ridewise-ai/ridewise/internal/search"
)

var pdfIndexName string

var pdfCmd = &cobra.Command{
	Use:   "pdf <file>",
	Short: "Ingest a PDF owner's manual",
	Long:  "Runs layout analysis on a PDF manual, chunks the content by structure, embeds each chunk, and uploads the documents to the manuals index.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPDF,
}

func init() {
	pdfCmd.Flags().StringVar(&pdfIndexName, "index", search.PDFIndexName, "target index name")
	rootCmd.AddCommand(pdfCmd)
}

func runPDF(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return exitWith(ExitValidation, fmt.Errorf("read %s: %w", path, err))
	}

	tb, err := newToolbox()
	if err != nil {
		return err
	}

	analyzer, err := layout.NewClient(tb.cfg.AzureAI.DocIntelligenceEndpoint, tb.cfg.AzureAI.DocIntelligenceAPIKey, tb.http, tb.res, tb.logger)
	if err != nil {
		return exitWith(ExitValidation, err)
	}

	ui.Section("PDF Ingestion")
	ui.Info("File:  %s", path)
	ui.Info("Index: %s", pdfIndexName)
	ui.Info("Size:  %d bytes", len(data))

	spin := ui.NewSpinner("ensuring index schemas")
	if err := tb.indexing.EnsureSchemas(ctx); err != nil {
		spin.Stop()
		return classifyExit(err)
	}

	spin.Update("analyzing document layout")
	proc := processor.NewPDFProcessor(analyzer, tb.llm, tb.llm, tb.cfg.Ingestion,
		tb.cfg.AzureAI.Models.Vision, tb.cfg.Search.VectorDimension, tb.logger)
	result, err := proc.Process(ctx, path, data)
	spin.Stop()
	if err != nil {
		return classifyExit(err)
	}
	if !result.Success {
		for _, msg := range result.Errors {
			ui.Error("%s", msg)
		}
		return exitWith(ExitValidation, fmt.Errorf("pdf rejected: %s", result.Message))
	}

	ui.Info("Chunks: %d", len(result.Data.Documents))

	report, err := uploadDocuments(ctx, tb, pdfIndexName, result.Data.Documents)
	if err != nil {
		return classifyExit(err)
	}

	return reportOutcome(report, result.Errors)
}
