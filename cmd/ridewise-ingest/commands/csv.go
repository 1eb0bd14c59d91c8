package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ridewise-ai/ridewise/cmd/ridewise-ingest/ui"
	"github.com/ridewise-ai/ridewise/internal/processor"
	"github.com/ridewise-ai/ridewise/internal/search"
)

var csvIndexName string

var csvCmd = &cobra.Command{
	Use:   "csv <file>",
	Short: "Ingest a CSV specification sheet",
	Long:  "Parses a CSV specification sheet, groups rows by motorcycle, embeds each group, and uploads the documents to the specs index.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCSV,
}

func init() {
	csvCmd.Flags().StringVar(&csvIndexName, "index", search.CSVIndexName, "target index name")
	rootCmd.AddCommand(csvCmd)
}

func runCSV(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return exitWith(ExitValidation, fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()

	tb, err := newToolbox()
	if err != nil {
		return err
	}

	ui.Section("CSV Ingestion")
	ui.Info("File:  %s", path)
	ui.Info("Index: %s", csvIndexName)

	spin := ui.NewSpinner("ensuring index schemas")
	if err := tb.indexing.EnsureSchemas(ctx); err != nil {
		spin.Stop()
		return classifyExit(err)
	}

	spin.Update("parsing and embedding rows")
	proc := processor.NewCSVProcessor(tb.llm, tb.cfg.Ingestion, tb.cfg.Search.VectorDimension, tb.logger)
	result, err := proc.Process(ctx, path, f)
	spin.Stop()
	if err != nil {
		return classifyExit(err)
	}
	if !result.Success {
		for _, msg := range result.Errors {
			ui.Error("%s", msg)
		}
		return exitWith(ExitValidation, fmt.Errorf("csv rejected: %s", result.Message))
	}

	ui.Info("Documents: %d", len(result.Data.Documents))

	report, err := uploadDocuments(ctx, tb, csvIndexName, result.Data.Documents)
	if err != nil {
		return classifyExit(err)
	}

	return reportOutcome(report, result.Errors)
}
