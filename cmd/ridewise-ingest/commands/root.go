// Package commands implements the ingestion CLI.
package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ridewise-ai/ridewise/cmd/ridewise-ingest/ui"
)

// Exit codes for scripted callers.
const (
	ExitOK          = 0
	ExitValidation  = 2
	ExitUnavailable = 3
	ExitPartial     = 4
)

// ExitError carries a process exit code alongside the cause.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func exitWith(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

var (
	cfgFile string
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:           "ridewise-ingest",
	Short:         "Ingest motorcycle specification and manual files into the search indices",
	Long:          "Processes CSV specification sheets and PDF owner's manuals, generates embeddings, and uploads the resulting documents to the search indices.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Init(noColor)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		ui.Error("%v", err)

		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}
		return ExitValidation
	}
	return ExitOK
}
