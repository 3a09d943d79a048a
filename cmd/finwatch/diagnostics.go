package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/report"
	"github.com/nao1215/finwatch/internal/store"
)

// NewDiagnosticsCmd creates the diagnostics command.
func NewDiagnosticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Summarize discovery strategy attempts",
		Long: `Diagnostics aggregates the recorded discovery attempts: how many ran, how
many were blocked or failed, and how long they took.

Examples:
  # Last 24 hours
  finwatch diagnostics

  # Last week as JSON
  finwatch diagnostics --since 168h --json

  # Every attempt of one run
  finwatch diagnostics --run 1f0c8a4e-...`,
		Args: cobra.NoArgs,
		RunE: runDiagnosticsCmd,
	}
	addReportFlags(cmd)
	cmd.Flags().Duration("since", 24*time.Hour, "Look back this far")
	cmd.Flags().String("run", "", "Show the attempts of a single run")
	return cmd
}

func runDiagnosticsCmd(cmd *cobra.Command, _ []string) error {
	since, err := cmd.Flags().GetDuration("since")
	if err != nil {
		return err
	}
	runID, err := cmd.Flags().GetString("run")
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if err := a.readReportFlags(cmd); err != nil {
		return err
	}

	return a.withStore(func(db *store.DB) error {
		rep := &report.DiagnosticsReport{Since: time.Now().UTC().Add(-since), RunID: runID}
		if runID != "" {
			attempts, err := db.ListDiagnostics(cmd.Context(), runID)
			if err != nil {
				return err
			}
			rep.Attempts = attempts
			rep.Summary = model.SummarizeDiagnostics(attempts)
		} else {
			if rep.Summary, err = db.DiagnosticSummary(cmd.Context(), rep.Since); err != nil {
				return err
			}
		}
		return a.writeWith(cmd, func(w report.Writer) error {
			_, err := w.WriteDiagnostics(rep)
			return err
		})
	})
}
