package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for finwatch.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finwatch",
		Short: "Discover and track financial documents of listed companies",
		Long: `finwatch discovers annual reports, quarterly results and other financial
documents of tracked companies, downloads each one once, and records when a
document is new, updated or unchanged. It also watches investor-relations
pages for added, changed and deleted pages and newly linked PDFs.

Failed downloads are kept in a retry ledger and replayed on later runs with
increasing backoff. Domains that block requests are put on cooldown.

State lives in a SQLite database (default: the XDG data directory).`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .finwatch.yaml in current or home directory)")
	cmd.PersistentFlags().String("db-dir", "",
		"Database directory (default: XDG data directory)")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewCompanyCmd())
	cmd.AddCommand(NewChangesCmd())
	cmd.AddCommand(NewRetriesCmd())
	cmd.AddCommand(NewCooldownsCmd())
	cmd.AddCommand(NewDiagnosticsCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
