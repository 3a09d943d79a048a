package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/finwatch/internal/config"
	"github.com/nao1215/finwatch/internal/log"
	"github.com/nao1215/finwatch/internal/report"
	"github.com/nao1215/finwatch/internal/store"
)

// app holds what every subcommand needs: the merged configuration, the
// loaded configuration file and a logger.
type app struct {
	cfg    *config.Config
	file   *config.File
	logger *slog.Logger
}

// getBoolFlag retrieves a flag from the command or the root's persistent flags.
func getBoolFlag(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		v, err = cmd.Root().PersistentFlags().GetBool(name)
		if err != nil {
			return false
		}
	}
	return v
}

func getStringFlag(cmd *cobra.Command, name string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		v, err = cmd.Root().PersistentFlags().GetString(name)
		if err != nil {
			return ""
		}
	}
	return v
}

// newApp loads configuration in the order defaults, file, environment,
// global flags and validates the result. The logger is installed as the
// slog default.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, file, err := config.Load(getStringFlag(cmd, "config"), os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if dir := getStringFlag(cmd, "db-dir"); dir != "" {
		cfg.DBDir = dir
	}
	cfg.Verbose = getBoolFlag(cmd, "verbose")
	cfg.LogJSON = getBoolFlag(cmd, "log-json")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	logger := log.New(cmd.ErrOrStderr(), log.Options{Verbose: cfg.Verbose, JSON: cfg.LogJSON})
	slog.SetDefault(logger)

	return &app{cfg: cfg, file: file, logger: logger}, nil
}

// openStore opens the database in the configured directory.
func (a *app) openStore() (*store.DB, error) {
	db, err := store.Open(a.cfg.DBDir, store.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.logger.Debug("database opened", "path", db.Path())
	return db, nil
}

// withStore opens the store, runs fn and closes the store.
func (a *app) withStore(fn func(db *store.DB) error) error {
	db, err := a.openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

// addReportFlags registers --json, --markdown and --output on cmd.
func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write output to specified file path (creates directories if needed)")
}

// readReportFlags copies the report flags into the configuration.
func (a *app) readReportFlags(cmd *cobra.Command) error {
	var err error
	if a.cfg.JSONReport, err = cmd.Flags().GetBool("json"); err != nil {
		return err
	}
	if a.cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown"); err != nil {
		return err
	}
	if a.cfg.ReportFile, err = cmd.Flags().GetString("output"); err != nil {
		return err
	}
	if a.cfg.JSONReport && a.cfg.MarkdownReport {
		return fmt.Errorf("configuration error: %w", config.ErrConflictingReportFormats)
	}
	return nil
}

// output opens the report destination and returns the matching writer.
// The returned close function must be called when done.
func (a *app) output(cmd *cobra.Command) (report.Writer, func() error, error) {
	var w io.Writer = cmd.OutOrStdout()
	closeFn := func() error { return nil }

	if a.cfg.ReportFile != "" {
		dir := filepath.Dir(a.cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		f, err := os.OpenFile(a.cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create output file: %w", err)
		}
		w = f
		closeFn = f.Close
	}

	switch {
	case a.cfg.JSONReport:
		return report.NewJSONWriter(w, report.WithPrettyPrint()), closeFn, nil
	case a.cfg.MarkdownReport:
		return report.NewMarkdownWriter(w), closeFn, nil
	default:
		return report.NewSimpleWriter(w, report.WithVerbose(a.cfg.Verbose)), closeFn, nil
	}
}

// writeWith opens the output, calls fn with the writer and closes it.
func (a *app) writeWith(cmd *cobra.Command, fn func(w report.Writer) error) error {
	w, closeFn, err := a.output(cmd)
	if err != nil {
		return err
	}
	if err := fn(w); err != nil {
		_ = closeFn() //nolint:errcheck // The write error is more useful
		return err
	}
	return closeFn()
}

// syncCompanies registers the configuration file's companies, matching
// existing rows by website URL. It returns the number created and updated.
func (a *app) syncCompanies(ctx context.Context, db *store.DB) (created, updated int, err error) {
	if a.file == nil {
		return 0, 0, nil
	}
	for _, entry := range a.file.Companies {
		want := entry.Company()
		if err := want.Validate(); err != nil {
			return created, updated, fmt.Errorf("company %q in %s: %w", entry.Name, a.cfg.ConfigFilePath, err)
		}

		existing, err := db.FindCompanyByURL(ctx, want.WebsiteURL)
		if err != nil {
			return created, updated, err
		}
		if existing == nil {
			if err := db.CreateCompany(ctx, want); err != nil {
				return created, updated, err
			}
			created++
			continue
		}
		if existing.Name == want.Name && existing.CrawlDepth == want.CrawlDepth && existing.Active == want.Active {
			continue
		}
		existing.Name = want.Name
		existing.CrawlDepth = want.CrawlDepth
		existing.Active = want.Active
		if err := db.UpdateCompany(ctx, existing); err != nil {
			return created, updated, err
		}
		updated++
	}
	return created, updated, nil
}
