package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/finwatch/internal/config"
	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/report"
	"github.com/nao1215/finwatch/internal/store"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [company-id...]",
		Short: "Discover, download and diff documents for tracked companies",
		Long: `Run performs one ingestion pass for the given companies, or for every
active company when no id is given.

For each company it:
- replays due entries of the retry ledger
- runs the discovery strategies (Firecrawl, Tavily, SEC EDGAR, HTML scrape,
  regex fallback) and merges their candidates
- downloads each candidate once and records NEW, UPDATED or UNCHANGED
- crawls the investor-relations site and records page changes
- downloads PDFs newly linked from monitored pages

Companies listed in the configuration file are registered first.

Examples:
  # Run every active company
  finwatch run

  # Run two companies and write a Markdown report
  finwatch run 1 3 --markdown -o reports/latest.md

  # Expose Prometheus metrics during the run
  finwatch run --metrics-addr 127.0.0.1:9464`,
		Args: cobra.ArbitraryArgs,
		RunE: runRunCmd,
	}

	addReportFlags(cmd)
	cmd.Flags().String("metrics-addr", "",
		"Serve Prometheus metrics on this address while running")
	cmd.Flags().Duration("soft-deadline", 0,
		"Defer remaining candidates after this long (overrides configuration)")
	cmd.Flags().StringSlice("strategies", nil,
		"Comma separated discovery strategies to enable (overrides configuration)")

	return cmd
}

// parseCompanyIDs converts positional arguments into company ids.
func parseCompanyIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid company id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	ids, err := parseCompanyIDs(args)
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
	if err := a.readRunFlags(cmd); err != nil {
		return err
	}

	// Set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.withStore(func(db *store.DB) error {
		return a.run(ctx, cmd, db, ids)
	})
}

// readRunFlags applies run specific overrides and revalidates.
func (a *app) readRunFlags(cmd *cobra.Command) error {
	if cmd.Flags().Changed("metrics-addr") {
		a.cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr") //nolint:errcheck // Flag is registered above
	}
	if cmd.Flags().Changed("soft-deadline") {
		a.cfg.SoftDeadline, _ = cmd.Flags().GetDuration("soft-deadline") //nolint:errcheck // Flag is registered above
	}
	if cmd.Flags().Changed("strategies") {
		names, _ := cmd.Flags().GetStringSlice("strategies") //nolint:errcheck // Flag is registered above
		a.cfg.Strategies = config.NormalizeStrategies(names)
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	return nil
}

func (a *app) run(ctx context.Context, cmd *cobra.Command, db *store.DB, ids []int64) error {
	created, updated, err := a.syncCompanies(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to register configured companies: %w", err)
	}
	if created+updated > 0 {
		a.logger.Info("configured companies registered", "created", created, "updated", updated)
	}

	eng, err := newEngine(a.cfg, db, a.logger)
	if err != nil {
		return err
	}

	if a.cfg.MetricsAddr != "" {
		shutdown := serveMetrics(a.cfg.MetricsAddr, eng.metrics.Handler(), a.logger)
		defer shutdown()
	}

	a.logger.Info("starting run",
		"companies", len(ids),
		"strategies", eng.strategies,
		"softDeadline", a.cfg.SoftDeadline,
	)

	started := time.Now()
	var summaries []*model.RunSummary
	if len(ids) == 0 {
		summaries, err = eng.coordinator.RunAll(ctx)
	} else {
		summaries, err = eng.coordinator.RunCompanies(ctx, ids)
	}
	a.logger.Info("run finished", "runs", len(summaries), "elapsed", time.Since(started).Round(time.Millisecond))

	// Summaries are reported even when the run was interrupted.
	rep := report.NewRunReport(getVersion(), time.Now().UTC(), summaries)
	if werr := a.writeWith(cmd, func(w report.Writer) error {
		_, e := w.Write(rep)
		return e
	}); werr != nil {
		return errors.Join(err, fmt.Errorf("report failed: %w", werr))
	}

	if err != nil {
		return err
	}
	if n := rep.FailedRuns(); n > 0 {
		return fmt.Errorf("%d of %d company runs failed", n, len(rep.Runs))
	}
	return nil
}

// serveMetrics starts a metrics listener and returns its shutdown function.
func serveMetrics(addr string, handler http.Handler, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics listener shutdown", "error", err)
		}
	}
}
