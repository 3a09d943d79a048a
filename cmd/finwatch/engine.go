package main

import (
	"fmt"
	"log/slog"

	"github.com/nao1215/finwatch/internal/config"
	"github.com/nao1215/finwatch/internal/crawler"
	"github.com/nao1215/finwatch/internal/dedup"
	"github.com/nao1215/finwatch/internal/ingest"
	"github.com/nao1215/finwatch/internal/metrics"
	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/netclient"
	"github.com/nao1215/finwatch/internal/pagediff"
	"github.com/nao1215/finwatch/internal/retry"
	"github.com/nao1215/finwatch/internal/source"
	"github.com/nao1215/finwatch/internal/store"
	"github.com/nao1215/finwatch/internal/strategy"
	"github.com/nao1215/finwatch/internal/throttle"
)

// engine is the wired ingestion stack of one process.
type engine struct {
	coordinator *ingest.Coordinator
	ledger      *retry.Ledger
	metrics     *metrics.Metrics
	strategies  []model.StrategyKind
}

// newBackoff returns the configured retry backoff.
func newBackoff(cfg *config.Config) retry.Backoff {
	if cfg.BackoffPolicy == config.BackoffLinear {
		return retry.Linear{Step: cfg.BackoffBase, Cap: cfg.BackoffCap}
	}
	return retry.Exponential{Base: cfg.BackoffBase, Factor: 2, Cap: cfg.BackoffCap}
}

// newLedger builds the retry ledger. Retry management commands use it
// without the rest of the engine.
func newLedger(cfg *config.Config, db *store.DB, logger *slog.Logger, m *metrics.Metrics) *retry.Ledger {
	return retry.NewLedger(db,
		retry.WithBackoff(newBackoff(cfg)),
		retry.WithCeiling(cfg.RetryCeiling),
		retry.WithLogger(logger),
		retry.WithMetrics(m),
	)
}

// buildStrategies returns the enabled discovery strategies. Remote
// strategies without an API key are still registered; every run records
// them as skipped.
func buildStrategies(cfg *config.Config, fetcher *crawler.Fetcher, crawls *crawler.SiteCrawls, opts []source.Option, logger *slog.Logger) []strategy.Strategy {
	var out []strategy.Strategy

	if cfg.StrategyEnabled(model.StrategyFirecrawl) {
		if cfg.FirecrawlAPIKey == "" {
			logger.Warn("firecrawl strategy will be skipped: no API key", "env", config.EnvFirecrawlAPIKey)
		}
		fc := source.NewFirecrawl(cfg.FirecrawlAPIKey, cfg.FirecrawlLimit, append(opts, source.WithBaseURL(cfg.FirecrawlURL))...)
		out = append(out, fc.Strategy())
	}
	if cfg.StrategyEnabled(model.StrategyTavily) {
		if cfg.TavilyAPIKey == "" {
			logger.Warn("tavily strategy will be skipped: no API key", "env", config.EnvTavilyAPIKey)
		}
		tv := source.NewTavily(cfg.TavilyAPIKey, append(opts, source.WithBaseURL(cfg.TavilyURL))...)
		out = append(out, tv.Strategy())
	}
	if cfg.StrategyEnabled(model.StrategyEDGAR) {
		ed := source.NewEDGAR(cfg.EDGARURL, append(opts, source.WithBaseURL(cfg.EDGARURL))...)
		out = append(out, ed.Strategy())
	}
	if cfg.StrategyEnabled(model.StrategyHTMLScrape) {
		out = append(out, crawler.NewHTMLScrapeStrategy(crawls))
	}
	if cfg.StrategyEnabled(model.StrategyRegexFallback) {
		out = append(out, crawler.NewRegexStrategy(fetcher))
	}
	return out
}

// newEngine wires the ingestion stack from cfg on top of db.
func newEngine(cfg *config.Config, db *store.DB, logger *slog.Logger) (*engine, error) {
	m := metrics.New()

	th := throttle.New(
		throttle.WithDefaultCooldown(cfg.Cooldown),
		throttle.WithMinDelay(cfg.MinRequestDelay),
		throttle.WithLogger(logger),
	)

	nc, err := netclient.New(
		netclient.WithProxy(cfg.ProxyAddress),
		netclient.WithTimeout(cfg.FetchTimeout),
		netclient.WithUserAgent(cfg.UserAgent),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	hc := nc.HTTPClient()

	fetcher := crawler.NewFetcher(hc,
		crawler.WithThrottle(th),
		crawler.WithFetcherLogger(logger),
		crawler.WithUserAgent(cfg.UserAgent),
		crawler.WithMaxDocumentSize(cfg.MaxDocumentSize),
	)
	crawls := crawler.NewSiteCrawls(crawler.NewSpider(fetcher, crawler.WithMaxPages(cfg.MaxPages)))

	sourceOpts := []source.Option{source.WithHTTPClient(hc), source.WithUserAgent(cfg.UserAgent)}
	strategies := buildStrategies(cfg, fetcher, crawls, sourceOpts, logger)
	if len(strategies) == 0 {
		return nil, &model.ConfigurationError{Component: "discovery", Reason: "no discovery strategy is enabled"}
	}

	orchestrator := strategy.NewOrchestrator(strategies,
		strategy.WithThrottle(th),
		strategy.WithDiagnosticSink(db),
		strategy.WithMetrics(m),
		strategy.WithLogger(logger),
		strategy.WithTimeout(cfg.StrategyTimeout),
		strategy.WithConcurrency(cfg.StrategyConcurrency),
	)

	ledger := newLedger(cfg, db, logger, m)
	deduper := dedup.New(db, ledger,
		dedup.WithLogger(logger),
		dedup.WithMetrics(m),
		dedup.WithReviewThreshold(cfg.ReviewThreshold),
	)
	differ := pagediff.New(db,
		pagediff.WithLogger(logger),
		pagediff.WithMetrics(m),
		pagediff.WithMaxConsecutiveFailures(cfg.MaxPageFailures),
	)

	opts := []ingest.Option{
		ingest.WithThrottle(th),
		ingest.WithLogger(logger),
		ingest.WithMetrics(m),
		ingest.WithFetchConcurrency(cfg.FetchConcurrency),
		ingest.WithCompanyConcurrency(cfg.CompanyConcurrency),
		ingest.WithSoftDeadline(cfg.SoftDeadline),
	}
	if cfg.ClassifierURL != "" {
		opts = append(opts, ingest.WithClassifier(source.NewClassifier(cfg.ClassifierURL, sourceOpts...)))
	}

	coordinator, err := ingest.NewCoordinator(ingest.Deps{
		Store:      db,
		Discoverer: orchestrator,
		Fetcher:    fetcher,
		Dedup:      deduper,
		Ledger:     ledger,
		Pages:      crawler.NewObserver(crawls),
		Differ:     differ,
	}, opts...)
	if err != nil {
		return nil, err
	}

	return &engine{
		coordinator: coordinator,
		ledger:      ledger,
		metrics:     m,
		strategies:  orchestrator.Kinds(),
	}, nil
}
