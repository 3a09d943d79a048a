package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/finwatch/internal/clock"
	"github.com/nao1215/finwatch/internal/dedup"
	"github.com/nao1215/finwatch/internal/metrics"
	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/strategy"
	"github.com/nao1215/finwatch/internal/throttle"
)

const (
	// DefaultFetchConcurrency bounds concurrent document fetches per run.
	DefaultFetchConcurrency = 4
	// DefaultCompanyConcurrency bounds concurrent company runs in RunAll.
	DefaultCompanyConcurrency = 2
	// DefaultRetryBatch caps the due retries replayed per run.
	DefaultRetryBatch = 50
)

// ErrRunInProgress is returned when a company is already being run.
var ErrRunInProgress = errors.New("run already in progress for company")

// Store is the persistence the coordinator reads directly.
type Store interface {
	GetCompany(ctx context.Context, id int64) (*model.Company, error)
	ListCompanies(ctx context.Context, activeOnly bool) ([]*model.Company, error)
	ListPages(ctx context.Context, companyID int64, activeOnly bool) ([]*model.PageSnapshot, error)
	LoadCooldowns(ctx context.Context, now time.Time) ([]model.DomainCooldown, error)
	SaveCooldowns(ctx context.Context, cooldowns []model.DomainCooldown) error
}

// Discoverer finds document candidates for a company.
type Discoverer interface {
	Discover(ctx context.Context, company *model.Company, runID string) (*strategy.Result, error)
}

// DocumentFetcher downloads and validates a document.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, docURL string) (*model.Payload, error)
}

// PageObserver crawls monitored pages.
type PageObserver interface {
	Crawl(ctx context.Context, company *model.Company) ([]model.PageObservation, error)
	Observe(ctx context.Context, companyID int64, pageURL string) model.PageObservation
}

// Deduper resolves fetch results into document state.
type Deduper interface {
	Resolve(ctx context.Context, cand model.DiscoveryCandidate, c dedup.Content) (*dedup.Outcome, error)
	Fail(ctx context.Context, cand model.DiscoveryCandidate, cause error) (*dedup.Outcome, error)
	ApplyClassification(ctx context.Context, companyID int64, url, docType string, confidence float64) (*model.Document, error)
}

// PageDiffer classifies page observations.
type PageDiffer interface {
	Observe(ctx context.Context, obs model.PageObservation) (*model.PageChange, error)
}

// Ledger is the retry ledger as seen by the coordinator.
type Ledger interface {
	Due(ctx context.Context, companyID int64, limit int) ([]*model.RetryRecord, error)
	Defer(ctx context.Context, companyID int64, documentURL, note string) (*model.RetryRecord, error)
}

// Classifier labels new and updated documents.
type Classifier interface {
	Classify(ctx context.Context, doc *model.Document, content []byte) (*model.Classification, error)
}

// Deps are the collaborators of a Coordinator. Pages and Differ are
// optional together; without them page monitoring is skipped.
type Deps struct {
	Store      Store
	Discoverer Discoverer
	Fetcher    DocumentFetcher
	Dedup      Deduper
	Ledger     Ledger
	Pages      PageObserver
	Differ     PageDiffer
}

func (d Deps) validate() error {
	switch {
	case d.Store == nil:
		return &model.ConfigurationError{Component: "coordinator", Reason: "store is required"}
	case d.Discoverer == nil:
		return &model.ConfigurationError{Component: "coordinator", Reason: "discoverer is required"}
	case d.Fetcher == nil:
		return &model.ConfigurationError{Component: "coordinator", Reason: "fetcher is required"}
	case d.Dedup == nil:
		return &model.ConfigurationError{Component: "coordinator", Reason: "deduplicator is required"}
	case d.Ledger == nil:
		return &model.ConfigurationError{Component: "coordinator", Reason: "retry ledger is required"}
	case (d.Pages == nil) != (d.Differ == nil):
		return &model.ConfigurationError{Component: "coordinator", Reason: "page observer and differ must be set together"}
	}
	return nil
}

// Coordinator drives company runs: retry replay, discovery, document
// ingestion and page monitoring.
//
// A run is a Pipeline of steps over one Run value. Due retries are queued
// first, then discovered candidates; a URL is processed at most once per
// run. Documents are fetched with bounded concurrency. Once the soft
// deadline passes, remaining candidates are deferred to the ledger instead
// of fetched, and candidates on a cooling-down domain are deferred the
// same way.
//
// Design decision: the coordinator holds no lock per URL. Per-run dedupe
// keeps one run from fetching a URL twice, every entity write is a single
// store transaction, and a company can only be run by one caller at a
// time (ErrRunInProgress). Together these give the same guarantees with
// far less coordination between goroutines.
type Coordinator struct {
	deps       Deps
	classifier Classifier
	throttle   *throttle.Throttle
	clock      clock.Clock
	ids        clock.IDGenerator
	logger     *slog.Logger
	metrics    *metrics.Metrics

	fetchConcurrency   int
	companyConcurrency int
	softDeadline       time.Duration
	retryBatch         int

	mu      sync.Mutex
	running map[int64]struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClassifier enables classification of new and updated documents.
func WithClassifier(c Classifier) Option {
	return func(co *Coordinator) {
		co.classifier = c
	}
}

// WithThrottle persists the throttle's cooldowns across runs.
func WithThrottle(t *throttle.Throttle) Option {
	return func(co *Coordinator) {
		co.throttle = t
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) {
		co.clock = c
	}
}

// WithIDGenerator sets the run ID generator.
func WithIDGenerator(g clock.IDGenerator) Option {
	return func(co *Coordinator) {
		co.ids = g
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(co *Coordinator) {
		co.logger = logger
	}
}

// WithMetrics records run outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(co *Coordinator) {
		co.metrics = m
	}
}

// WithFetchConcurrency bounds concurrent document fetches within a run.
func WithFetchConcurrency(n int) Option {
	return func(co *Coordinator) {
		if n > 0 {
			co.fetchConcurrency = n
		}
	}
}

// WithCompanyConcurrency bounds concurrent company runs.
func WithCompanyConcurrency(n int) Option {
	return func(co *Coordinator) {
		if n > 0 {
			co.companyConcurrency = n
		}
	}
}

// WithSoftDeadline sets how long a run may keep fetching before remaining
// candidates are deferred to the retry ledger. Zero disables it.
func WithSoftDeadline(d time.Duration) Option {
	return func(co *Coordinator) {
		if d >= 0 {
			co.softDeadline = d
		}
	}
}

// WithRetryBatch caps how many due retries one run replays.
func WithRetryBatch(n int) Option {
	return func(co *Coordinator) {
		if n > 0 {
			co.retryBatch = n
		}
	}
}

// NewCoordinator creates a Coordinator. It fails with a
// *model.ConfigurationError when a required collaborator is missing.
func NewCoordinator(deps Deps, opts ...Option) (*Coordinator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		deps:               deps,
		clock:              clock.Real{},
		ids:                clock.UUIDGenerator{},
		logger:             slog.Default(),
		fetchConcurrency:   DefaultFetchConcurrency,
		companyConcurrency: DefaultCompanyConcurrency,
		retryBatch:         DefaultRetryBatch,
		running:            make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// steps builds the pipeline of one run.
func (c *Coordinator) steps() []Step {
	steps := []Step{
		&replayStep{c: c},
		&discoverStep{c: c},
		&documentStep{c: c, name: "ingest-documents"},
	}
	if c.deps.Pages != nil {
		steps = append(steps,
			&pageStep{c: c},
			&documentStep{c: c, name: "ingest-linked-documents"},
		)
	}
	return steps
}

// RunCompany runs one company end to end and returns its summary. The
// summary is returned even on error. An unknown, inactive or invalid
// company, a store outage or cancellation yields an error; failures of
// single candidates, strategies or pages are only counted.
func (c *Coordinator) RunCompany(ctx context.Context, companyID int64) (*model.RunSummary, error) {
	if !c.acquire(companyID) {
		return nil, fmt.Errorf("%w: %d", ErrRunInProgress, companyID)
	}
	defer c.release(companyID)

	started := c.clock.Now()
	summary := model.NewRunSummary(c.ids.New(), companyID, started)
	logger := c.logger.With("run_id", summary.RunID, "company_id", companyID)

	company, err := c.loadCompany(ctx, companyID)
	if err != nil {
		return c.fail(summary, logger, err)
	}
	summary.CompanyName = company.Name

	var deadline time.Time
	if c.softDeadline > 0 {
		deadline = started.Add(c.softDeadline)
	}
	run := newRun(summary.RunID, company, summary, deadline)

	c.restoreCooldowns(ctx, logger)
	logger.Info("run started", "company", company.Name)

	err = NewPipeline(logger, c.steps()...).Execute(ctx, run)
	c.saveCooldowns(context.WithoutCancel(ctx), logger)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			run.addError("run cancelled: " + err.Error())
			c.finish(summary, logger)
			return summary, err
		}
		return c.fail(summary, logger, err)
	}
	c.finish(summary, logger)
	return summary, nil
}

func (c *Coordinator) loadCompany(ctx context.Context, id int64) (*model.Company, error) {
	company, err := c.deps.Store.GetCompany(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load company %d: %w", id, err)
	}
	if company == nil {
		return nil, fmt.Errorf("%w: %d", model.ErrCompanyNotFound, id)
	}
	if !company.Active {
		return nil, fmt.Errorf("%w: %s", model.ErrCompanyInactive, company.Name)
	}
	if err := company.Validate(); err != nil {
		return nil, fmt.Errorf("company %d: %w", id, err)
	}
	return company, nil
}

func (c *Coordinator) fail(summary *model.RunSummary, logger *slog.Logger, err error) (*model.RunSummary, error) {
	summary.Status = model.RunFailed
	summary.AddError(err.Error())
	c.finish(summary, logger)
	return summary, err
}

func (c *Coordinator) finish(summary *model.RunSummary, logger *slog.Logger) {
	summary.Finish(c.clock.Now())
	c.metrics.Run(string(summary.Status), summary.Duration())

	attrs := []any{
		"status", summary.Status,
		"discovered", summary.Discovered,
		"downloaded", summary.Downloaded,
		"new", summary.New,
		"updated", summary.Updated,
		"unchanged", summary.Unchanged,
		"failed", summary.Failed,
		"deferred", summary.Deferred,
		"page_changes", summary.TotalPageChanges(),
		"errors", summary.Errors,
		"duration", summary.Duration(),
	}
	if summary.Status == model.RunFailed {
		logger.Error("run failed", attrs...)
		return
	}
	logger.Info("run finished", attrs...)
}

func (c *Coordinator) restoreCooldowns(ctx context.Context, logger *slog.Logger) {
	if c.throttle == nil {
		return
	}
	cooldowns, err := c.deps.Store.LoadCooldowns(ctx, c.clock.Now())
	if err != nil {
		logger.Warn("failed to load domain cooldowns", "error", err)
		return
	}
	c.throttle.Restore(cooldowns)
}

func (c *Coordinator) saveCooldowns(ctx context.Context, logger *slog.Logger) {
	if c.throttle == nil {
		return
	}
	if err := c.deps.Store.SaveCooldowns(ctx, c.throttle.Cooldowns()); err != nil {
		logger.Warn("failed to save domain cooldowns", "error", err)
	}
}

func (c *Coordinator) acquire(companyID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.running[companyID]; ok {
		return false
	}
	c.running[companyID] = struct{}{}
	return true
}

func (c *Coordinator) release(companyID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, companyID)
}

// RunAll runs every active company with bounded concurrency. A failed
// company does not stop the others. Summaries follow the company order;
// companies skipped because they were already running are left out.
func (c *Coordinator) RunAll(ctx context.Context) ([]*model.RunSummary, error) {
	companies, err := c.deps.Store.ListCompanies(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	ids := make([]int64, len(companies))
	for i, company := range companies {
		ids[i] = company.ID
	}
	return c.RunCompanies(ctx, ids)
}

// RunCompanies runs the given companies with bounded concurrency.
func (c *Coordinator) RunCompanies(ctx context.Context, ids []int64) ([]*model.RunSummary, error) {
	c.logger.Info("starting batch run",
		"companies", len(ids),
		"concurrency", c.companyConcurrency,
	)
	started := c.clock.Now()

	results := make([]*model.RunSummary, len(ids))
	var g errgroup.Group
	g.SetLimit(c.companyConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			summary, err := c.RunCompany(ctx, id)
			if errors.Is(err, ErrRunInProgress) {
				c.logger.Warn("company skipped", "company_id", id, "error", err)
				return nil
			}
			// Each company owns its slot.
			results[i] = summary
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // company runs never return an error to the group

	out := make([]*model.RunSummary, 0, len(results))
	for _, s := range results {
		if s != nil {
			out = append(out, s)
		}
	}
	c.logger.Info("batch run complete",
		"companies", len(ids),
		"completed", len(out),
		"elapsed", c.clock.Now().Sub(started),
	)
	return out, ctx.Err()
}

// isFatal reports whether err must abort the run.
func isFatal(err error) bool {
	return errors.Is(err, model.ErrStoreUnavailable)
}
