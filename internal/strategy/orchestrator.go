package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/finwatch/internal/clock"
	"github.com/nao1215/finwatch/internal/metrics"
	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/throttle"
)

// DefaultTimeout bounds a single strategy attempt.
const DefaultTimeout = 90 * time.Second

// DiagnosticSink receives one record per strategy attempt.
type DiagnosticSink interface {
	AppendDiagnostic(ctx context.Context, d *model.Diagnostic) error
}

// Result is the merged outcome of one discovery pass.
type Result struct {
	// Candidates are ordered by strategy priority, then by the order the
	// winning strategy reported them.
	Candidates  []model.DiscoveryCandidate
	Diagnostics []model.Diagnostic
	// Errors counts failed attempts. Skips are not errors.
	Errors int
	// Skipped lists strategies that did not run this cycle.
	Skipped []model.StrategyKind
}

// Orchestrator runs strategies concurrently with independent timeouts and
// merges their findings deterministically.
//
// Every attempt leaves one diagnostic: a success, a failure, a skip for a
// cooling-down domain, or a skip for missing configuration. The
// diagnostics go to the sink and are also returned in the Result.
//
// Design decision: strategies run in parallel but are merged in priority
// order after all of them finished. Merging as results arrive would make
// the winner of a URL depend on network timing. With a fixed order, two
// runs over the same answers produce the same candidates and provenance.
type Orchestrator struct {
	strategies  []Strategy
	throttle    *throttle.Throttle
	sink        DiagnosticSink
	metrics     *metrics.Metrics
	clock       clock.Clock
	logger      *slog.Logger
	timeout     time.Duration
	concurrency int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithThrottle sets the domain throttle consulted before each strategy.
func WithThrottle(t *throttle.Throttle) Option {
	return func(o *Orchestrator) {
		o.throttle = t
	}
}

// WithDiagnosticSink sets where attempt records are written.
func WithDiagnosticSink(s DiagnosticSink) Option {
	return func(o *Orchestrator) {
		o.sink = s
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock sets the time source for diagnostics.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithTimeout sets the per-strategy timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithConcurrency bounds how many strategies run at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// NewOrchestrator creates an Orchestrator. Strategies are sorted by their
// kind's priority; strategies of equal priority keep their given order.
func NewOrchestrator(strategies []Strategy, opts ...Option) *Orchestrator {
	sorted := make([]Strategy, len(strategies))
	copy(sorted, strategies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Kind().Priority() < sorted[j].Kind().Priority()
	})

	o := &Orchestrator{
		strategies:  sorted,
		clock:       clock.Real{},
		timeout:     DefaultTimeout,
		concurrency: len(sorted),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.throttle == nil {
		o.throttle = throttle.New(throttle.WithLogger(o.logger), throttle.WithClock(o.clock))
	}
	if o.concurrency <= 0 {
		o.concurrency = 1
	}
	return o
}

// Kinds returns the strategy kinds in priority order.
func (o *Orchestrator) Kinds() []model.StrategyKind {
	kinds := make([]model.StrategyKind, len(o.strategies))
	for i, s := range o.strategies {
		kinds[i] = s.Kind()
	}
	return kinds
}

// attempt is the per-strategy outcome before merging.
type attempt struct {
	found       []Found
	diagnostics []model.Diagnostic
	failed      bool
	skipped     bool
}

// Discover runs every strategy for company and merges the results. It only
// returns an error when ctx is cancelled before the merge.
//
// Before a strategy runs, each domain it will contact is checked against
// the throttle. A strategy whose domain is cooling down is skipped and
// recorded as blocked. A block signal in a report starts a cooldown for
// that domain. A *model.ConfigurationError (for example a missing API key)
// skips the strategy for this run only, and a panic inside a strategy is
// recovered into a *model.StrategySourceError. None of these fail the
// discovery as a whole.
//
// Design decision: each strategy gets its own timeout derived from ctx
// instead of sharing one deadline. A slow search API then cannot starve
// the website crawl that runs next to it.
func (o *Orchestrator) Discover(ctx context.Context, company *model.Company, runID string) (*Result, error) {
	attempts := make([]attempt, len(o.strategies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, s := range o.strategies {
		g.Go(func() error {
			// Each strategy owns its slot, so no lock is needed.
			attempts[i] = o.run(gctx, s, company, runID)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // run never returns an error
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{}
	seen := make(map[string]bool)
	for i, s := range o.strategies {
		a := attempts[i]
		result.Diagnostics = append(result.Diagnostics, a.diagnostics...)
		if a.failed {
			result.Errors++
		}
		if a.skipped {
			result.Skipped = append(result.Skipped, s.Kind())
		}
		for _, f := range a.found {
			normalized := model.NormalizeURL(f.URL)
			if normalized == "" || seen[normalized] {
				continue
			}
			seen[normalized] = true
			sourceType := f.SourceType
			if sourceType == "" {
				sourceType = s.SourceType()
			}
			result.Candidates = append(result.Candidates, model.DiscoveryCandidate{
				CompanyID:    company.ID,
				URL:          normalized,
				SourceDomain: model.DomainOf(normalized),
				Strategy:     s.Kind(),
				SourceType:   sourceType,
			})
		}
	}

	o.metrics.Candidates(len(result.Candidates))
	o.logger.Info("discovery complete",
		"company", company.Name,
		"candidates", len(result.Candidates),
		"errors", result.Errors,
		"skipped", len(result.Skipped),
	)
	return result, nil
}

// run executes one strategy with throttle gating, timeout and panic
// recovery, and writes its diagnostics.
func (o *Orchestrator) run(ctx context.Context, s Strategy, company *model.Company, runID string) attempt {
	kind := s.Kind()
	domains := s.Domains(company)
	primary := company.Domain()
	if len(domains) > 0 {
		primary = domains[0]
	}

	var out attempt

	// Cooling down domains skip the strategy for this cycle only.
	for _, d := range domains {
		until, blocked := o.throttle.BlockedUntil(d)
		if !blocked {
			continue
		}
		out.skipped = true
		out.diagnostics = append(out.diagnostics, o.record(ctx, model.Diagnostic{
			RunID:     runID,
			CompanyID: company.ID,
			Domain:    d,
			Strategy:  kind,
			Blocked:   true,
			Skipped:   true,
			Error:     fmt.Sprintf("domain cooling down until %s", until.Format(time.RFC3339)),
		}))
	}
	if out.skipped {
		o.metrics.StrategyAttempt(string(kind), metrics.OutcomeBlocked, 0)
		o.logger.Info("strategy skipped, domain cooling down", "strategy", kind, "company", company.Name)
		return out
	}

	sctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := o.clock.Now()
	began := time.Now()
	report, err := safeDiscover(sctx, s, company)
	elapsed := time.Since(began)

	diag := model.Diagnostic{
		RunID:      runID,
		CompanyID:  company.ID,
		Domain:     primary,
		Strategy:   kind,
		PageURL:    report.PageURL,
		StatusCode: report.StatusCode,
		Blocked:    report.Blocked,
		RetryCount: report.RetryCount,
		Found:      len(report.Found),
		Duration:   elapsed,
		CreatedAt:  start,
	}

	var cfgErr *model.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		out.skipped = true
		diag.Skipped = true
		diag.Error = cfgErr.Error()
		o.metrics.StrategyAttempt(string(kind), metrics.OutcomeSkipped, elapsed)
		o.logger.Debug("strategy skipped", "strategy", kind, "reason", cfgErr.Reason)
	case err != nil:
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", o.timeout, err)
		}
		srcErr := &model.StrategySourceError{
			Strategy:   kind,
			Domain:     primary,
			StatusCode: report.StatusCode,
			Blocked:    report.Blocked,
			Err:        err,
		}
		out.failed = true
		diag.Error = srcErr.Error()
		o.metrics.StrategyAttempt(string(kind), metrics.OutcomeError, elapsed)
		o.logger.Warn("strategy failed", "strategy", kind, "company", company.Name, "error", srcErr)
	default:
		out.found = report.Found
		o.metrics.StrategyAttempt(string(kind), metrics.OutcomeOK, elapsed)
		o.logger.Debug("strategy completed", "strategy", kind, "found", len(report.Found), "elapsed", elapsed)
	}

	if report.Blocked {
		blockedDomain := report.BlockedDomain
		if blockedDomain == "" {
			blockedDomain = primary
		}
		o.throttle.Block(blockedDomain, 0)
		o.metrics.DomainBlocked(blockedDomain)
	}

	out.diagnostics = append(out.diagnostics, o.record(ctx, diag))
	return out
}

// record stamps and writes a diagnostic. Sink failures are logged only.
func (o *Orchestrator) record(ctx context.Context, d model.Diagnostic) model.Diagnostic {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = o.clock.Now()
	}
	if o.sink != nil {
		// The strategy context may already be cancelled; the record must still land.
		if err := o.sink.AppendDiagnostic(context.WithoutCancel(ctx), &d); err != nil {
			o.logger.Warn("failed to write diagnostic", "strategy", d.Strategy, "error", err)
		}
	}
	return d
}

// safeDiscover converts a panicking strategy into an error.
func safeDiscover(ctx context.Context, s Strategy, company *model.Company) (report Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panicked: %v", r)
		}
	}()
	return s.Discover(ctx, company)
}
