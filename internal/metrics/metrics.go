// Package metrics exposes Prometheus collectors for discovery, dedup,
// page diffing and the retry ledger.
//
// Metrics are registered on a private registry so that several instances
// can coexist in one process (tests, multiple coordinators). All methods
// are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finwatch"

// Strategy attempt outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeBlocked = "blocked"
	OutcomeSkipped = "skipped"
)

// Metrics holds every collector.
type Metrics struct {
	registry *prometheus.Registry

	strategyAttempts *prometheus.CounterVec
	strategyDuration *prometheus.HistogramVec
	candidates       prometheus.Counter
	blocks           *prometheus.CounterVec
	documents        *prometheus.CounterVec
	pageChanges      *prometheus.CounterVec
	retries          *prometheus.CounterVec
	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
}

// New creates a Metrics instance on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		strategyAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_attempts_total",
			Help:      "Discovery strategy attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		strategyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "strategy_duration_seconds",
			Help:      "Discovery strategy attempt duration.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"strategy"}),
		candidates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_discovered_total",
			Help:      "Deduplicated discovery candidates.",
		}),
		blocks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_blocks_total",
			Help:      "Block signals that started or extended a domain cooldown.",
		}, []string{"domain"}),
		documents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Document dedup outcomes by status.",
		}, []string{"status"}),
		pageChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_changes_total",
			Help:      "Emitted page changes by type.",
		}, []string{"type"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_transitions_total",
			Help:      "Retry ledger writes by resulting status.",
		}, []string{"status"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Company runs by final status.",
		}, []string{"status"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Company run duration.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StrategyAttempt records one strategy attempt.
func (m *Metrics) StrategyAttempt(strategy, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.strategyAttempts.WithLabelValues(strategy, outcome).Inc()
	if outcome != OutcomeSkipped {
		m.strategyDuration.WithLabelValues(strategy).Observe(d.Seconds())
	}
}

// Candidates adds n deduplicated candidates.
func (m *Metrics) Candidates(n int) {
	if m == nil {
		return
	}
	m.candidates.Add(float64(n))
}

// DomainBlocked records a block signal for domain.
func (m *Metrics) DomainBlocked(domain string) {
	if m == nil {
		return
	}
	m.blocks.WithLabelValues(domain).Inc()
}

// Document records a dedup outcome.
func (m *Metrics) Document(status string) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(status).Inc()
}

// PageChange records an emitted page change.
func (m *Metrics) PageChange(changeType string) {
	if m == nil {
		return
	}
	m.pageChanges.WithLabelValues(changeType).Inc()
}

// Retry records a ledger write.
func (m *Metrics) Retry(status string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(status).Inc()
}

// Run records a finished company run.
func (m *Metrics) Run(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}
