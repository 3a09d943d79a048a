// Package pagediff detects how monitored investor-relations pages change
// between crawls. Each observation of a page is compared with its stored
// snapshot and classified as PAGE_ADDED, PAGE_DELETED, NEW_DOC_LINKED,
// CONTENT_CHANGED or no change. The snapshot and the change event are
// written together.
package pagediff

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nao1215/finwatch/internal/clock"
	"github.com/nao1215/finwatch/internal/metrics"
	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/store"
)

// Store is the snapshot persistence the differ needs.
type Store interface {
	MutatePage(ctx context.Context, companyID int64, pageURL string, fn store.PageMutation) (*model.PageSnapshot, *model.PageChange, error)
}

// Differ classifies and records page observations.
type Differ struct {
	store       Store
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxFailures int
}

// Option configures a Differ.
type Option func(*Differ)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(d *Differ) {
		d.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Differ) {
		d.logger = logger
	}
}

// WithMetrics counts emitted changes by type.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Differ) {
		d.metrics = m
	}
}

// WithMaxConsecutiveFailures sets how many failed fetches in a row mark an
// active page as deleted.
func WithMaxConsecutiveFailures(n int) Option {
	return func(d *Differ) {
		if n > 0 {
			d.maxFailures = n
		}
	}
}

// New creates a Differ backed by s.
func New(s Store, opts ...Option) *Differ {
	d := &Differ{
		store:       s,
		clock:       clock.Real{},
		logger:      slog.Default(),
		maxFailures: DefaultMaxConsecutiveFailures,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Observe classifies obs against the stored snapshot and persists the
// result. It returns the recorded change, or nil when nothing changed.
func (d *Differ) Observe(ctx context.Context, obs model.PageObservation) (*model.PageChange, error) {
	now := d.clock.Now()
	_, change, err := d.store.MutatePage(ctx, obs.CompanyID, obs.PageURL, func(cur *model.PageSnapshot) (*model.PageSnapshot, *model.PageChange, error) {
		decision := Classify(cur, obs, now, d.maxFailures)
		return decision.Snapshot, decision.Change, nil
	})
	if err != nil {
		return nil, fmt.Errorf("observe page %s: %w", obs.PageURL, err)
	}
	if change == nil {
		return nil, nil
	}

	d.metrics.PageChange(string(change.Type))
	d.logger.Info("page changed",
		"company_id", obs.CompanyID,
		"page", obs.PageURL,
		"change", change.Type,
		"new_pdfs", len(change.NewPDFURLs))
	return change, nil
}
