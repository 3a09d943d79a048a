// Package retry keeps the dead-letter ledger of documents that could not
// be ingested. Each (company, document URL) pair has at most one record.
// A failure creates or increments the record and schedules the next
// attempt with a Backoff; once the failure count reaches the ceiling the
// record becomes DEAD and is no longer replayed automatically.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/nao1215/finwatch/internal/clock"
	"github.com/nao1215/finwatch/internal/metrics"
	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/store"
)

const (
	// DefaultCeiling is the failure count at which a record becomes DEAD.
	DefaultCeiling = 3
	// MaxManualDelay bounds the delay accepted by Update.
	MaxManualDelay = 24 * time.Hour

	maxErrorLength = 2000
)

// ErrInvalidStatus is returned by Update for an unknown status.
var ErrInvalidStatus = errors.New("invalid retry status")

// Store is the persistence the ledger needs.
type Store interface {
	MutateRetry(ctx context.Context, companyID int64, documentURL string, fn store.RetryMutation) (*model.RetryRecord, error)
	MutateRetryByID(ctx context.Context, id int64, fn store.RetryMutation) (*model.RetryRecord, error)
	GetRetry(ctx context.Context, id int64) (*model.RetryRecord, error)
	FindRetry(ctx context.Context, companyID int64, documentURL string) (*model.RetryRecord, error)
	ListRetries(ctx context.Context, f store.RetryFilter) ([]*model.RetryRecord, error)
	DueRetries(ctx context.Context, companyID int64, now time.Time, limit int) ([]*model.RetryRecord, error)
}

// Ledger schedules and tracks failed document ingestions.
//
// There is at most one record per (company id, document URL). A record
// is PENDING while it waits for its next attempt, DEAD once the failure
// count reaches the ceiling, and RESOLVED after a successful fetch or an
// operator action. Deferred candidates (run deadline, domain cooldown)
// are PENDING records that are due immediately and carry no failure.
//
// Design decision: the delay between attempts comes from a Backoff
// instead of a fixed formula. The default Exponential policy suits
// transient outages; Linear exists for hosts that rate limit on a fixed
// window. Either way only real attempts increase the count, so a record
// never goes DEAD without the ceiling's number of requests having failed.
type Ledger struct {
	store   Store
	backoff Backoff
	ceiling int
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithBackoff replaces the default exponential backoff.
func WithBackoff(b Backoff) Option {
	return func(l *Ledger) {
		if b != nil {
			l.backoff = b
		}
	}
}

// WithCeiling sets the failure count at which records become DEAD.
func WithCeiling(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.ceiling = n
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) {
		l.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithMetrics records status transitions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// NewLedger creates a ledger backed by s.
func NewLedger(s Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:   s,
		backoff: DefaultBackoff(),
		ceiling: DefaultCeiling,
		clock:   clock.Real{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ceiling returns the configured failure ceiling.
func (l *Ledger) Ceiling() int {
	return l.ceiling
}

// RecordFailure registers a failed ingestion of documentURL. The first
// failure creates a PENDING record with failure_count 1; later failures
// increment it. A RESOLVED record is reopened as a fresh failure.
func (l *Ledger) RecordFailure(ctx context.Context, companyID int64, documentURL string, cause error) (*model.RetryRecord, error) {
	now := l.clock.Now()
	reason := model.ReasonOf(cause)
	msg := errorText(cause)

	rec, err := l.store.MutateRetry(ctx, companyID, documentURL, func(cur *model.RetryRecord) (*model.RetryRecord, error) {
		if cur == nil || cur.Status == model.RetryResolved {
			next := &model.RetryRecord{
				CompanyID:    companyID,
				DocumentURL:  documentURL,
				SourceDomain: model.DomainOf(documentURL),
				CreatedAt:    now,
			}
			if cur != nil {
				next.ID = cur.ID
				next.CreatedAt = cur.CreatedAt
			}
			cur = next
		}
		cur.FailureCount++
		cur.Reason = reason
		cur.LastError = msg
		cur.LastAttemptAt = now
		cur.ResolvedAt = nil
		l.schedule(cur, now)
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("record failure for %s: %w", documentURL, err)
	}

	l.metrics.Retry(string(rec.Status))
	if rec.Status == model.RetryDead {
		l.logger.Warn("document moved to dead letter",
			"company_id", companyID,
			"url", documentURL,
			"reason", rec.Reason,
			"failures", rec.FailureCount)
	} else {
		l.logger.Debug("document failure recorded",
			"company_id", companyID,
			"url", documentURL,
			"reason", rec.Reason,
			"failures", rec.FailureCount,
			"next_retry_at", rec.NextRetryAt)
	}
	return rec, nil
}

// schedule sets status and next_retry_at from the failure count.
func (l *Ledger) schedule(r *model.RetryRecord, now time.Time) {
	if r.FailureCount >= l.ceiling {
		r.Status = model.RetryDead
		r.NextRetryAt = nil
		return
	}
	next := now.Add(l.backoff.Delay(r.FailureCount))
	r.Status = model.RetryPending
	r.NextRetryAt = &next
}

// Defer records a candidate that was not attempted: the run ran out of
// time, or its domain was cooling down. The record is due immediately and
// the failure count is left alone, so only real attempts count toward the
// ceiling. note becomes the record's last error. DEAD records are not
// touched.
func (l *Ledger) Defer(ctx context.Context, companyID int64, documentURL, note string) (*model.RetryRecord, error) {
	now := l.clock.Now()
	rec, err := l.store.MutateRetry(ctx, companyID, documentURL, func(cur *model.RetryRecord) (*model.RetryRecord, error) {
		switch {
		case cur == nil:
			cur = &model.RetryRecord{
				CompanyID:    companyID,
				DocumentURL:  documentURL,
				SourceDomain: model.DomainOf(documentURL),
				Reason:       model.ReasonDeferred,
				CreatedAt:    now,
			}
		case cur.Status == model.RetryDead:
			return nil, nil
		case cur.Status == model.RetryResolved:
			cur.Reason = model.ReasonDeferred
			cur.FailureCount = 0
			cur.ResolvedAt = nil
		}
		cur.Status = model.RetryPending
		cur.LastError = "deferred: " + note
		cur.LastAttemptAt = now
		due := now
		cur.NextRetryAt = &due
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("defer %s: %w", documentURL, err)
	}
	return rec, nil
}

// MarkSucceeded resolves any open record for documentURL. It is a no-op
// when there is no record or it is already RESOLVED.
func (l *Ledger) MarkSucceeded(ctx context.Context, companyID int64, documentURL string) error {
	now := l.clock.Now()
	resolved := false
	_, err := l.store.MutateRetry(ctx, companyID, documentURL, func(cur *model.RetryRecord) (*model.RetryRecord, error) {
		resolved = false
		if cur == nil || cur.Status == model.RetryResolved {
			return nil, nil
		}
		resolve(cur, now)
		resolved = true
		return cur, nil
	})
	if err != nil {
		return fmt.Errorf("resolve %s: %w", documentURL, err)
	}
	if resolved {
		l.metrics.Retry(string(model.RetryResolved))
		l.logger.Debug("retry resolved", "company_id", companyID, "url", documentURL)
	}
	return nil
}

func resolve(r *model.RetryRecord, now time.Time) {
	r.Status = model.RetryResolved
	r.NextRetryAt = nil
	at := now
	r.ResolvedAt = &at
}

// Due returns the PENDING records of a company whose next attempt time
// has passed, oldest schedule first. A zero limit returns all of them.
func (l *Ledger) Due(ctx context.Context, companyID int64, limit int) ([]*model.RetryRecord, error) {
	recs, err := l.store.DueRetries(ctx, companyID, l.clock.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("due retries: %w", err)
	}
	return recs, nil
}

// Update describes a manual change to a record.
type Update struct {
	Status model.RetryStatus
	// RetryIn delays the next attempt of a PENDING record. It is clamped
	// to [0, MaxManualDelay].
	RetryIn   time.Duration
	Reason    model.ReasonCode
	LastError string
}

// Update applies a manual status change to the record with id.
func (l *Ledger) Update(ctx context.Context, id int64, u Update) (*model.RetryRecord, error) {
	if !u.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, u.Status)
	}
	now := l.clock.Now()
	rec, err := l.store.MutateRetryByID(ctx, id, func(cur *model.RetryRecord) (*model.RetryRecord, error) {
		if u.Reason != "" {
			cur.Reason = u.Reason
		}
		if u.LastError != "" {
			cur.LastError = truncate(u.LastError)
		}
		cur.LastAttemptAt = now
		switch u.Status {
		case model.RetryPending:
			next := now.Add(clampDelay(u.RetryIn))
			cur.Status = model.RetryPending
			cur.NextRetryAt = &next
			cur.ResolvedAt = nil
		case model.RetryResolved:
			resolve(cur, now)
		default:
			cur.Status = u.Status
			cur.NextRetryAt = nil
		}
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("update retry %d: %w", id, err)
	}
	l.metrics.Retry(string(rec.Status))
	l.logger.Info("retry updated", "id", id, "status", rec.Status)
	return rec, nil
}

// RetryNow makes the record with id due immediately.
func (l *Ledger) RetryNow(ctx context.Context, id int64) (*model.RetryRecord, error) {
	return l.Update(ctx, id, Update{Status: model.RetryPending})
}

// Resolve closes the record with id.
func (l *Ledger) Resolve(ctx context.Context, id int64) (*model.RetryRecord, error) {
	return l.Update(ctx, id, Update{Status: model.RetryResolved})
}

// Get returns the record with id. It returns model.ErrRetryNotFound when
// the id is unknown.
func (l *Ledger) Get(ctx context.Context, id int64) (*model.RetryRecord, error) {
	rec, err := l.store.GetRetry(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %d", model.ErrRetryNotFound, id)
	}
	return rec, nil
}

// Find returns the record for (companyID, documentURL), or nil.
func (l *Ledger) Find(ctx context.Context, companyID int64, documentURL string) (*model.RetryRecord, error) {
	return l.store.FindRetry(ctx, companyID, documentURL)
}

// List returns records matching f.
func (l *Ledger) List(ctx context.Context, f store.RetryFilter) ([]*model.RetryRecord, error) {
	return l.store.ListRetries(ctx, f)
}

func clampDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > MaxManualDelay {
		return MaxManualDelay
	}
	return d
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return truncate(err.Error())
}

func truncate(s string) string {
	if len(s) <= maxErrorLength {
		return s
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
