// Package dedup decides whether a fetched document is new, unchanged or
// updated by comparing its content hash with the stored one, and records
// the outcome atomically per (company, document URL).
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nao1215/finwatch/internal/clock"
	"github.com/nao1215/finwatch/internal/fingerprint"
	"github.com/nao1215/finwatch/internal/metrics"
	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/store"
)

// DefaultReviewThreshold is the classifier confidence below which a
// document is flagged for review.
const DefaultReviewThreshold = 0.6

var (
	// ErrUnknownDocument is returned by ApplyClassification for a document
	// that has never been stored.
	ErrUnknownDocument = errors.New("unknown document")
	// ErrEmptyHash is returned by Resolve when no content hash is given.
	ErrEmptyHash = errors.New("content hash is empty")
)

// Store is the document persistence the deduplicator needs.
type Store interface {
	MutateDocument(ctx context.Context, companyID int64, url string, fn store.DocumentMutation) (*model.Document, error)
	FindDocumentByHash(ctx context.Context, companyID int64, hash, excludeURL string) (*model.Document, error)
}

// RetryRecorder receives failed and recovered fetches. *retry.Ledger
// satisfies it.
type RetryRecorder interface {
	RecordFailure(ctx context.Context, companyID int64, documentURL string, cause error) (*model.RetryRecord, error)
	MarkSucceeded(ctx context.Context, companyID int64, documentURL string) error
}

// Content describes a successfully fetched document.
type Content struct {
	Hash        fingerprint.Hash
	ContentType string
	ByteSize    int64
}

// Outcome is the result of deduplicating one candidate.
type Outcome struct {
	Status model.DocumentStatus
	// Document is the stored row. It is nil when the first fetch of a URL
	// failed.
	Document *model.Document
	// Change is the appended change event for NEW and UPDATED.
	Change *model.DocumentChange
	// DuplicateOf is another document of the company with the same
	// content under a different URL.
	DuplicateOf *model.Document
	// Retry is the ledger entry written for a FAILED outcome.
	Retry *model.RetryRecord
}

// Deduplicator resolves fetch results against stored documents.
//
// A document is identified by (company id, normalized URL). Its status
// after a cycle is one of NEW, UNCHANGED, UPDATED or FAILED, decided only
// by comparing the SHA-256 of the fetched bytes with the stored hash.
//
// Design decision: every decision and its writes happen inside one store
// mutation for that identity. Two runs resolving the same URL at the same
// time therefore see each other's result instead of both inserting, and
// the change log never records an event whose document write was lost.
type Deduplicator struct {
	store     Store
	retries   RetryRecorder
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	threshold float64
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithClock sets the time source for first/last seen stamps.
func WithClock(c clock.Clock) Option {
	return func(d *Deduplicator) {
		d.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deduplicator) {
		d.logger = logger
	}
}

// WithMetrics counts outcomes by status.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Deduplicator) {
		d.metrics = m
	}
}

// WithReviewThreshold sets the confidence below which documents need review.
func WithReviewThreshold(threshold float64) Option {
	return func(d *Deduplicator) {
		if threshold >= 0 && threshold <= 1 {
			d.threshold = threshold
		}
	}
}

// New creates a Deduplicator. retries may be nil, in which case failures
// are not scheduled for replay.
func New(s Store, retries RetryRecorder, opts ...Option) *Deduplicator {
	d := &Deduplicator{
		store:     s,
		retries:   retries,
		clock:     clock.Real{},
		logger:    slog.Default(),
		threshold: DefaultReviewThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Resolve records a successful fetch of cand.
//
// With no stored row the document is NEW. With a stored row the status is
// UNCHANGED when the hash matches and UPDATED otherwise; the comparison is
// always against the most recently stored hash. NEW and UPDATED append a
// change event. Any open retry entry for the URL is resolved.
//
// The candidate's provenance is written on every successful fetch. A
// candidate replayed from the retry ledger does not replace the stored
// discovery strategy.
// When another document of the company already has the same hash,
// Outcome.DuplicateOf reports it; the document is still stored under its
// own URL.
//
// Design decision: UNCHANGED compares against the last stored hash, not
// against the hash of the previous cycle. A FAILED cycle in between keeps
// the old hash, so content that comes back unchanged after an outage is
// not reported as UPDATED.
func (d *Deduplicator) Resolve(ctx context.Context, cand model.DiscoveryCandidate, c Content) (*Outcome, error) {
	if c.Hash == "" {
		return nil, fmt.Errorf("resolve %s: %w", cand.URL, ErrEmptyHash)
	}
	now := d.clock.Now()
	hash := c.Hash.String()

	var (
		status model.DocumentStatus
		change *model.DocumentChange
	)
	doc, err := d.store.MutateDocument(ctx, cand.CompanyID, cand.URL, func(cur *model.Document) (*model.Document, *model.DocumentChange, error) {
		change = nil
		next := cur
		switch {
		case cur == nil:
			status = model.StatusNew
			next = &model.Document{
				CompanyID:   cand.CompanyID,
				URL:         cand.URL,
				FirstSeenAt: now,
			}
			change = &model.DocumentChange{ChangeType: model.StatusNew, NewHash: hash, DetectedAt: now}
		case cur.ContentHash == hash:
			status = model.StatusUnchanged
		default:
			status = model.StatusUpdated
			change = &model.DocumentChange{
				ChangeType: model.StatusUpdated,
				OldHash:    cur.ContentHash,
				NewHash:    hash,
				DetectedAt: now,
			}
		}

		next.Status = status
		next.LastSeenAt = now
		if status != model.StatusUnchanged {
			next.ContentHash = hash
			next.ByteSize = c.ByteSize
			if c.ContentType != "" {
				next.ContentType = c.ContentType
			}
		}
		applyProvenance(next, cand)
		return next, change, nil
	})
	if err != nil {
		return nil, d.wrap("resolve", cand.URL, err)
	}

	out := &Outcome{Status: status, Document: doc, Change: change}
	if status != model.StatusUnchanged {
		dup, err := d.store.FindDocumentByHash(ctx, cand.CompanyID, hash, cand.URL)
		if err != nil {
			return nil, d.wrap("resolve", cand.URL, err)
		}
		out.DuplicateOf = dup
	}

	if d.retries != nil {
		if err := d.retries.MarkSucceeded(ctx, cand.CompanyID, cand.URL); err != nil {
			return nil, err
		}
	}

	d.metrics.Document(string(status))
	attrs := []any{"company_id", cand.CompanyID, "url", cand.URL, "status", status, "hash", c.Hash.Short()}
	if out.DuplicateOf != nil {
		attrs = append(attrs, "duplicate_of", out.DuplicateOf.URL)
	}
	if status == model.StatusUnchanged {
		d.logger.Debug("document unchanged", attrs...)
	} else {
		d.logger.Info("document changed", attrs...)
	}
	return out, nil
}

// Fail records a failed fetch of cand. An existing row is marked FAILED
// but keeps its hash, so the next successful fetch compares against the
// last good content. A URL that has never been fetched successfully gets
// no row. The failure is handed to the retry recorder either way.
func (d *Deduplicator) Fail(ctx context.Context, cand model.DiscoveryCandidate, cause error) (*Outcome, error) {
	now := d.clock.Now()

	doc, err := d.store.MutateDocument(ctx, cand.CompanyID, cand.URL, func(cur *model.Document) (*model.Document, *model.DocumentChange, error) {
		if cur == nil {
			return nil, nil, nil
		}
		cur.Status = model.StatusFailed
		cur.LastSeenAt = now
		applyProvenance(cur, cand)
		return cur, nil, nil
	})
	if err != nil {
		return nil, d.wrap("fail", cand.URL, err)
	}

	out := &Outcome{Status: model.StatusFailed, Document: doc}
	if d.retries != nil {
		rec, err := d.retries.RecordFailure(ctx, cand.CompanyID, cand.URL, cause)
		if err != nil {
			return nil, err
		}
		out.Retry = rec
	}

	d.metrics.Document(string(model.StatusFailed))
	d.logger.Warn("document fetch failed",
		"company_id", cand.CompanyID,
		"url", cand.URL,
		"reason", model.ReasonOf(cause),
		"error", cause)
	return out, nil
}

// ApplyClassification stores the classifier verdict for a document and
// flags it for review when confidence is below the threshold.
func (d *Deduplicator) ApplyClassification(ctx context.Context, companyID int64, url, docType string, confidence float64) (*model.Document, error) {
	doc, err := d.store.MutateDocument(ctx, companyID, url, func(cur *model.Document) (*model.Document, *model.DocumentChange, error) {
		if cur == nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownDocument, url)
		}
		cur.DocType = docType
		conf := confidence
		cur.ClassifierConfidence = &conf
		cur.NeedsReview = confidence < d.threshold
		return cur, nil, nil
	})
	if err != nil {
		return nil, d.wrap("classify", url, err)
	}
	return doc, nil
}

// applyProvenance overwrites provenance with whatever the candidate knows,
// inferring it from the URL for candidates without any.
func applyProvenance(doc *model.Document, cand model.DiscoveryCandidate) {
	domain := cand.SourceDomain
	if domain == "" {
		domain = model.DomainOf(cand.URL)
	}
	doc.SourceDomain = domain

	switch {
	case cand.Strategy != "" && cand.Strategy != model.StrategyRetry:
		doc.DiscoveryStrategy = cand.Strategy
	case doc.DiscoveryStrategy == "":
		doc.DiscoveryStrategy = model.StrategyUnknown
	}

	switch {
	case cand.SourceType != "":
		doc.SourceType = cand.SourceType
	case doc.SourceType == "":
		doc.SourceType = model.InferSourceType(cand.URL)
	}
}

func (d *Deduplicator) wrap(op, url string, err error) error {
	if errors.Is(err, model.ErrIdentityMismatch) || errors.Is(err, model.ErrDuplicateRow) {
		return &model.IntegrityError{Op: "dedup " + op + " " + url, Attempts: 1, Err: err}
	}
	return fmt.Errorf("dedup %s %s: %w", op, url, err)
}
