package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/finwatch/internal/clock"
	"github.com/nao1215/finwatch/internal/fingerprint"
	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/store"
)

// fakeStore keeps documents in memory.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	docs    map[string]*model.Document
	changes []*model.DocumentChange
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]*model.Document)}
}

func (f *fakeStore) MutateDocument(_ context.Context, companyID int64, url string, fn store.DocumentMutation) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	cur := f.docs[url]
	var arg *model.Document
	if cur != nil {
		c := *cur
		arg = &c
	}
	next, change, err := fn(arg)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return cur, nil
	}
	if next.CompanyID != companyID || next.URL != url {
		return nil, model.ErrIdentityMismatch
	}
	if cur == nil {
		f.nextID++
		next.ID = f.nextID
	}
	f.docs[url] = next
	if change != nil {
		change.DocumentID = next.ID
		change.CompanyID = companyID
		change.URL = url
		f.changes = append(f.changes, change)
	}
	return next, nil
}

func (f *fakeStore) FindDocumentByHash(_ context.Context, companyID int64, hash, excludeURL string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for url, d := range f.docs {
		if url != excludeURL && d.CompanyID == companyID && d.ContentHash == hash && d.Status != model.StatusFailed {
			return d, nil
		}
	}
	return nil, nil
}

// fakeRetries records calls.
type fakeRetries struct {
	mu        sync.Mutex
	failures  []string
	succeeded []string
}

func (f *fakeRetries) RecordFailure(_ context.Context, companyID int64, url string, cause error) (*model.RetryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, url)
	return &model.RetryRecord{
		CompanyID: companyID, DocumentURL: url, Reason: model.ReasonOf(cause),
		FailureCount: len(f.failures), Status: model.RetryPending,
	}, nil
}

func (f *fakeRetries) MarkSucceeded(_ context.Context, _ int64, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded = append(f.succeeded, url)
	return nil
}

const reportURL = "https://ir.acme.example/reports/annual-2023.pdf"

func candidate() model.DiscoveryCandidate {
	return model.DiscoveryCandidate{
		CompanyID:    1,
		URL:          reportURL,
		SourceDomain: "ir.acme.example",
		Strategy:     model.StrategyHTMLScrape,
		SourceType:   model.SourceWebsite,
	}
}

func content(s string) Content {
	return Content{Hash: fingerprint.Text(s), ContentType: "application/pdf", ByteSize: int64(len(s))}
}

func newTestDeduplicator() (*Deduplicator, *fakeStore, *fakeRetries, *clock.Stub) {
	s := newFakeStore()
	r := &fakeRetries{}
	stub := clock.Fixed()
	return New(s, r, WithClock(stub)), s, r, stub
}

func TestResolveStatuses(t *testing.T) {
	t.Parallel()

	d, s, r, stub := newTestDeduplicator()
	ctx := context.Background()

	out, err := d.Resolve(ctx, candidate(), content("H1"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if out.Status != model.StatusNew {
		t.Fatalf("Status = %s, want NEW", out.Status)
	}
	if out.Change == nil || out.Change.ChangeType != model.StatusNew || out.Change.OldHash != "" {
		t.Errorf("unexpected NEW change %+v", out.Change)
	}
	first := out.Document.FirstSeenAt

	stub.Advance(24 * time.Hour)
	out, err = d.Resolve(ctx, candidate(), content("H1"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if out.Status != model.StatusUnchanged || out.Change != nil {
		t.Errorf("expected UNCHANGED without change, got %s %+v", out.Status, out.Change)
	}
	if !out.Document.FirstSeenAt.Equal(first) || !out.Document.LastSeenAt.Equal(stub.Now()) {
		t.Errorf("UNCHANGED must only move last_seen_at, got %+v", out.Document)
	}

	out, err = d.Resolve(ctx, candidate(), content("H2"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if out.Status != model.StatusUpdated {
		t.Fatalf("Status = %s, want UPDATED", out.Status)
	}
	if out.Change.OldHash != fingerprint.Text("H1").String() || out.Change.NewHash != fingerprint.Text("H2").String() {
		t.Errorf("unexpected UPDATED change %+v", out.Change)
	}

	if len(s.docs) != 1 {
		t.Errorf("expected one document row, got %d", len(s.docs))
	}
	if len(s.changes) != 2 {
		t.Errorf("expected two change rows, got %d", len(s.changes))
	}
	if len(r.succeeded) != 3 {
		t.Errorf("expected every success to resolve retries, got %d", len(r.succeeded))
	}
}

// Every hash transition is compared against the last stored hash only.
func TestResolveFlipFlop(t *testing.T) {
	t.Parallel()

	d, _, _, _ := newTestDeduplicator()
	ctx := context.Background()

	if _, err := d.Resolve(ctx, candidate(), content("H0")); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	for _, h := range []string{"H1", "H2", "H1"} {
		out, err := d.Resolve(ctx, candidate(), content(h))
		if err != nil {
			t.Fatalf("Resolve(%s) error = %v", h, err)
		}
		if out.Status != model.StatusUpdated {
			t.Errorf("Resolve(%s) = %s, want UPDATED", h, out.Status)
		}
	}
}

func TestResolveRepeatedIsIdempotent(t *testing.T) {
	t.Parallel()

	d, s, _, _ := newTestDeduplicator()
	ctx := context.Background()

	for i := range 3 {
		want := model.StatusUnchanged
		if i == 0 {
			want = model.StatusNew
		}
		out, err := d.Resolve(ctx, candidate(), content("same"))
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if out.Status != want {
			t.Errorf("run %d: Status = %s, want %s", i, out.Status, want)
		}
	}
	if len(s.changes) != 1 {
		t.Errorf("expected exactly one change row, got %d", len(s.changes))
	}
}

func TestFail(t *testing.T) {
	t.Parallel()

	t.Run("first fetch failure creates no document", func(t *testing.T) {
		t.Parallel()

		d, s, r, _ := newTestDeduplicator()
		cause := &model.FetchError{URL: reportURL, Reason: model.ReasonTimeout}
		out, err := d.Fail(context.Background(), candidate(), cause)
		if err != nil {
			t.Fatalf("Fail() error = %v", err)
		}
		if out.Status != model.StatusFailed || out.Document != nil {
			t.Errorf("unexpected outcome %+v", out)
		}
		if len(s.docs) != 0 {
			t.Errorf("expected no document rows, got %d", len(s.docs))
		}
		if len(r.failures) != 1 || out.Retry == nil || out.Retry.Reason != model.ReasonTimeout {
			t.Errorf("expected failure handed to the ledger, got %+v", out.Retry)
		}
	})

	t.Run("failure keeps the prior hash", func(t *testing.T) {
		t.Parallel()

		d, _, _, _ := newTestDeduplicator()
		ctx := context.Background()
		if _, err := d.Resolve(ctx, candidate(), content("H1")); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}

		out, err := d.Fail(ctx, candidate(), errors.New("connection refused"))
		if err != nil {
			t.Fatalf("Fail() error = %v", err)
		}
		if out.Document.Status != model.StatusFailed {
			t.Errorf("Status = %s, want FAILED", out.Document.Status)
		}
		if out.Document.ContentHash != fingerprint.Text("H1").String() {
			t.Errorf("prior hash was overwritten: %s", out.Document.ContentHash)
		}

		out, err = d.Resolve(ctx, candidate(), content("H1"))
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if out.Status != model.StatusUnchanged {
			t.Errorf("recovery with the same content = %s, want UNCHANGED", out.Status)
		}
	})
}

func TestResolveDuplicateContent(t *testing.T) {
	t.Parallel()

	d, _, _, _ := newTestDeduplicator()
	ctx := context.Background()

	if _, err := d.Resolve(ctx, candidate(), content("shared")); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	mirror := candidate()
	mirror.URL = "https://cdn.acme.example/annual-2023.pdf"
	out, err := d.Resolve(ctx, mirror, content("shared"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if out.Status != model.StatusNew {
		t.Errorf("Status = %s, want NEW", out.Status)
	}
	if out.DuplicateOf == nil || out.DuplicateOf.URL != reportURL {
		t.Errorf("DuplicateOf = %+v, want %s", out.DuplicateOf, reportURL)
	}
}

func TestResolveProvenance(t *testing.T) {
	t.Parallel()

	d, _, _, _ := newTestDeduplicator()
	ctx := context.Background()

	if _, err := d.Resolve(ctx, candidate(), content("H1")); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	replay := model.DiscoveryCandidate{CompanyID: 1, URL: reportURL, Strategy: model.StrategyRetry}
	out, err := d.Resolve(ctx, replay, content("H1"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if out.Document.DiscoveryStrategy != model.StrategyHTMLScrape || out.Document.SourceType != model.SourceWebsite {
		t.Errorf("replay must keep recorded provenance, got %+v", out.Document)
	}

	sec := model.DiscoveryCandidate{CompanyID: 1, URL: "https://www.sec.gov/Archives/edgar/data/1/a.pdf"}
	out, err = d.Resolve(ctx, sec, content("10-K"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if out.Document.SourceType != model.SourceRegulatory || out.Document.DiscoveryStrategy != model.StrategyUnknown {
		t.Errorf("unexpected inferred provenance %+v", out.Document)
	}
	if out.Document.SourceDomain != "www.sec.gov" {
		t.Errorf("SourceDomain = %q", out.Document.SourceDomain)
	}
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()

	t.Run("empty hash", func(t *testing.T) {
		t.Parallel()

		d, _, _, _ := newTestDeduplicator()
		if _, err := d.Resolve(context.Background(), candidate(), Content{}); !errors.Is(err, ErrEmptyHash) {
			t.Errorf("expected ErrEmptyHash, got %v", err)
		}
	})

	t.Run("store outage", func(t *testing.T) {
		t.Parallel()

		d, s, _, _ := newTestDeduplicator()
		s.err = model.ErrStoreUnavailable
		if _, err := d.Resolve(context.Background(), candidate(), content("H1")); !errors.Is(err, model.ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", err)
		}
	})

	t.Run("identity mismatch becomes an integrity error", func(t *testing.T) {
		t.Parallel()

		d, s, _, _ := newTestDeduplicator()
		s.err = model.ErrIdentityMismatch
		_, err := d.Resolve(context.Background(), candidate(), content("H1"))
		var ie *model.IntegrityError
		if !errors.As(err, &ie) {
			t.Errorf("expected IntegrityError, got %v", err)
		}
	})
}

func TestApplyClassification(t *testing.T) {
	t.Parallel()

	s := newFakeStore()
	d := New(s, nil, WithClock(clock.Fixed()), WithReviewThreshold(0.8))
	ctx := context.Background()

	if _, err := d.ApplyClassification(ctx, 1, reportURL, "Annual Report", 0.9); !errors.Is(err, ErrUnknownDocument) {
		t.Fatalf("expected ErrUnknownDocument, got %v", err)
	}
	if _, err := d.Resolve(ctx, candidate(), content("H1")); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	tests := []struct {
		confidence float64
		review     bool
	}{
		{0.95, false},
		{0.8, false},
		{0.5, true},
	}
	for _, tt := range tests {
		doc, err := d.ApplyClassification(ctx, 1, reportURL, "Annual Report", tt.confidence)
		if err != nil {
			t.Fatalf("ApplyClassification() error = %v", err)
		}
		if doc.NeedsReview != tt.review {
			t.Errorf("confidence %.2f: NeedsReview = %v, want %v", tt.confidence, doc.NeedsReview, tt.review)
		}
		if doc.ClassifierConfidence == nil || *doc.ClassifierConfidence != tt.confidence {
			t.Errorf("confidence not stored: %v", doc.ClassifierConfidence)
		}
		if doc.DocType != "Annual Report" {
			t.Errorf("DocType = %q", doc.DocType)
		}
	}
}
