package pagediff

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/finwatch/internal/clock"
	"github.com/nao1215/finwatch/internal/fingerprint"
	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/store"
)

const pageURL = "https://ir.acme.example/investors"

var (
	hashA = fingerprint.Text("A").String()
	hashB = fingerprint.Text("B").String()
	now   = clock.Fixed().Now()
)

func snapshot(hash string, active bool, pdfs ...string) *model.PageSnapshot {
	return &model.PageSnapshot{
		ID:          7,
		CompanyID:   1,
		URL:         pageURL,
		ContentHash: hash,
		PDFCount:    len(pdfs),
		KnownPDFs:   pdfs,
		StatusCode:  200,
		Active:      active,
		Text:        "Investors\nAnnual report 2023",
		FirstSeen:   now.Add(-48 * time.Hour),
		LastSeen:    now.Add(-24 * time.Hour),
	}
}

func reachable(hash string, pdfs ...string) model.PageObservation {
	return model.PageObservation{
		CompanyID:  1,
		PageURL:    pageURL,
		Hash:       hash,
		Text:       "Investors\nAnnual report 2024\nQ1 results",
		PDFURLs:    pdfs,
		StatusCode: 200,
	}
}

func failed(status int) model.PageObservation {
	return model.PageObservation{
		CompanyID:  1,
		PageURL:    pageURL,
		StatusCode: status,
		Err:        &model.FetchError{URL: pageURL, Reason: model.ReasonForStatus(status), StatusCode: status},
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		prior      *model.PageSnapshot
		obs        model.PageObservation
		wantType   model.PageChangeType
		wantNone   bool
		wantStored bool
		wantActive bool
	}{
		{
			name:       "new page is added",
			obs:        reachable(hashA, "https://ir.acme.example/a.pdf"),
			wantType:   model.PageAdded,
			wantStored: true,
			wantActive: true,
		},
		{
			name:     "failing page without snapshot emits nothing",
			obs:      failed(404),
			wantNone: true,
		},
		{
			name:       "404 deletes an active page",
			prior:      snapshot(hashA, true),
			obs:        failed(404),
			wantType:   model.PageDeleted,
			wantStored: true,
		},
		{
			name:       "410 deletes an active page",
			prior:      snapshot(hashA, true),
			obs:        failed(410),
			wantType:   model.PageDeleted,
			wantStored: true,
		},
		{
			name:       "single 500 is not a deletion",
			prior:      snapshot(hashA, true),
			obs:        failed(500),
			wantNone:   true,
			wantStored: true,
			wantActive: true,
		},
		{
			name:     "blocked fetch leaves the snapshot alone",
			prior:    snapshot(hashA, true),
			obs:      failed(403),
			wantNone: true,
		},
		{
			name:       "inactive page failing again emits nothing",
			prior:      snapshot(hashA, false),
			obs:        failed(404),
			wantNone:   true,
			wantStored: true,
		},
		{
			name:       "inactive page reachable again is added",
			prior:      snapshot(hashA, false),
			obs:        reachable(hashA),
			wantType:   model.PageAdded,
			wantStored: true,
			wantActive: true,
		},
		{
			name:       "changed hash with new pdf links a document",
			prior:      snapshot(hashA, true, "https://ir.acme.example/a.pdf"),
			obs:        reachable(hashB, "https://ir.acme.example/a.pdf", "https://ir.acme.example/b.pdf"),
			wantType:   model.NewDocLinked,
			wantStored: true,
			wantActive: true,
		},
		{
			name:       "changed hash without new pdf is a content change",
			prior:      snapshot(hashA, true, "https://ir.acme.example/a.pdf"),
			obs:        reachable(hashB, "https://ir.acme.example/a.pdf"),
			wantType:   model.ContentChanged,
			wantStored: true,
			wantActive: true,
		},
		{
			name:       "removed pdf alone is a content change",
			prior:      snapshot(hashA, true, "https://ir.acme.example/a.pdf"),
			obs:        reachable(hashB),
			wantType:   model.ContentChanged,
			wantStored: true,
			wantActive: true,
		},
		{
			name:       "identical hash refreshes last seen only",
			prior:      snapshot(hashA, true, "https://ir.acme.example/a.pdf"),
			obs:        reachable(hashA, "https://ir.acme.example/a.pdf"),
			wantNone:   true,
			wantStored: true,
			wantActive: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Classify(tt.prior, tt.obs, now, 0)
			if tt.wantNone {
				if got.Change != nil {
					t.Fatalf("expected no change, got %s", got.Change.Type)
				}
			} else {
				if got.Change == nil {
					t.Fatalf("expected %s, got no change", tt.wantType)
				}
				if got.Change.Type != tt.wantType {
					t.Errorf("Type = %s, want %s", got.Change.Type, tt.wantType)
				}
				if got.Change.DiffSummary == "" {
					t.Error("expected a diff summary")
				}
			}
			if (got.Snapshot != nil) != tt.wantStored {
				t.Fatalf("Snapshot = %+v, want stored %v", got.Snapshot, tt.wantStored)
			}
			if got.Snapshot != nil && got.Snapshot.Active != tt.wantActive {
				t.Errorf("Active = %v, want %v", got.Snapshot.Active, tt.wantActive)
			}
		})
	}
}

// Scenario: same hash, one extra PDF on a page with two known PDFs.
func TestClassifyNewPDFWithSameHash(t *testing.T) {
	t.Parallel()

	known := []string{"https://ir.acme.example/a.pdf", "https://ir.acme.example/b.pdf"}
	extra := "https://ir.acme.example/c.pdf"
	prior := snapshot(hashA, true, known...)

	got := Classify(prior, reachable(hashA, known[0], known[1], extra), now, 0)
	if got.Change == nil || got.Change.Type != model.NewDocLinked {
		t.Fatalf("expected NEW_DOC_LINKED, got %+v", got.Change)
	}
	if len(got.Change.NewPDFURLs) != 1 || got.Change.NewPDFURLs[0] != extra {
		t.Errorf("NewPDFURLs = %v, want [%s]", got.Change.NewPDFURLs, extra)
	}
	if got.Change.DiffSummary != "1 new PDF(s) linked: "+extra {
		t.Errorf("DiffSummary = %q", got.Change.DiffSummary)
	}
	if got.Snapshot.PDFCount != 3 || len(got.Snapshot.KnownPDFs) != 3 {
		t.Errorf("unexpected snapshot pdfs %d %v", got.Snapshot.PDFCount, got.Snapshot.KnownPDFs)
	}
	if len(prior.KnownPDFs) != 2 {
		t.Errorf("Classify modified the prior snapshot: %v", prior.KnownPDFs)
	}
}

func TestClassifySnapshotUpdates(t *testing.T) {
	t.Parallel()

	prior := snapshot(hashA, true, "https://ir.acme.example/a.pdf")
	prior.FailureStreak = 2

	got := Classify(prior, reachable(hashB), now, 0)
	s := got.Snapshot
	if s.ContentHash != hashB {
		t.Errorf("ContentHash = %s, want latest hash", s.ContentHash)
	}
	if s.FailureStreak != 0 || !s.LastSeen.Equal(now) || !s.FirstSeen.Equal(prior.FirstSeen) {
		t.Errorf("unexpected snapshot %+v", s)
	}
	if len(s.KnownPDFs) != 1 || s.PDFCount != 0 {
		t.Errorf("known pdfs must be kept while the current count drops, got %v / %d", s.KnownPDFs, s.PDFCount)
	}
	if got.Change.OldHash != hashA || got.Change.NewHash != hashB {
		t.Errorf("unexpected hashes %s -> %s", got.Change.OldHash, got.Change.NewHash)
	}
}

func TestClassifySustainedFailure(t *testing.T) {
	t.Parallel()

	prior := snapshot(hashA, true)
	timeout := model.PageObservation{
		CompanyID: 1,
		PageURL:   pageURL,
		Err:       &model.FetchError{URL: pageURL, Reason: model.ReasonTimeout, Err: context.DeadlineExceeded},
	}

	for i := 1; i <= 3; i++ {
		got := Classify(prior, timeout, now, 3)
		if got.Snapshot.FailureStreak != i {
			t.Fatalf("FailureStreak = %d, want %d", got.Snapshot.FailureStreak, i)
		}
		if i < 3 && got.Change != nil {
			t.Fatalf("attempt %d: unexpected %s", i, got.Change.Type)
		}
		if i == 3 {
			if got.Change == nil || got.Change.Type != model.PageDeleted {
				t.Fatalf("expected PAGE_DELETED after 3 failures, got %+v", got.Change)
			}
			if !strings.Contains(got.Change.DiffSummary, "3 consecutive failures") {
				t.Errorf("DiffSummary = %q", got.Change.DiffSummary)
			}
			if got.Snapshot.ContentHash != hashA {
				t.Error("deleted page must keep its last known hash")
			}
		}
		prior = got.Snapshot
	}
}

func TestDiffSummary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		old  string
		new  string
		want string
	}{
		{
			name: "added and removed",
			old:  "Investors\nAnnual report 2023\nContact",
			new:  "Investors\nAnnual report 2024\nQ1 results\nContact",
			want: "+2 lines added, -1 lines removed. Sample: Annual report 2024 | Q1 results",
		},
		{
			name: "only removed",
			old:  "a\nb\nc",
			new:  "a\nc",
			want: "+0 lines added, -1 lines removed. Sample: ",
		},
		{
			name: "sample keeps three lines",
			old:  "",
			new:  "one\ntwo\nthree\nfour",
			want: "+4 lines added, -0 lines removed. Sample: one | two | three",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DiffSummary(tt.old, tt.new); got != tt.want {
				t.Errorf("DiffSummary() = %q, want %q", got, tt.want)
			}
		})
	}

	long := DiffSummary("", strings.Repeat("x", 500))
	sample := strings.SplitN(long, "Sample: ", 2)[1]
	if len([]rune(sample)) != sampleMaxLength {
		t.Errorf("sample has %d runes, want %d", len([]rune(sample)), sampleMaxLength)
	}
}

func TestLinkedSummary(t *testing.T) {
	t.Parallel()

	got := LinkedSummary([]string{"a.pdf", "b.pdf", "c.pdf", "d.pdf"})
	if got != "4 new PDF(s) linked: a.pdf, b.pdf, c.pdf" {
		t.Errorf("LinkedSummary() = %q", got)
	}
}

func TestDifferObserve(t *testing.T) {
	t.Parallel()

	stub := clock.Fixed()
	opts := store.DefaultOptions()
	opts.Clock = stub
	db, err := store.Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	company := &model.Company{Name: "Acme", WebsiteURL: "https://ir.acme.example", Active: true}
	if err := db.CreateCompany(ctx, company); err != nil {
		t.Fatalf("CreateCompany() error = %v", err)
	}

	d := New(db, WithClock(stub), WithMaxConsecutiveFailures(2))
	observe := func(obs model.PageObservation) *model.PageChange {
		t.Helper()
		obs.CompanyID = company.ID
		change, err := d.Observe(ctx, obs)
		if err != nil {
			t.Fatalf("Observe() error = %v", err)
		}
		stub.Advance(time.Hour)
		return change
	}

	if c := observe(failed(503)); c != nil {
		t.Fatalf("unknown failing page emitted %s", c.Type)
	}
	if c := observe(reachable(hashA, "https://ir.acme.example/a.pdf")); c == nil || c.Type != model.PageAdded {
		t.Fatalf("expected PAGE_ADDED, got %+v", c)
	}
	if c := observe(reachable(hashA, "https://ir.acme.example/a.pdf")); c != nil {
		t.Fatalf("unchanged page emitted %s", c.Type)
	}
	if c := observe(reachable(hashB, "https://ir.acme.example/a.pdf", "https://ir.acme.example/b.pdf")); c == nil || c.Type != model.NewDocLinked {
		t.Fatalf("expected NEW_DOC_LINKED, got %+v", c)
	}
	if c := observe(failed(500)); c != nil {
		t.Fatalf("first failure emitted %s", c.Type)
	}
	if c := observe(failed(500)); c == nil || c.Type != model.PageDeleted {
		t.Fatalf("expected PAGE_DELETED, got %+v", c)
	}

	snap, err := db.GetPage(ctx, company.ID, pageURL)
	if err != nil {
		t.Fatalf("GetPage() error = %v", err)
	}
	if snap.Active || snap.ContentHash != hashB || len(snap.KnownPDFs) != 2 {
		t.Errorf("unexpected final snapshot %+v", snap)
	}

	changes, err := db.ListPageChanges(ctx, company.ID, 0)
	if err != nil {
		t.Fatalf("ListPageChanges() error = %v", err)
	}
	if len(changes) != 3 {
		t.Errorf("expected 3 change rows, got %d", len(changes))
	}
}

func TestDifferStoreError(t *testing.T) {
	t.Parallel()

	d := New(failingStore{})
	_, err := d.Observe(context.Background(), reachable(hashA))
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

type failingStore struct{}

func (failingStore) MutatePage(context.Context, int64, string, store.PageMutation) (*model.PageSnapshot, *model.PageChange, error) {
	return nil, nil, model.ErrStoreUnavailable
}
