package model

import "time"

// RunStatus is the overall outcome of a company run.
type RunStatus string

// Run statuses.
const (
	// RunOK means every candidate and page was processed without error.
	RunOK RunStatus = "ok"
	// RunPartial means the run finished but some items failed.
	RunPartial RunStatus = "partial"
	// RunFailed means the run was aborted: invalid company or store outage.
	RunFailed RunStatus = "failed"
)

// RunSummary is the outcome of one company run. Counts are reported even
// when the run fails part way.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	CompanyID   int64     `json:"company_id"`
	CompanyName string    `json:"company_name"`
	Status      RunStatus `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`

	Discovered      int `json:"documents_discovered"`
	Downloaded      int `json:"documents_downloaded"`
	New             int `json:"documents_new"`
	Updated         int `json:"documents_updated"`
	Unchanged       int `json:"documents_unchanged"`
	Failed          int `json:"documents_failed"`
	Deferred        int `json:"documents_deferred"`
	RetriesReplayed int `json:"retries_replayed"`
	PagesObserved   int `json:"pages_observed"`

	PageChanges map[PageChangeType]int `json:"page_changes"`
	Errors      int                    `json:"errors"`
	Messages    []string               `json:"error_messages,omitempty"`
}

// NewRunSummary creates an empty summary for a company.
func NewRunSummary(runID string, companyID int64, started time.Time) *RunSummary {
	return &RunSummary{
		RunID:       runID,
		CompanyID:   companyID,
		Status:      RunOK,
		StartedAt:   started,
		PageChanges: make(map[PageChangeType]int),
	}
}

// Changed returns the number of new or updated documents.
func (s *RunSummary) Changed() int {
	return s.New + s.Updated
}

// TotalPageChanges sums PageChanges.
func (s *RunSummary) TotalPageChanges() int {
	n := 0
	for _, c := range s.PageChanges {
		n += c
	}
	return n
}

// HasChanges reports whether the run found anything new.
func (s *RunSummary) HasChanges() bool {
	return s.Changed() > 0 || s.TotalPageChanges() > 0
}

// AddError counts an error and keeps its message. Only the first 20
// messages are kept.
func (s *RunSummary) AddError(msg string) {
	s.Errors++
	if len(s.Messages) < 20 {
		s.Messages = append(s.Messages, msg)
	}
}

// Duration returns how long the run took.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Finish sets the final status and finish time.
func (s *RunSummary) Finish(now time.Time) {
	s.FinishedAt = now
	if s.Status == RunFailed {
		return
	}
	if s.Errors > 0 {
		s.Status = RunPartial
	}
}
