package ingest

import (
	"sync"
	"time"

	"github.com/nao1215/finwatch/internal/model"
)

// taken marks a URL whose candidate has already been handed to a step.
const taken = -1

// Run is the state shared by the steps of one company run.
type Run struct {
	ID      string
	Company *model.Company
	// Deadline is the soft deadline after which remaining candidates are
	// deferred. Zero means none.
	Deadline time.Time

	mu        sync.Mutex
	summary   *model.RunSummary
	seen      map[string]int
	pending   []model.DiscoveryCandidate
	performed []string
}

func newRun(id string, company *model.Company, summary *model.RunSummary, deadline time.Time) *Run {
	return &Run{
		ID:       id,
		Company:  company,
		Deadline: deadline,
		summary:  summary,
		seen:     make(map[string]int),
	}
}

// enqueue adds a candidate unless its URL was already queued in this run.
// A replayed retry that is also discovered fresh takes the fresh
// provenance. It reports whether the URL is new to the run.
func (r *Run) enqueue(c model.DiscoveryCandidate) bool {
	c.URL = model.NormalizeURL(c.URL)
	if c.URL == "" {
		return false
	}
	if c.SourceDomain == "" {
		c.SourceDomain = model.DomainOf(c.URL)
	}
	c.CompanyID = r.Company.ID

	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.seen[c.URL]; ok {
		if i != taken && r.pending[i].Strategy == model.StrategyRetry && c.Strategy != model.StrategyRetry {
			r.pending[i] = c
		}
		return false
	}
	r.seen[c.URL] = len(r.pending)
	r.pending = append(r.pending, c)
	return true
}

// take returns and clears the queued candidates.
func (r *Run) take() []model.DiscoveryCandidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	for _, c := range out {
		r.seen[c.URL] = taken
	}
	return out
}

// record updates the summary under the run lock.
func (r *Run) record(fn func(s *model.RunSummary)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.summary)
}

// addError counts an item failure in the summary.
func (r *Run) addError(msg string) {
	r.record(func(s *model.RunSummary) { s.AddError(msg) })
}

// pastDeadline reports whether the soft deadline has passed at now.
func (r *Run) pastDeadline(now time.Time) bool {
	return !r.Deadline.IsZero() && !now.Before(r.Deadline)
}

func (r *Run) markPerformed(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.performed = append(r.performed, step)
}

// Performed returns the steps that completed.
func (r *Run) Performed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.performed...)
}
