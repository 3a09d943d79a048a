package report

import (
	"io"
	"slices"
	"time"

	"github.com/nao1215/finwatch/internal/model"
)

// timeLayout is used by the text and Markdown writers.
const timeLayout = "2006-01-02 15:04:05 MST"

// Writer renders finwatch results to some destination.
type Writer interface {
	// Write outputs the summaries of one or more company runs.
	Write(r *RunReport) (int, error)

	// WriteChanges outputs document and page change logs.
	WriteChanges(c *ChangeReport) (int, error)

	// WriteRetries outputs retry ledger entries.
	WriteRetries(records []*model.RetryRecord) (int, error)

	// WriteCompanies outputs tracked companies.
	WriteCompanies(companies []*model.Company) (int, error)

	// WriteCooldowns outputs active domain cooldowns.
	WriteCooldowns(cooldowns []model.DomainCooldown) (int, error)

	// WriteDiagnostics outputs discovery strategy statistics.
	WriteDiagnostics(d *DiagnosticsReport) (int, error)
}

// RunReport groups the summaries of one invocation.
type RunReport struct {
	Version     string              `json:"version,omitempty"`
	GeneratedAt time.Time           `json:"generated_at"`
	Runs        []*model.RunSummary `json:"runs"`
}

// NewRunReport creates a report over runs.
func NewRunReport(version string, generatedAt time.Time, runs []*model.RunSummary) *RunReport {
	return &RunReport{Version: version, GeneratedAt: generatedAt, Runs: runs}
}

// Totals sums the counts of every run into one summary. Its status is the
// worst status of any run.
func (r *RunReport) Totals() *model.RunSummary {
	total := model.NewRunSummary("", 0, r.GeneratedAt)
	for _, s := range r.Runs {
		total.Discovered += s.Discovered
		total.Downloaded += s.Downloaded
		total.New += s.New
		total.Updated += s.Updated
		total.Unchanged += s.Unchanged
		total.Failed += s.Failed
		total.Deferred += s.Deferred
		total.RetriesReplayed += s.RetriesReplayed
		total.PagesObserved += s.PagesObserved
		total.Errors += s.Errors
		for typ, n := range s.PageChanges {
			total.PageChanges[typ] += n
		}
		total.Status = worse(total.Status, s.Status)
	}
	return total
}

// FailedRuns counts runs that were aborted.
func (r *RunReport) FailedRuns() int {
	n := 0
	for _, s := range r.Runs {
		if s.Status == model.RunFailed {
			n++
		}
	}
	return n
}

func worse(a, b model.RunStatus) model.RunStatus {
	rank := func(s model.RunStatus) int {
		switch s {
		case model.RunFailed:
			return 2
		case model.RunPartial:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// ChangeReport is the change log of one or all companies, newest first.
type ChangeReport struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Documents   []*model.DocumentChange `json:"document_changes"`
	Pages       []*model.PageChange     `json:"page_changes"`
}

// Empty reports whether there are no changes at all.
func (c *ChangeReport) Empty() bool {
	return len(c.Documents) == 0 && len(c.Pages) == 0
}

// DiagnosticsReport aggregates strategy attempts since a point in time.
// Attempts is filled when a single run is inspected.
type DiagnosticsReport struct {
	Since    time.Time                `json:"since"`
	RunID    string                   `json:"run_id,omitempty"`
	Summary  *model.DiagnosticSummary `json:"summary"`
	Attempts []*model.Diagnostic      `json:"attempts,omitempty"`
}

// MultiWriter writes to several Writers in turn, stopping at the first
// error.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the run report to all Writers.
func (m *MultiWriter) Write(r *RunReport) (int, error) {
	return m.each(func(w Writer) (int, error) { return w.Write(r) })
}

// WriteChanges outputs the change report to all Writers.
func (m *MultiWriter) WriteChanges(c *ChangeReport) (int, error) {
	return m.each(func(w Writer) (int, error) { return w.WriteChanges(c) })
}

// WriteRetries outputs retry records to all Writers.
func (m *MultiWriter) WriteRetries(records []*model.RetryRecord) (int, error) {
	return m.each(func(w Writer) (int, error) { return w.WriteRetries(records) })
}

// WriteCompanies outputs companies to all Writers.
func (m *MultiWriter) WriteCompanies(companies []*model.Company) (int, error) {
	return m.each(func(w Writer) (int, error) { return w.WriteCompanies(companies) })
}

// WriteCooldowns outputs cooldowns to all Writers.
func (m *MultiWriter) WriteCooldowns(cooldowns []model.DomainCooldown) (int, error) {
	return m.each(func(w Writer) (int, error) { return w.WriteCooldowns(cooldowns) })
}

// WriteDiagnostics outputs diagnostics to all Writers.
func (m *MultiWriter) WriteDiagnostics(d *DiagnosticsReport) (int, error) {
	return m.each(func(w Writer) (int, error) { return w.WriteDiagnostics(d) })
}

func (m *MultiWriter) each(fn func(w Writer) (int, error)) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := fn(w)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// formatNext renders an optional retry time.
func formatNext(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(timeLayout)
}

func activeText(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

// truncateString shortens s to maxLen runes, ending with an ellipsis.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

func sortedStrategies(m map[model.StrategyKind]int) []model.StrategyKind {
	keys := make([]model.StrategyKind, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func attemptOutcome(d *model.Diagnostic) string {
	switch {
	case d.Skipped:
		return "skipped"
	case d.Blocked:
		return "blocked"
	case d.Error != "":
		return "error"
	default:
		return "ok"
	}
}
