package model

import (
	"slices"
	"time"
)

// Diagnostic records one discovery strategy attempt against one domain.
// Skips caused by a cooling-down domain are recorded with Blocked set.
type Diagnostic struct {
	ID         int64         `json:"id"`
	RunID      string        `json:"run_id"`
	CompanyID  int64         `json:"company_id"`
	Domain     string        `json:"domain"`
	Strategy   StrategyKind  `json:"strategy"`
	PageURL    string        `json:"page_url,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Blocked    bool          `json:"blocked"`
	Skipped    bool          `json:"skipped"`
	Error      string        `json:"error_message,omitempty"`
	RetryCount int           `json:"retry_count"`
	Found      int           `json:"found"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

// DiagnosticSummary aggregates diagnostics over a window.
type DiagnosticSummary struct {
	Total       int                  `json:"total"`
	Blocked     int                  `json:"blocked"`
	Errors      int                  `json:"errors"`
	AvgDuration time.Duration        `json:"avg_duration"`
	P95Duration time.Duration        `json:"p95_duration"`
	ByStrategy  map[StrategyKind]int `json:"by_strategy"`
}

// SummarizeDiagnostics aggregates ds. Skipped attempts count toward Total
// (and Blocked when a cooldown caused them) but not toward Errors or
// durations. P95Duration is the
// nearest-rank 95th percentile.
func SummarizeDiagnostics(ds []*Diagnostic) *DiagnosticSummary {
	summary := &DiagnosticSummary{ByStrategy: make(map[StrategyKind]int)}
	var durations []time.Duration
	for _, d := range ds {
		summary.Total++
		summary.ByStrategy[d.Strategy]++
		if d.Blocked {
			summary.Blocked++
		}
		if d.Skipped {
			continue
		}
		if d.Error != "" {
			summary.Errors++
		}
		durations = append(durations, d.Duration)
	}
	if len(durations) == 0 {
		return summary
	}

	slices.Sort(durations)
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	summary.AvgDuration = total / time.Duration(len(durations))
	rank := (len(durations)*95 + 99) / 100
	summary.P95Duration = durations[max(rank, 1)-1]
	return summary
}
