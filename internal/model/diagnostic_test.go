package model

import (
	"testing"
	"time"
)

func TestSummarizeDiagnostics(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		s := SummarizeDiagnostics(nil)
		if s.Total != 0 || s.AvgDuration != 0 || s.ByStrategy == nil {
			t.Errorf("unexpected summary %+v", s)
		}
	})

	t.Run("skipped attempts have no duration", func(t *testing.T) {
		t.Parallel()

		ds := []*Diagnostic{
			{Strategy: StrategyEDGAR, Duration: 100 * time.Millisecond},
			{Strategy: StrategyEDGAR, Duration: 400 * time.Millisecond, Error: "HTTP 500"},
			{Strategy: StrategyTavily, Blocked: true, Skipped: true, Error: "domain cooling down"},
		}
		s := SummarizeDiagnostics(ds)
		if s.Total != 3 || s.Blocked != 1 || s.Errors != 1 {
			t.Errorf("unexpected counts %+v", s)
		}
		if s.AvgDuration != 250*time.Millisecond || s.P95Duration != 400*time.Millisecond {
			t.Errorf("unexpected durations avg=%v p95=%v", s.AvgDuration, s.P95Duration)
		}
		if s.ByStrategy[StrategyEDGAR] != 2 || s.ByStrategy[StrategyTavily] != 1 {
			t.Errorf("unexpected per-strategy counts %v", s.ByStrategy)
		}
	})

	t.Run("nearest rank percentile", func(t *testing.T) {
		t.Parallel()

		ds := make([]*Diagnostic, 20)
		for i := range ds {
			ds[i] = &Diagnostic{Strategy: StrategyHTMLScrape, Duration: time.Duration(20-i) * time.Second}
		}
		if got := SummarizeDiagnostics(ds).P95Duration; got != 19*time.Second {
			t.Errorf("P95Duration = %v, want 19s", got)
		}
	})
}
