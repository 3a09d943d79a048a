package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	t.Parallel()

	m := New()
	m.StrategyAttempt("TAVILY", OutcomeOK, time.Second)
	m.StrategyAttempt("TAVILY", OutcomeOK, time.Second)
	m.StrategyAttempt("EDGAR", OutcomeSkipped, 0)
	m.Document("NEW")
	m.PageChange("NEW_DOC_LINKED")
	m.Retry("DEAD")
	m.DomainBlocked("ir.acme.com")
	m.Candidates(3)
	m.Run("ok", time.Minute)

	if got := testutil.ToFloat64(m.strategyAttempts.WithLabelValues("TAVILY", OutcomeOK)); got != 2 {
		t.Errorf("TAVILY ok attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.documents.WithLabelValues("NEW")); got != 1 {
		t.Errorf("NEW documents = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.candidates); got != 3 {
		t.Errorf("candidates = %v, want 3", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.StrategyAttempt("X", OutcomeError, time.Second)
	m.Document("NEW")
	m.PageChange("PAGE_ADDED")
	m.Retry("PENDING")
	m.DomainBlocked("a.com")
	m.Candidates(1)
	m.Run("failed", time.Second)
	if m.Registry() != nil {
		t.Error("nil Metrics should have nil registry")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	m := New()
	m.Document("UPDATED")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `finwatch_documents_total{status="UPDATED"} 1`) {
		t.Errorf("exposition missing documents counter:\n%s", rec.Body.String())
	}
}
