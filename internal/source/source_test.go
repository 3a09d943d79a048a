package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nao1215/finwatch/internal/model"
)

var acme = &model.Company{ID: 1, Name: "Acme Corp", WebsiteURL: "https://acme.example"}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode: %v", err)
	}
}

func TestFirecrawl(t *testing.T) {
	t.Parallel()

	t.Run("returns pdf urls", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/v0/crawl" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer fc-key" {
				t.Errorf("unexpected authorization %q", got)
			}
			var req firecrawlRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode: %v", err)
				return
			}
			if req.URL != acme.WebsiteURL || !req.CrawlerOptions.ReturnOnlyURLs || req.CrawlerOptions.Limit != 200 {
				t.Errorf("unexpected request body %+v", req)
			}
			writeJSON(t, w, map[string]any{"data": []map[string]string{
				{"url": "https://acme.example/ar.pdf"},
				{"url": "https://acme.example/about"},
				{"url": "https://acme.example/Q1.PDF"},
			}})
		}))
		defer srv.Close()

		fc := NewFirecrawl("fc-key", 0, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
		report, err := fc.Strategy().Discover(context.Background(), acme)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(report.Found) != 2 {
			t.Errorf("expected 2 pdf urls, got %+v", report.Found)
		}
		if report.StatusCode != http.StatusOK {
			t.Errorf("expected status 200, got %d", report.StatusCode)
		}
	})

	t.Run("missing key is a configuration error", func(t *testing.T) {
		t.Parallel()

		_, err := NewFirecrawl("", 0).Discover(context.Background(), acme)
		var ce *model.ConfigurationError
		if !errors.As(err, &ce) {
			t.Errorf("expected ConfigurationError, got %v", err)
		}
	})

	t.Run("rate limit is a block signal", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		fc := NewFirecrawl("fc-key", 10, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
		report, err := fc.Discover(context.Background(), acme)
		if err == nil {
			t.Fatal("expected error")
		}
		if !report.Blocked || report.StatusCode != http.StatusTooManyRequests {
			t.Errorf("unexpected report %+v", report)
		}
	})

	t.Run("hosts are the api domain", func(t *testing.T) {
		t.Parallel()

		s := NewFirecrawl("k", 0).Strategy()
		if got := s.Domains(acme); len(got) != 1 || got[0] != "api.firecrawl.dev" {
			t.Errorf("unexpected domains %v", got)
		}
	})
}

func TestTavily(t *testing.T) {
	t.Parallel()

	t.Run("runs every query", func(t *testing.T) {
		t.Parallel()

		var (
			mu      sync.Mutex
			queries []string
			calls   atomic.Int32
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			var req tavilyRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode: %v", err)
				return
			}
			if req.APIKey != "tv-key" || req.SearchDepth != "advanced" || req.MaxResults != 15 {
				t.Errorf("unexpected request %+v", req)
			}
			mu.Lock()
			queries = append(queries, req.Query)
			mu.Unlock()
			writeJSON(t, w, map[string]any{"results": []map[string]string{
				{"url": "https://acme.example/" + strings.Fields(req.Query)[2] + ".pdf"},
				{"url": "https://news.example/article"},
			}})
		}))
		defer srv.Close()

		tv := NewTavily("tv-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
		report, err := tv.Discover(context.Background(), acme)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls.Load() != 3 {
			t.Fatalf("expected 3 queries, got %d", calls.Load())
		}
		mu.Lock()
		defer mu.Unlock()
		if !strings.HasPrefix(queries[0], "Acme Corp annual report") {
			t.Errorf("unexpected query %q", queries[0])
		}
		if len(report.Found) != 3 {
			t.Errorf("expected 3 pdf urls, got %+v", report.Found)
		}
	})

	t.Run("partial failure keeps results", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			writeJSON(t, w, map[string]any{"results": []map[string]string{{"url": "https://acme.example/x.pdf"}}})
		}))
		defer srv.Close()

		tv := NewTavily("tv-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
		report, err := tv.Discover(context.Background(), acme)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(report.Found) != 2 {
			t.Errorf("expected 2 found, got %+v", report.Found)
		}
	})

	t.Run("all queries failing is an error", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		tv := NewTavily("tv-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
		report, err := tv.Discover(context.Background(), acme)
		if model.ReasonOf(err) != model.ReasonHTTP5xx {
			t.Errorf("expected HTTP_5XX, got %v", err)
		}
		if report.StatusCode != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d", report.StatusCode)
		}
	})

	t.Run("block stops remaining queries", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		tv := NewTavily("tv-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
		report, _ := tv.Discover(context.Background(), acme)
		if !report.Blocked {
			t.Error("expected block signal")
		}
		if calls.Load() != 1 {
			t.Errorf("expected 1 call, got %d", calls.Load())
		}
	})
}

func TestEDGAR(t *testing.T) {
	t.Parallel()

	t.Run("builds archive urls for pdf filings", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/LATEST/search-index" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if got := r.URL.Query().Get("q"); got != `"Acme Corp"` {
				t.Errorf("unexpected query %q", got)
			}
			if got := r.URL.Query().Get("forms"); got != "10-K,10-Q,20-F" {
				t.Errorf("unexpected forms %q", got)
			}
			if !strings.Contains(r.Header.Get("User-Agent"), "ir@acme.example") {
				t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
			}
			_, _ = w.Write([]byte(`{"hits":{"hits":[ 
				{"_id":"0000320193-23-000106:acme-ar-2023.pdf","_source":{"ciks":["0000320193"],"form":"10-K"}},
				{"_id":"0000320193-23-000107:acme-10q.htm","_source":{"ciks":["0000320193"],"form":"10-Q"}},
				{"_id":"broken","_source":{"ciks":["0000320193"]}},
				{"_id":"0000320193-23-000108:x.pdf","_source":{"ciks":[]}}
			]}}`)) //nolint:errcheck
		}))
		defer srv.Close()

		ed := NewEDGAR("https://www.sec.gov", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithUserAgent("finwatch ir@acme.example"))
		report, err := ed.Discover(context.Background(), acme)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := "https://www.sec.gov/Archives/edgar/data/320193/000032019323000106/acme-ar-2023.pdf"
		if len(report.Found) != 1 || report.Found[0].URL != want {
			t.Errorf("unexpected found %+v", report.Found)
		}
	})

	t.Run("malformed response is a parse error", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>`)) //nolint:errcheck
		}))
		defer srv.Close()

		ed := NewEDGAR("", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
		_, err := ed.Discover(context.Background(), acme)
		if model.ReasonOf(err) != model.ReasonParseError {
			t.Errorf("expected PARSE_ERROR, got %v", err)
		}
	})

	t.Run("strategy is regulatory", func(t *testing.T) {
		t.Parallel()

		s := NewEDGAR("").Strategy()
		if s.SourceType() != model.SourceRegulatory || s.Kind() != model.StrategyEDGAR {
			t.Errorf("unexpected strategy %+v", s)
		}
		if got := s.Domains(acme); got[0] != "efts.sec.gov" {
			t.Errorf("unexpected domains %v", got)
		}
	})
}

func TestClassifier(t *testing.T) {
	t.Parallel()

	doc := &model.Document{ID: 42, URL: "https://acme.example/ar.pdf", ContentType: "application/pdf"}

	t.Run("returns label and confidence", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/classify" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			var req classifyRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode: %v", err)
				return
			}
			content, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil || string(content) != "%PDF-1.7" || req.DocumentID != 42 {
				t.Errorf("unexpected request body %+v", req)
			}
			writeJSON(t, w, map[string]any{"doc_type": "Annual Report", "confidence": 0.42})
		}))
		defer srv.Close()

		c := NewClassifier(srv.URL, WithHTTPClient(srv.Client()))
		got, err := c.Classify(context.Background(), doc, []byte("%PDF-1.7"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.DocType != "Annual Report" || got.Confidence != 0.42 {
			t.Errorf("unexpected classification %+v", got)
		}
	})

	tests := []struct {
		name    string
		status  int
		payload map[string]any
	}{
		{name: "server error", status: http.StatusInternalServerError},
		{name: "missing confidence", status: http.StatusOK, payload: map[string]any{"doc_type": "Annual Report"}},
		{name: "confidence out of range", status: http.StatusOK, payload: map[string]any{"confidence": 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.payload == nil {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(t, w, tt.payload)
			}))
			defer srv.Close()

			c := NewClassifier(srv.URL, WithHTTPClient(srv.Client()))
			if _, err := c.Classify(context.Background(), doc, nil); !errors.Is(err, ErrClassifierUnavailable) {
				t.Errorf("expected ErrClassifierUnavailable, got %v", err)
			}
		})
	}
}
