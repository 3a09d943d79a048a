package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/finwatch/internal/model"
)

func writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(body)) //nolint:errcheck
}

func newSiteServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeHTML(w, `<html><body>
			<a href="/investors">Investors</a>
			<a href="/news">News</a>
			<a href="/files/annual.pdf">Annual</a>
			<a href="/style.css">css</a>
		</body></html>`)
	})
	mux.HandleFunc("/investors", func(w http.ResponseWriter, _ *http.Request) {
		writeHTML(w, `<html><body>
			<a href="/investors/archive">Archive</a>
			<a href="/files/q1.pdf">Q1</a>
			<a href="/files/annual.pdf">Annual again</a>
		</body></html>`)
	})
	mux.HandleFunc("/investors/archive", func(w http.ResponseWriter, _ *http.Request) {
		writeHTML(w, `<html><body><a href="/files/2019.pdf">2019</a></body></html>`)
	})
	mux.HandleFunc("/news", func(w http.ResponseWriter, _ *http.Request) {
		writeHTML(w, `<html><body>No documents</body></html>`)
	})
	mux.HandleFunc("/style.css", func(w http.ResponseWriter, _ *http.Request) {
		t.Error("spider fetched an ignored asset")
	})
	return httptest.NewServer(mux)
}

func TestSpiderCrawl(t *testing.T) {
	t.Parallel()

	t.Run("crawls single page at depth zero", func(t *testing.T) {
		t.Parallel()

		srv := newSiteServer(t)
		defer srv.Close()

		spider := NewSpider(NewFetcher(srv.Client()))
		result, err := spider.Crawl(context.Background(), srv.URL, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Pages) != 1 {
			t.Fatalf("expected 1 page, got %d", len(result.Pages))
		}
		if len(result.PDFLinks) != 1 || result.PDFLinks[0] != srv.URL+"/files/annual.pdf" {
			t.Errorf("unexpected pdf links %v", result.PDFLinks)
		}
		if result.Root().Hash.IsEmpty() {
			t.Error("expected a page hash")
		}
	})

	t.Run("follows links within depth limit", func(t *testing.T) {
		t.Parallel()

		srv := newSiteServer(t)
		defer srv.Close()

		spider := NewSpider(NewFetcher(srv.Client()))
		result, err := spider.Crawl(context.Background(), srv.URL, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Pages) != 3 {
			t.Errorf("expected 3 pages, got %d", len(result.Pages))
		}
		if len(result.PDFLinks) != 2 {
			t.Errorf("expected 2 distinct pdf links, got %v", result.PDFLinks)
		}
	})

	t.Run("negative depth uses the spider default", func(t *testing.T) {
		t.Parallel()

		srv := newSiteServer(t)
		defer srv.Close()

		spider := NewSpider(NewFetcher(srv.Client()), WithMaxDepth(2))
		result, err := spider.Crawl(context.Background(), srv.URL, -1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Pages) != 4 {
			t.Errorf("expected 4 pages, got %d", len(result.Pages))
		}
		if len(result.PDFLinks) != 3 {
			t.Errorf("expected 3 pdf links, got %v", result.PDFLinks)
		}
	})

	t.Run("respects max pages limit", func(t *testing.T) {
		t.Parallel()

		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
			body := "<html><body>"
			for i := 1; i <= 5; i++ {
				body += fmt.Sprintf(`<a href="/page%d">%d</a>`, i, i)
			}
			writeHTML(w, body+"</body></html>")
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		spider := NewSpider(NewFetcher(srv.Client()), WithMaxPages(3))
		result, err := spider.Crawl(context.Background(), srv.URL, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Pages) != 3 {
			t.Errorf("expected 3 pages, got %d", len(result.Pages))
		}
	})

	t.Run("keeps failed pages", func(t *testing.T) {
		t.Parallel()

		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			writeHTML(w, `<html><body><a href="/gone">Gone</a></body></html>`)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		spider := NewSpider(NewFetcher(srv.Client(), WithRetries(0, 0, 0)))
		result, err := spider.Crawl(context.Background(), srv.URL, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Pages) != 2 {
			t.Fatalf("expected 2 pages, got %d", len(result.Pages))
		}
		gone := result.Pages[1]
		if gone.Err == nil || gone.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404 failure, got status %d err %v", gone.StatusCode, gone.Err)
		}
	})

	t.Run("avoids duplicate visits", func(t *testing.T) {
		t.Parallel()

		var visits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			visits.Add(1)
			writeHTML(w, `<html><body><a href="/">Self</a><a href="/#top">Self again</a></body></html>`)
		}))
		defer srv.Close()

		spider := NewSpider(NewFetcher(srv.Client()))
		if _, err := spider.Crawl(context.Background(), srv.URL, 2); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if visits.Load() != 1 {
			t.Errorf("expected 1 visit, got %d", visits.Load())
		}
	})

	t.Run("returns partial result on cancellation", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(200 * time.Millisecond)
			writeHTML(w, `<html></html>`)
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		spider := NewSpider(NewFetcher(srv.Client()))
		result, err := spider.Crawl(ctx, srv.URL, 1)
		if err == nil {
			t.Fatal("expected context error")
		}
		if result == nil || len(result.Pages) != 1 {
			t.Errorf("expected the attempted start page in the result, got %+v", result)
		}
	})

	t.Run("rejects non http start url", func(t *testing.T) {
		t.Parallel()

		spider := NewSpider(NewFetcher(http.DefaultClient))
		if _, err := spider.Crawl(context.Background(), "ftp://acme.example", 1); err == nil {
			t.Error("expected error")
		}
	})
}

func TestMatchPattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		{"prefix match", "/careers/*", "/careers/open-roles", true},
		{"prefix exact", "/careers/*", "/careers", true},
		{"prefix partial no match", "/careers/*", "/careersfair", false},
		{"pdf extension", "*.pdf", "/docs/file.pdf", true},
		{"pdf extension upper", "*.pdf", "/docs/FILE.PDF", true},
		{"pdf extension no match", "*.pdf", "/docs/file.txt", false},
		{"exact match", "/logout", "/logout", true},
		{"exact no match", "/logout", "/login", false},
		{"wildcard middle", "/ir/q?/report", "/ir/q1/report", true},
		{"wildcard middle no match", "/ir/q?/report", "/ir/q10/report", false},
		{"base name glob", "annual-*", "/files/annual-2023", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := matchPattern(tt.pattern, tt.path); got != tt.want {
				t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
			}
		})
	}
}

func TestShouldCrawl(t *testing.T) {
	t.Parallel()

	t.Run("default ignores assets", func(t *testing.T) {
		t.Parallel()

		spider := NewSpider(NewFetcher(nil))
		if spider.shouldCrawl("https://acme.example/app.js") {
			t.Error("expected .js to be ignored")
		}
		if !spider.shouldCrawl("https://acme.example/investors") {
			t.Error("expected page to be crawled")
		}
	})

	t.Run("follow patterns restrict the crawl", func(t *testing.T) {
		t.Parallel()

		spider := NewSpider(NewFetcher(nil), WithFollowPatterns([]string{"/investors/*"}))
		if !spider.shouldCrawl("https://acme.example/investors/reports") {
			t.Error("expected followed path to be crawled")
		}
		if spider.shouldCrawl("https://acme.example/news") {
			t.Error("expected other path to be skipped")
		}
	})
}

func TestHTMLScrapeStrategy(t *testing.T) {
	t.Parallel()

	srv := newSiteServer(t)
	defer srv.Close()

	spider := NewSpider(NewFetcher(srv.Client()))
	s := NewHTMLScrapeStrategy(NewSiteCrawls(spider))
	company := &model.Company{ID: 1, Name: "Acme", WebsiteURL: srv.URL, CrawlDepth: 1}

	report, err := s.Discover(context.Background(), company)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Kind() != model.StrategyHTMLScrape {
		t.Errorf("unexpected kind %s", s.Kind())
	}
	if len(report.Found) != 2 {
		t.Errorf("expected 2 found, got %+v", report.Found)
	}
	if report.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", report.StatusCode)
	}
}

func TestHTMLScrapeStrategyBlocked(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewHTMLScrapeStrategy(NewSiteCrawls(NewSpider(NewFetcher(srv.Client()))))
	report, err := s.Discover(context.Background(), &model.Company{ID: 1, Name: "Acme", WebsiteURL: srv.URL})
	if err == nil {
		t.Fatal("expected error")
	}
	if !report.Blocked || report.StatusCode != http.StatusForbidden {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestRegexStrategy(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeHTML(w, `<html><script>window.docs = ["https://cdn.acme.example/ar-2024.pdf"];</script></html>`)
	}))
	defer srv.Close()

	s := NewRegexStrategy(NewFetcher(srv.Client()))
	report, err := s.Discover(context.Background(), &model.Company{ID: 1, Name: "Acme", WebsiteURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Found) != 1 || report.Found[0].URL != "https://cdn.acme.example/ar-2024.pdf" {
		t.Errorf("unexpected found %+v", report.Found)
	}
}

func TestObserver(t *testing.T) {
	t.Parallel()

	srv := newSiteServer(t)
	defer srv.Close()

	obs := NewObserver(NewSiteCrawls(NewSpider(NewFetcher(srv.Client(), WithRetries(0, 0, 0)))))
	company := &model.Company{ID: 7, Name: "Acme", WebsiteURL: srv.URL, CrawlDepth: 1}

	observations, err := obs.Crawl(context.Background(), company)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(observations) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(observations))
	}
	for _, o := range observations {
		if o.CompanyID != 7 || !o.Reachable() || o.Hash == "" {
			t.Errorf("unexpected observation %+v", o)
		}
	}

	missing := obs.Observe(context.Background(), 7, srv.URL+"/removed")
	if missing.Reachable() || missing.StatusCode != http.StatusNotFound {
		t.Errorf("expected unreachable 404 observation, got %+v", missing)
	}
}
