package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/nao1215/finwatch/internal/fingerprint"
	"github.com/nao1215/finwatch/internal/model"
)

// Crawl limits.
const (
	// DefaultMaxPages bounds one crawl.
	DefaultMaxPages = 150
	// MaxPageText is the number of characters of page text that are
	// hashed and stored.
	MaxPageText = 50000
)

// defaultIgnorePatterns keeps the spider on HTML pages.
var defaultIgnorePatterns = []string{"*.pdf", "*.jpg", "*.jpeg", "*.png", "*.gif", "*.svg", "*.css", "*.js", "*.zip"}

// Page is one fetched page. Err is set when the fetch failed; StatusCode
// is still filled in when the server answered.
type Page struct {
	URL        string
	StatusCode int
	Title      string
	Text       string
	Hash       fingerprint.Hash
	PDFLinks   []string
	Err        error
}

// CrawlResult is the outcome of one crawl. Pages[0] is the start page.
type CrawlResult struct {
	Pages []*Page
	// PDFLinks is the union of PDF links across pages, in discovery order.
	PDFLinks []string
}

// Root returns the start page, or nil for an empty result.
func (r *CrawlResult) Root() *Page {
	if r == nil || len(r.Pages) == 0 {
		return nil
	}
	return r.Pages[0]
}

// Spider walks a company website breadth first, staying on the start
// host. A Spider holds no per-crawl state and may be shared.
type Spider struct {
	fetcher *Fetcher

	// maxDepth limits how deep to crawl from the starting URL.
	// 0 means only the starting page, 1 means one level of links, etc.
	maxDepth int

	// maxPages limits the total number of pages fetched.
	maxPages int

	// ignorePatterns are URL path patterns to skip (glob syntax).
	ignorePatterns []string

	// followPatterns, when set, restrict the crawl to matching paths.
	followPatterns []string
}

// SpiderOption configures a Spider.
type SpiderOption func(*Spider)

// WithMaxDepth sets the maximum crawl depth.
func WithMaxDepth(depth int) SpiderOption {
	return func(s *Spider) {
		if depth >= 0 {
			s.maxDepth = depth
		}
	}
}

// WithMaxPages sets the maximum number of pages to crawl.
func WithMaxPages(maxPages int) SpiderOption {
	return func(s *Spider) {
		if maxPages > 0 {
			s.maxPages = maxPages
		}
	}
}

// WithIgnorePatterns replaces the URL path patterns skipped during
// crawling, e.g. "/careers/*" or "*.zip".
func WithIgnorePatterns(patterns []string) SpiderOption {
	return func(s *Spider) {
		s.ignorePatterns = patterns
	}
}

// WithFollowPatterns limits crawling to paths matching at least one
// pattern, e.g. "/investors/*".
func WithFollowPatterns(patterns []string) SpiderOption {
	return func(s *Spider) {
		s.followPatterns = patterns
	}
}

// NewSpider creates a Spider fetching through f.
func NewSpider(f *Fetcher, opts ...SpiderOption) *Spider {
	s := &Spider{
		fetcher:        f,
		maxDepth:       model.DefaultCrawlDepth,
		maxPages:       DefaultMaxPages,
		ignorePatterns: defaultIgnorePatterns,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// queueItem represents an item in the crawl queue.
type queueItem struct {
	url   string
	depth int
}

// Crawl fetches startURL and the same-host pages it links to, up to
// maxDepth (overridden by depth when depth >= 0) and maxPages. Failed
// pages are kept in the result. On cancellation the partial result is
// returned with the context error.
func (s *Spider) Crawl(ctx context.Context, startURL string, depth int) (*CrawlResult, error) {
	start, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("invalid start URL: %w", err)
	}
	if start.Scheme != "http" && start.Scheme != "https" {
		return nil, fmt.Errorf("invalid start URL %q: scheme must be http or https", startURL)
	}
	if depth < 0 {
		depth = s.maxDepth
	}

	result := &CrawlResult{}
	visited := make(map[string]bool)
	seenPDF := make(map[string]bool)
	queue := []queueItem{{url: model.NormalizeURL(start.String()), depth: 0}}

	for len(queue) > 0 && len(result.Pages) < s.maxPages {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		item := queue[0]
		queue = queue[1:]
		if visited[item.url] {
			continue
		}
		visited[item.url] = true

		page, links := s.fetchPage(ctx, item.url)
		result.Pages = append(result.Pages, page)
		for _, pdf := range page.PDFLinks {
			if !seenPDF[pdf] {
				seenPDF[pdf] = true
				result.PDFLinks = append(result.PDFLinks, pdf)
			}
		}

		if page.Err != nil {
			if errors.Is(page.Err, context.Canceled) || errors.Is(page.Err, context.DeadlineExceeded) {
				return result, ctx.Err()
			}
			var fe *model.FetchError
			if errors.As(page.Err, &fe) && fe.Blocked() {
				// The domain is cooling down; further requests would be refused.
				break
			}
			continue
		}

		if item.depth >= depth {
			continue
		}
		for _, link := range links {
			link = model.NormalizeURL(link)
			if !visited[link] && isSameHost(start.Host, link) && s.shouldCrawl(link) {
				queue = append(queue, queueItem{url: link, depth: item.depth + 1})
			}
		}
	}
	return result, nil
}

// Fetch fetches and parses a single page.
func (s *Spider) Fetch(ctx context.Context, pageURL string) *Page {
	page, _ := s.fetchPage(ctx, pageURL)
	return page
}

// fetchPage fetches a single page and extracts its text and links.
func (s *Spider) fetchPage(ctx context.Context, pageURL string) (*Page, []string) {
	page := &Page{URL: pageURL}

	payload, err := s.fetcher.FetchPage(ctx, pageURL)
	if err != nil {
		page.Err = err
		var fe *model.FetchError
		if errors.As(err, &fe) {
			page.StatusCode = fe.StatusCode
		}
		return page, nil
	}
	page.StatusCode = payload.StatusCode

	if !isHTML(payload.ContentType, payload.Body) {
		page.Hash = fingerprint.Bytes(payload.Body)
		return page, nil
	}

	base := payload.FinalURL
	if base == "" {
		base = pageURL
	}
	parser, err := NewParser(base)
	if err != nil {
		page.Err = &model.FetchError{URL: pageURL, Reason: model.ReasonParseError, StatusCode: payload.StatusCode, Err: err}
		return page, nil
	}
	parsed, err := parser.Parse(bytes.NewReader(payload.Body))
	if err != nil {
		page.Err = &model.FetchError{URL: pageURL, Reason: model.ReasonParseError, StatusCode: payload.StatusCode, Err: err}
		return page, nil
	}

	page.Title = parsed.Title
	page.Text = TruncateText(parsed.Text, MaxPageText)
	page.Hash = fingerprint.Text(page.Text)
	page.PDFLinks = parsed.PDFLinks
	return page, parsed.InternalLinks
}

// TruncateText shortens s to at most limit characters without splitting
// a multi-byte rune.
func TruncateText(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func isHTML(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "html") || strings.Contains(ct, "xml") {
		return true
	}
	if ct != "" {
		return false
	}
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.Contains(bytes.ToLower(head), []byte("<html"))
}

func isSameHost(baseHost, targetURL string) bool {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimPrefix(u.Host, "www."), strings.TrimPrefix(baseHost, "www."))
}

// shouldCrawl applies the ignore patterns first, then the follow
// patterns when any are set.
func (s *Spider) shouldCrawl(targetURL string) bool {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, pattern := range s.ignorePatterns {
		if matchPattern(pattern, path) {
			return false
		}
	}

	if len(s.followPatterns) > 0 {
		for _, pattern := range s.followPatterns {
			if matchPattern(pattern, path) {
				return true
			}
		}
		return false
	}
	return true
}

// matchPattern checks if a path matches a glob pattern. "/dir/*" matches
// everything under /dir, "*.ext" matches by extension, and anything else
// goes through filepath.Match against the full path and the base name.
func matchPattern(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return true
		}
	}

	if strings.HasPrefix(pattern, "*.") {
		if strings.HasSuffix(strings.ToLower(path), strings.ToLower(strings.TrimPrefix(pattern, "*"))) {
			return true
		}
	}

	if matched, err := filepath.Match(pattern, path); err == nil && matched {
		return true
	}

	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		if matched, err := filepath.Match(pattern, filepath.Base(path)); err == nil && matched {
			return true
		}
	}
	return false
}
