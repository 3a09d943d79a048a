package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/nao1215/finwatch/internal/clock"
	"github.com/nao1215/finwatch/internal/model"
)

// DefaultShareWindow is how long a discovery crawl may be reused by page
// monitoring.
const DefaultShareWindow = 30 * time.Minute

// SiteCrawls hands the site crawl made by the HTML_SCRAPE strategy to
// page monitoring, so a company run walks the website once instead of
// twice.
//
// Design decision: a kept result is consumed by the first Take. The next
// run always crawls again, and a result never outlives the share window
// even when page monitoring is not wired. Partial crawls (cancelled or
// timed out) are never kept because they would make unreached pages look
// deleted.
type SiteCrawls struct {
	spider *Spider
	clock  clock.Clock
	window time.Duration

	mu   sync.Mutex
	kept map[int64]keptCrawl
}

type keptCrawl struct {
	url    string
	depth  int
	at     time.Time
	result *CrawlResult
}

// SiteCrawlsOption configures SiteCrawls.
type SiteCrawlsOption func(*SiteCrawls)

// WithShareClock sets the time source for the share window.
func WithShareClock(c clock.Clock) SiteCrawlsOption {
	return func(sc *SiteCrawls) {
		sc.clock = c
	}
}

// WithShareWindow sets how long a kept crawl stays usable. Zero or less
// disables sharing.
func WithShareWindow(d time.Duration) SiteCrawlsOption {
	return func(sc *SiteCrawls) {
		sc.window = d
	}
}

// NewSiteCrawls creates SiteCrawls over s.
func NewSiteCrawls(s *Spider, opts ...SiteCrawlsOption) *SiteCrawls {
	sc := &SiteCrawls{
		spider: s,
		clock:  clock.Real{},
		window: DefaultShareWindow,
		kept:   make(map[int64]keptCrawl),
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// Spider returns the underlying spider.
func (sc *SiteCrawls) Spider() *Spider {
	return sc.spider
}

// Crawl walks the company website and keeps a complete result for the
// next Take.
func (sc *SiteCrawls) Crawl(ctx context.Context, company *model.Company) (*CrawlResult, error) {
	result, err := sc.spider.Crawl(ctx, company.WebsiteURL, company.Depth())
	if err != nil || result == nil || sc.window <= 0 {
		return result, err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.kept[company.ID] = keptCrawl{
		url:    company.WebsiteURL,
		depth:  company.Depth(),
		at:     sc.clock.Now(),
		result: result,
	}
	return result, nil
}

// Take returns the crawl kept for company and forgets it. When none is
// kept, or it is stale or was made for another website or depth, the site
// is crawled now.
func (sc *SiteCrawls) Take(ctx context.Context, company *model.Company) (*CrawlResult, error) {
	sc.mu.Lock()
	k, ok := sc.kept[company.ID]
	delete(sc.kept, company.ID)
	sc.mu.Unlock()

	if ok && k.url == company.WebsiteURL && k.depth == company.Depth() && sc.clock.Now().Sub(k.at) <= sc.window {
		return k.result, nil
	}
	return sc.spider.Crawl(ctx, company.WebsiteURL, company.Depth())
}
