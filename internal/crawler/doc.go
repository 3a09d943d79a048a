// Package crawler fetches and walks company websites.
//
// # Components
//
//   - Fetcher: classified HTTP GETs with bounded retries, block detection
//     and PDF validation. Every failure is a *model.FetchError.
//   - Parser: single-pass HTML parser extracting links, PDF references and
//     visible text.
//   - Spider: breadth-first crawl of one host with depth and page limits.
//   - Observer: turns crawled pages into page observations.
//
// The HTML_SCRAPE and REGEX_FALLBACK discovery strategies are built from
// these components.
//
// # Politeness
//
// Pacing and cooldowns are delegated to a shared throttle.Throttle. A block
// signal (401, 403, 429 or a bot interstitial) puts the domain into a
// cooldown window and the spider stops requesting it.
//
// # Usage
//
//	fetcher := crawler.NewFetcher(httpClient, crawler.WithThrottle(th))
//	spider := crawler.NewSpider(fetcher, crawler.WithMaxPages(150))
//	result, err := spider.Crawl(ctx, "https://example.com", 3)
package crawler
