// Package source holds the HTTP clients of the third-party discovery
// sources: the Firecrawl crawl API, the Tavily search API and the SEC
// EDGAR full-text search index. Each client exposes a strategy.Func.
// The package also carries the client of the document classification
// service.
package source
