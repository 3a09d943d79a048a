package model

import "strings"

// StrategyKind names a discovery strategy.
type StrategyKind string

// Discovery strategies in their default priority order. Paid and richer
// sources come first; cheap fallbacks last.
const (
	StrategyFirecrawl     StrategyKind = "FIRECRAWL"
	StrategyTavily        StrategyKind = "TAVILY"
	StrategyEDGAR         StrategyKind = "EDGAR"
	StrategyHTMLScrape    StrategyKind = "HTML_SCRAPE"
	StrategyRegexFallback StrategyKind = "REGEX_FALLBACK"

	// StrategyRetry marks candidates rebuilt from the retry ledger.
	StrategyRetry StrategyKind = "RETRY"
	// StrategyUnknown is used when provenance is not known.
	StrategyUnknown StrategyKind = "UNKNOWN"
)

// Priority returns the merge rank of a strategy. Lower ranks win.
func (k StrategyKind) Priority() int {
	switch k {
	case StrategyFirecrawl:
		return 0
	case StrategyTavily:
		return 1
	case StrategyEDGAR:
		return 2
	case StrategyHTMLScrape:
		return 3
	case StrategyRegexFallback:
		return 4
	default:
		return 100
	}
}

// SourceType describes where a candidate came from.
type SourceType string

// Source types.
const (
	SourceWebsite    SourceType = "WEBSITE"
	SourceSearch     SourceType = "SEARCH"
	SourceRegulatory SourceType = "REGULATORY"
	SourceCrawler    SourceType = "CRAWLER"
)

// InferSourceType guesses the source type of a URL with no recorded
// provenance. SEC hosts are regulatory; everything else is the website.
func InferSourceType(rawURL string) SourceType {
	if strings.Contains(DomainOf(rawURL), "sec.gov") {
		return SourceRegulatory
	}
	return SourceWebsite
}

// DiscoveryCandidate is a document URL found during one run. It is never
// persisted; the Document row records its provenance instead.
type DiscoveryCandidate struct {
	CompanyID    int64        `json:"company_id"`
	URL          string       `json:"url"`
	SourceDomain string       `json:"source_domain"`
	Strategy     StrategyKind `json:"discovery_strategy"`
	SourceType   SourceType   `json:"source_type"`
}
