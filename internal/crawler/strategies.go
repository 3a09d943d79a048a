package crawler

import (
	"context"
	"errors"

	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/strategy"
)

// NewHTMLScrapeStrategy crawls the company website and reports every PDF
// link found on the visited pages. The crawl is kept in sc for page
// monitoring.
func NewHTMLScrapeStrategy(sc *SiteCrawls) *strategy.Func {
	return &strategy.Func{
		Name:   model.StrategyHTMLScrape,
		Source: model.SourceWebsite,
		Hosts:  strategy.CompanyDomain,
		Lookup: func(ctx context.Context, company *model.Company) (strategy.Report, error) {
			result, err := sc.Crawl(ctx, company)
			report := strategy.Report{PageURL: company.WebsiteURL}
			if result == nil {
				return report, err
			}
			for _, pdf := range result.PDFLinks {
				report.Found = append(report.Found, strategy.Found{URL: pdf})
			}
			if root := result.Root(); root != nil {
				report.StatusCode = root.StatusCode
				if root.Err != nil && len(result.Pages) == 1 {
					report.Blocked = isBlocked(root.Err)
					return report, root.Err
				}
			}
			return report, err
		},
	}
}

// NewRegexStrategy fetches the company homepage once and scans the raw
// markup for absolute PDF URLs.
func NewRegexStrategy(f *Fetcher) *strategy.Func {
	return &strategy.Func{
		Name:   model.StrategyRegexFallback,
		Source: model.SourceWebsite,
		Hosts:  strategy.CompanyDomain,
		Lookup: func(ctx context.Context, company *model.Company) (strategy.Report, error) {
			report := strategy.Report{PageURL: company.WebsiteURL}
			payload, err := f.FetchPage(ctx, company.WebsiteURL)
			if err != nil {
				var fe *model.FetchError
				if errors.As(err, &fe) {
					report.StatusCode = fe.StatusCode
				}
				report.Blocked = isBlocked(err)
				return report, err
			}
			report.StatusCode = payload.StatusCode
			report.RetryCount = payload.Retries
			for _, u := range ScanPDFURLs(payload.Body) {
				report.Found = append(report.Found, strategy.Found{URL: u})
			}
			return report, nil
		},
	}
}

func isBlocked(err error) bool {
	var fe *model.FetchError
	return errors.As(err, &fe) && fe.Blocked()
}
