package source

import (
	"context"
	"net/http"

	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/strategy"
)

// FirecrawlBaseURL is the public Firecrawl API root.
const FirecrawlBaseURL = "https://api.firecrawl.dev"

// Firecrawl asks the Firecrawl crawl API for the PDF URLs of a website.
type Firecrawl struct {
	apiKey string
	limit  int
	cfg    clientConfig
}

type firecrawlRequest struct {
	URL            string           `json:"url"`
	CrawlerOptions firecrawlOptions `json:"crawlerOptions"`
}

type firecrawlOptions struct {
	Includes       []string `json:"includes"`
	Excludes       []string `json:"excludes"`
	Limit          int      `json:"limit"`
	ReturnOnlyURLs bool     `json:"returnOnlyUrls"`
}

type firecrawlResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// NewFirecrawl creates a Firecrawl client. limit bounds the pages the
// remote crawler visits; values <= 0 use 200.
func NewFirecrawl(apiKey string, limit int, opts ...Option) *Firecrawl {
	if limit <= 0 {
		limit = 200
	}
	return &Firecrawl{
		apiKey: apiKey,
		limit:  limit,
		cfg:    newClientConfig(FirecrawlBaseURL, opts),
	}
}

// Strategy returns the FIRECRAWL discovery strategy.
func (f *Firecrawl) Strategy() *strategy.Func {
	return &strategy.Func{
		Name:   model.StrategyFirecrawl,
		Source: model.SourceCrawler,
		Hosts:  strategy.FixedDomain(model.DomainOf(f.cfg.baseURL)),
		Lookup: f.Discover,
	}
}

// Discover crawls company.WebsiteURL through the API.
func (f *Firecrawl) Discover(ctx context.Context, company *model.Company) (strategy.Report, error) {
	endpoint := f.cfg.baseURL + "/v0/crawl"
	report := strategy.Report{PageURL: endpoint}
	if f.apiKey == "" {
		return report, &model.ConfigurationError{Component: string(model.StrategyFirecrawl), Reason: "missing API key"}
	}

	req := firecrawlRequest{
		URL: company.WebsiteURL,
		CrawlerOptions: firecrawlOptions{
			Includes:       []string{"*.pdf"},
			Excludes:       []string{"*.jpg", "*.png", "*.css", "*.js"},
			Limit:          f.limit,
			ReturnOnlyURLs: true,
		},
	}
	var resp firecrawlResponse
	status, err := f.cfg.do(ctx, http.MethodPost, endpoint, map[string]string{"Authorization": "Bearer " + f.apiKey}, req, &resp)
	if err != nil {
		return failedReport(report, status, err)
	}

	report.StatusCode = status
	for _, d := range resp.Data {
		report.Found = pdfOnly(report.Found, d.URL)
	}
	return report, nil
}
