package source

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/strategy"
)

// TavilyBaseURL is the public Tavily API root.
const TavilyBaseURL = "https://api.tavily.com"

// tavilyQueries are expanded with the company name.
var tavilyQueries = []string{
	"%s annual report filetype:pdf",
	"%s quarterly results investor relations filetype:pdf",
	"%s financial statement disclosure filetype:pdf",
}

// Tavily searches the web for company documents.
type Tavily struct {
	apiKey     string
	maxResults int
	cfg        clientConfig
}

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		URL string `json:"url"`
	} `json:"results"`
}

// NewTavily creates a Tavily client.
func NewTavily(apiKey string, opts ...Option) *Tavily {
	return &Tavily{
		apiKey:     apiKey,
		maxResults: 15,
		cfg:        newClientConfig(TavilyBaseURL, opts),
	}
}

// Strategy returns the TAVILY discovery strategy.
func (t *Tavily) Strategy() *strategy.Func {
	return &strategy.Func{
		Name:   model.StrategyTavily,
		Source: model.SourceSearch,
		Hosts:  strategy.FixedDomain(model.DomainOf(t.cfg.baseURL)),
		Lookup: t.Discover,
	}
}

// Discover runs every search query. A failing query does not discard the
// results of the others; the attempt fails only when all queries fail.
func (t *Tavily) Discover(ctx context.Context, company *model.Company) (strategy.Report, error) {
	endpoint := t.cfg.baseURL + "/search"
	report := strategy.Report{PageURL: endpoint}
	if t.apiKey == "" {
		return report, &model.ConfigurationError{Component: string(model.StrategyTavily), Reason: "missing API key"}
	}

	var (
		lastErr    error
		lastStatus int
		succeeded  int
	)
	for _, q := range tavilyQueries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		req := tavilyRequest{
			APIKey:      t.apiKey,
			Query:       fmt.Sprintf(q, company.Name),
			SearchDepth: "advanced",
			MaxResults:  t.maxResults,
		}
		var resp tavilyResponse
		status, err := t.cfg.do(ctx, http.MethodPost, endpoint, nil, req, &resp)
		if err != nil {
			lastErr, lastStatus = err, status
			if r, _ := failedReport(report, status, err); r.Blocked {
				// Further queries would hit the same block.
				return r, err
			}
			continue
		}
		succeeded++
		report.StatusCode = status
		for _, r := range resp.Results {
			report.Found = pdfOnly(report.Found, r.URL)
		}
	}

	if succeeded == 0 && lastErr != nil {
		return failedReport(report, lastStatus, lastErr)
	}
	return report, nil
}
