package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nao1215/finwatch/internal/model"
	"github.com/nao1215/finwatch/internal/strategy"
)

// EDGAR endpoints.
const (
	EDGARSearchBaseURL  = "https://efts.sec.gov"
	EDGARArchiveBaseURL = "https://www.sec.gov"
)

// edgarForms are the periodic report forms searched.
const edgarForms = "10-K,10-Q,20-F"

// EDGAR searches the SEC full-text index for filings that mention the
// company and reports the PDF files among them.
type EDGAR struct {
	archiveBase string
	cfg         clientConfig
}

type edgarResponse struct {
	Hits struct {
		Hits []edgarHit `json:"hits"`
	} `json:"hits"`
}

type edgarHit struct {
	ID     string `json:"_id"`
	Source struct {
		CIKs []string `json:"ciks"`
		Form string   `json:"form"`
	} `json:"_source"`
}

// NewEDGAR creates an EDGAR client. The SEC requires a User-Agent with a
// contact address; pass it with WithUserAgent.
func NewEDGAR(archiveBase string, opts ...Option) *EDGAR {
	if archiveBase == "" {
		archiveBase = EDGARArchiveBaseURL
	}
	return &EDGAR{
		archiveBase: strings.TrimRight(archiveBase, "/"),
		cfg:         newClientConfig(EDGARSearchBaseURL, opts),
	}
}

// Strategy returns the EDGAR discovery strategy.
func (e *EDGAR) Strategy() *strategy.Func {
	return &strategy.Func{
		Name:   model.StrategyEDGAR,
		Source: model.SourceRegulatory,
		Hosts:  strategy.FixedDomain(model.DomainOf(e.cfg.baseURL)),
		Lookup: e.Discover,
	}
}

// Discover queries the index with the company name as a phrase.
func (e *EDGAR) Discover(ctx context.Context, company *model.Company) (strategy.Report, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("%q", company.Name))
	q.Set("forms", edgarForms)
	endpoint := e.cfg.baseURL + "/LATEST/search-index?" + q.Encode()
	report := strategy.Report{PageURL: endpoint}

	var resp edgarResponse
	status, err := e.cfg.do(ctx, http.MethodGet, endpoint, nil, nil, &resp)
	if err != nil {
		return failedReport(report, status, err)
	}

	report.StatusCode = status
	for _, hit := range resp.Hits.Hits {
		report.Found = pdfOnly(report.Found, e.archiveURL(hit))
	}
	return report, nil
}

// archiveURL builds the Archives URL of a hit. The hit id has the form
// "<accession>:<file name>".
func (e *EDGAR) archiveURL(hit edgarHit) string {
	accession, file, ok := strings.Cut(hit.ID, ":")
	if !ok || file == "" || len(hit.Source.CIKs) == 0 {
		return ""
	}
	cik := strings.TrimLeft(hit.Source.CIKs[0], "0")
	if cik == "" {
		return ""
	}
	return fmt.Sprintf("%s/Archives/edgar/data/%s/%s/%s",
		e.archiveBase, cik, strings.ReplaceAll(accession, "-", ""), file)
}
