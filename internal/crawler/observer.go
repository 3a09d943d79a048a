package crawler

import (
	"context"

	"github.com/nao1215/finwatch/internal/model"
)

// Observer turns fetched pages into page observations for change
// detection.
type Observer struct {
	crawls *SiteCrawls
}

// NewObserver creates an Observer. It reuses the crawl the HTML_SCRAPE
// strategy kept in sc and crawls itself only when there is none.
func NewObserver(sc *SiteCrawls) *Observer {
	return &Observer{crawls: sc}
}

// Crawl returns one observation per page of the company website, failed
// pages included. On cancellation the observations made so far are
// returned with the context error.
func (o *Observer) Crawl(ctx context.Context, company *model.Company) ([]model.PageObservation, error) {
	result, err := o.crawls.Take(ctx, company)
	if result == nil {
		return nil, err
	}
	out := make([]model.PageObservation, 0, len(result.Pages))
	for _, p := range result.Pages {
		out = append(out, observation(company.ID, p))
	}
	return out, err
}

// Observe fetches a single known page.
func (o *Observer) Observe(ctx context.Context, companyID int64, pageURL string) model.PageObservation {
	return observation(companyID, o.crawls.Spider().Fetch(ctx, pageURL))
}

func observation(companyID int64, p *Page) model.PageObservation {
	return model.PageObservation{
		CompanyID:  companyID,
		PageURL:    p.URL,
		Hash:       p.Hash.String(),
		Text:       p.Text,
		PDFURLs:    p.PDFLinks,
		StatusCode: p.StatusCode,
		Err:        p.Err,
	}
}
