package model

import "time"

// PageChangeType classifies how a monitored page changed.
type PageChangeType string

// Page change types.
const (
	PageAdded      PageChangeType = "PAGE_ADDED"
	PageDeleted    PageChangeType = "PAGE_DELETED"
	ContentChanged PageChangeType = "CONTENT_CHANGED"
	NewDocLinked   PageChangeType = "NEW_DOC_LINKED"
)

// PageSnapshot is the last observed state of a monitored page. There is one
// live snapshot per (CompanyID, URL); it is overwritten in place.
type PageSnapshot struct {
	ID          int64  `json:"id"`
	CompanyID   int64  `json:"company_id"`
	URL         string `json:"page_url"`
	ContentHash string `json:"content_hash"`
	PDFCount    int    `json:"pdf_count"`
	// KnownPDFs is every PDF URL ever linked from the page.
	KnownPDFs  []string `json:"known_pdfs,omitempty"`
	StatusCode int      `json:"status_code"`
	Active     bool     `json:"is_active"`
	// FailureStreak counts consecutive non-terminal fetch failures.
	FailureStreak int `json:"failure_streak"`
	// Text is the extracted page text used to build diff summaries.
	Text      string    `json:"-"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// PageChange is an append-only record of a classified page change.
type PageChange struct {
	ID          int64          `json:"id"`
	CompanyID   int64          `json:"company_id"`
	PageURL     string         `json:"page_url"`
	Type        PageChangeType `json:"change_type"`
	DiffSummary string         `json:"diff_summary"`
	NewPDFURLs  []string       `json:"new_pdf_urls,omitempty"`
	OldHash     string         `json:"old_hash,omitempty"`
	NewHash     string         `json:"new_hash,omitempty"`
	DetectedAt  time.Time      `json:"detected_at"`
}

// PageObservation is what one fetch of a monitored page produced.
// Err is set when the fetch failed; the other content fields are then
// meaningless.
type PageObservation struct {
	CompanyID  int64
	PageURL    string
	Hash       string
	Text       string
	PDFURLs    []string
	StatusCode int
	Err        error
}

// Reachable reports whether the observation is a successful fetch.
func (o PageObservation) Reachable() bool {
	return o.Err == nil && o.StatusCode > 0 && o.StatusCode < 400
}
