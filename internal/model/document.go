package model

import "time"

// DocumentStatus is the dedup outcome of the most recent fetch cycle.
type DocumentStatus string

// Document statuses.
const (
	StatusNew       DocumentStatus = "NEW"
	StatusUnchanged DocumentStatus = "UNCHANGED"
	StatusUpdated   DocumentStatus = "UPDATED"
	StatusFailed    DocumentStatus = "FAILED"
)

// Valid reports whether s is a known status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusNew, StatusUnchanged, StatusUpdated, StatusFailed:
		return true
	}
	return false
}

// Document is a fetched financial document. (CompanyID, URL) is unique.
type Document struct {
	ID          int64          `json:"id"`
	CompanyID   int64          `json:"company_id"`
	URL         string         `json:"document_url"`
	ContentHash string         `json:"content_hash"`
	DocType     string         `json:"doc_type,omitempty"`
	Status      DocumentStatus `json:"status"`
	FirstSeenAt time.Time      `json:"first_seen_at"`
	LastSeenAt  time.Time      `json:"last_seen_at"`

	NeedsReview bool `json:"needs_review"`
	// ClassifierConfidence is nil until the classification service has
	// scored the document.
	ClassifierConfidence *float64 `json:"classifier_confidence,omitempty"`

	SourceDomain      string       `json:"source_domain"`
	DiscoveryStrategy StrategyKind `json:"discovery_strategy"`
	SourceType        SourceType   `json:"source_type"`
	ContentType       string       `json:"content_type,omitempty"`
	ByteSize          int64        `json:"byte_size"`
}

// DocumentChange is an append-only record of a document's content
// identity changing. ChangeType is StatusNew or StatusUpdated.
type DocumentChange struct {
	ID         int64          `json:"id"`
	DocumentID int64          `json:"document_id"`
	CompanyID  int64          `json:"company_id"`
	URL        string         `json:"document_url"`
	ChangeType DocumentStatus `json:"change_type"`
	OldHash    string         `json:"old_hash,omitempty"`
	NewHash    string         `json:"new_hash"`
	DetectedAt time.Time      `json:"detected_at"`
}

// Payload is the result of a successful fetch.
type Payload struct {
	URL         string `json:"url"`
	FinalURL    string `json:"final_url,omitempty"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"-"`
	// Retries is the number of retried attempts before this response.
	Retries int `json:"retries"`
}

// Classification is the verdict of the external document classifier.
type Classification struct {
	DocType    string  `json:"doc_type"`
	Confidence float64 `json:"confidence"`
}
