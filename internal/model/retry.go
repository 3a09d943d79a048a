package model

import "time"

// RetryStatus is the state of a retry ledger entry.
type RetryStatus string

// Retry statuses. DEAD and RESOLVED are terminal for automatic processing.
const (
	RetryPending  RetryStatus = "PENDING"
	RetryDead     RetryStatus = "DEAD"
	RetryResolved RetryStatus = "RESOLVED"
)

// Valid reports whether s is a known retry status.
func (s RetryStatus) Valid() bool {
	switch s {
	case RetryPending, RetryDead, RetryResolved:
		return true
	}
	return false
}

// ReasonCode classifies why an ingestion attempt failed.
type ReasonCode string

// Reason codes.
const (
	ReasonTimeout             ReasonCode = "TIMEOUT"
	ReasonHTTP4xx             ReasonCode = "HTTP_4XX"
	ReasonHTTP5xx             ReasonCode = "HTTP_5XX"
	ReasonBlocked             ReasonCode = "BLOCKED"
	ReasonParseError          ReasonCode = "PARSE_ERROR"
	ReasonInvalidContentType  ReasonCode = "INVALID_CONTENT_TYPE"
	ReasonInvalidPDFSignature ReasonCode = "INVALID_PDF_SIGNATURE"
	ReasonFileTooLarge        ReasonCode = "FILE_TOO_LARGE"
	ReasonNetwork             ReasonCode = "NETWORK"
	ReasonDeferred            ReasonCode = "DEFERRED"
	ReasonUnknown             ReasonCode = "UNKNOWN"
)

// ReasonForStatus maps an HTTP status code to a reason code.
func ReasonForStatus(code int) ReasonCode {
	switch {
	case code == 401 || code == 403 || code == 429:
		return ReasonBlocked
	case code == 408:
		return ReasonTimeout
	case code >= 400 && code < 500:
		return ReasonHTTP4xx
	case code >= 500:
		return ReasonHTTP5xx
	default:
		return ReasonUnknown
	}
}

// RetryRecord is a dead-letter entry for (CompanyID, DocumentURL).
// Records are never deleted.
type RetryRecord struct {
	ID           int64       `json:"id"`
	CompanyID    int64       `json:"company_id"`
	DocumentURL  string      `json:"document_url"`
	SourceDomain string      `json:"source_domain"`
	Reason       ReasonCode  `json:"reason_code"`
	FailureCount int         `json:"failure_count"`
	Status       RetryStatus `json:"status"`
	// NextRetryAt is nil once the record is DEAD or RESOLVED.
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	LastError     string     `json:"last_error"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// IsDue reports whether the record should be replayed at now.
func (r *RetryRecord) IsDue(now time.Time) bool {
	return r.Status == RetryPending && r.NextRetryAt != nil && !r.NextRetryAt.After(now)
}

// DomainCooldown describes an active cooldown window.
type DomainCooldown struct {
	Domain       string        `json:"domain"`
	BlockedUntil time.Time     `json:"blocked_until"`
	Remaining    time.Duration `json:"remaining"`
}

// RemainingSeconds returns Remaining rounded up to whole seconds.
func (c DomainCooldown) RemainingSeconds() int64 {
	s := int64(c.Remaining / time.Second)
	if c.Remaining%time.Second != 0 {
		s++
	}
	return s
}
