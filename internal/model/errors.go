package model

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors shared across packages.
var (
	// ErrCompanyNotFound is returned when a run targets an unknown company.
	ErrCompanyNotFound = errors.New("company not found")
	// ErrCompanyInactive is returned when a run targets a disabled company.
	ErrCompanyInactive = errors.New("company is inactive")
	// ErrIdentityMismatch is returned when a mutation tries to change the
	// (company, url) identity of a row.
	ErrIdentityMismatch = errors.New("row identity mismatch")
	// ErrDuplicateRow is returned when more than one row exists for an
	// identity that must be unique.
	ErrDuplicateRow = errors.New("duplicate row for unique identity")
	// ErrStoreUnavailable marks a persistence outage. It aborts a run.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrRetryNotFound is returned for an unknown retry record id.
	ErrRetryNotFound = errors.New("retry record not found")
)

// StrategySourceError reports a failed or blocked discovery strategy.
// It never aborts a run.
type StrategySourceError struct {
	Strategy   StrategyKind
	Domain     string
	StatusCode int
	Blocked    bool
	Err        error
}

func (e *StrategySourceError) Error() string {
	msg := fmt.Sprintf("strategy %s failed on %s", e.Strategy, e.Domain)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Blocked {
		msg += " (blocked)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StrategySourceError) Unwrap() error { return e.Err }

// FetchError reports an unreachable document or page.
type FetchError struct {
	URL        string
	Reason     ReasonCode
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Terminal reports whether the failure means the resource is gone rather
// than temporarily unreachable.
func (e *FetchError) Terminal() bool {
	return e.StatusCode == 404 || e.StatusCode == 410
}

// Blocked reports whether the failure looks like bot blocking.
func (e *FetchError) Blocked() bool {
	return e.Reason == ReasonBlocked
}

// IntegrityError reports a persistence write conflict that could not be
// resolved by retrying the transaction.
type IntegrityError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity error in %s after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// ConfigurationError reports a component that cannot run with the current
// configuration, for example a strategy without credentials.
type ConfigurationError struct {
	Component string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured: %s", e.Component, e.Reason)
}

// ReasonOf classifies err into a reason code.
func ReasonOf(err error) ReasonCode {
	if err == nil {
		return ReasonUnknown
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return ReasonTimeout
		}
		return ReasonNetwork
	}
	return ReasonUnknown
}
