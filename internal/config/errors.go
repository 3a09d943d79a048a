package config

import (
	"errors"
	"fmt"
)

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoDBDir is returned when no database directory is set.
	ErrNoDBDir = errors.New("no database directory configured")

	// ErrInvalidTimeout is returned when a strategy or fetch timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidSoftDeadline is returned for a negative soft deadline.
	ErrInvalidSoftDeadline = errors.New("invalid soft deadline: must be non-negative (0 disables it)")

	// ErrInvalidCooldown is returned when the block cooldown is not positive.
	ErrInvalidCooldown = errors.New("invalid cooldown: must be positive")

	// ErrInvalidRequestDelay is returned for a negative request delay.
	ErrInvalidRequestDelay = errors.New("invalid request delay: must be non-negative")

	// ErrInvalidRetryCeiling is returned when the retry ceiling is below one.
	ErrInvalidRetryCeiling = errors.New("invalid retry ceiling: must be at least 1")

	// ErrInvalidBackoffPolicy is returned for an unknown backoff policy.
	ErrInvalidBackoffPolicy = errors.New("invalid backoff policy: must be exponential or linear")

	// ErrInvalidBackoff is returned when the backoff base is not positive
	// or exceeds the cap.
	ErrInvalidBackoff = errors.New("invalid backoff: base must be positive and not above the cap")

	// ErrInvalidReviewThreshold is returned for a threshold outside [0, 1].
	ErrInvalidReviewThreshold = errors.New("invalid review threshold: must be between 0 and 1")

	// ErrInvalidLimit is returned when a size or page limit is not positive.
	ErrInvalidLimit = errors.New("invalid limit: document size and page limits must be positive")

	// ErrInvalidConcurrency is returned when a concurrency setting is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")
)

// UnknownStrategyError is returned for a strategy name finwatch does not know.
type UnknownStrategyError struct {
	Name string
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("unknown strategy %q", e.Name)
}
