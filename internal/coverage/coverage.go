// Package coverage tracks derived-metadata coverage for catalog
// identifiers and drives every identifier to a terminal coverage state
// with bounded retries.
package coverage

import (
	"context"
	"errors"
	"time"
)

// Status is the state of one coverage record.
type Status string

const (
	// StatusPending means coverage has been requested but not attempted.
	StatusPending Status = "pending"

	// StatusSuccess means coverage was produced.
	StatusSuccess Status = "success"

	// StatusTransientFailure means the last attempt failed but will be
	// retried while the attempt budget lasts.
	StatusTransientFailure Status = "transient_failure"

	// StatusPermanentFailure means no further attempts will be made
	// without an explicit forced refresh.
	StatusPermanentFailure Status = "permanent_failure"
)

// ErrNotFound is returned when a coverage record does not exist.
var ErrNotFound = errors.New("coverage record not found")

// Record tracks coverage of one identifier by one coverage type.
// Records are never deleted; a forced refresh supersedes them by
// resetting the record to pending.
type Record struct {
	Identifier      string
	CoverageType    string
	Status          Status
	AttemptCount    int
	ExceptionDetail string
	UpdatedAt       time.Time
}

// Ledger persists coverage records keyed by (identifier, coverage type).
type Ledger interface {
	// Register creates a pending record if none exists. Existing
	// records, whatever their status, are left untouched.
	Register(ctx context.Context, identifier, coverageType string, now time.Time) error

	// Get returns the record for (identifier, coverage type).
	Get(ctx context.Context, identifier, coverageType string) (Record, error)

	// Update overwrites the record for (record.Identifier, record.CoverageType).
	Update(ctx context.Context, record Record) error

	// NeedingCoverage selects up to limit records that still need an
	// attempt: pending records, plus transient failures whose attempt
	// count is below maxAttempts. Oldest first by UpdatedAt, ties
	// broken by identifier.
	NeedingCoverage(ctx context.Context, coverageType string, maxAttempts, limit int) ([]Record, error)

	// ForceRefresh resets an existing record to pending with a zero
	// attempt count so the provider attempts it again. This is the only
	// way a success or permanent failure becomes retryable.
	ForceRefresh(ctx context.Context, identifier, coverageType string, now time.Time) error
}
