// Package history persists the audit ledger of migration runs.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/justiceops/recordsync/internal/gateway"
)

// Status is a migration run's lifecycle state.
type Status string

const (
	StatusStarted    Status = "STARTED"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelling Status = "CANCELLING"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Run is one bulk-migration execution.
type Run struct {
	MigrationID     string         `json:"migrationId"`
	Type            string         `json:"type"`
	Filter          gateway.Filter `json:"filter,omitempty"`
	Status          Status         `json:"status"`
	EstimatedCount  int64          `json:"estimatedRecordCount"`
	RecordsMigrated int64          `json:"recordsMigrated"`
	RecordsFailed   int64          `json:"recordsFailed"`
	WhenStarted     time.Time      `json:"whenStarted"`
	WhenEnded       *time.Time     `json:"whenEnded,omitempty"`
}

// ListFilter scopes a history listing.
type ListFilter struct {
	Type         string
	From         *time.Time
	To           *time.Time
	OnlyFailures bool
}

// Sentinel errors for ledger operations.
var (
	// ErrNotFound indicates no run exists for the requested id.
	ErrNotFound = errors.New("migration run not found")

	// ErrActiveRun indicates another non-terminal run exists for the type.
	ErrActiveRun = errors.New("another migration run is already active")

	// ErrBadTransition indicates the run is not in a state the requested
	// transition is valid from.
	ErrBadTransition = errors.New("invalid migration status transition")
)

// Ledger is the migration-run bookkeeping contract. Pure persistence: the
// only business rule it owes callers is at most one non-terminal run per
// record type.
type Ledger interface {
	// RecordStarted inserts a new STARTED run, rejecting with ErrActiveRun
	// when a non-terminal run of the same type exists.
	RecordStarted(ctx context.Context, run Run) error

	// RecordCancelling flips STARTED to CANCELLING.
	RecordCancelling(ctx context.Context, migrationID string) error

	// RecordCompleted finalizes the run with its counts.
	RecordCompleted(ctx context.Context, migrationID string, migrated, failed int64) error

	// RecordCancelled finalizes a cancelled run with its counts.
	RecordCancelled(ctx context.Context, migrationID string, migrated, failed int64) error

	// IsCancelling reports whether the run is in CANCELLING. Callers re-read
	// this each time it matters; it is never cached.
	IsCancelling(ctx context.Context, migrationID string) (bool, error)

	// Get returns one run, or ErrNotFound.
	Get(ctx context.Context, migrationID string) (Run, error)

	// Active returns the current non-terminal run for a type, or ErrNotFound.
	Active(ctx context.Context, recordType string) (Run, error)

	// List returns runs matching the filter, most recent first.
	List(ctx context.Context, filter ListFilter) ([]Run, error)
}
