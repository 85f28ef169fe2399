// Package migrate implements the bulk-migration engine: page division,
// per-record migration with idempotent mapping writes, completion detection
// and cancellation.
package migrate

import (
	"github.com/justiceops/recordsync/internal/gateway"
)

// DividePayload starts the fan-out for a run.
type DividePayload struct {
	MigrationID    string         `json:"migrationId"`
	Filter         gateway.Filter `json:"filter,omitempty"`
	EstimatedCount int64          `json:"estimatedCount"`
}

// PagePayload describes one page of the enumeration. Transient: redelivery
// regenerates the page from the same coordinates.
type PagePayload struct {
	MigrationID string         `json:"migrationId"`
	Filter      gateway.Filter `json:"filter,omitempty"`
	PageNumber  int            `json:"pageNumber"`
	PageSize    int            `json:"pageSize"`
}

// EntityPayload migrates a single record.
type EntityPayload struct {
	MigrationID string `json:"migrationId"`
	SourceID    string `json:"sourceId"`
}

// RetryMappingPayload retries only the mapping write after the target record
// was already created. Carrying the known target id is what keeps redelivery
// from creating a second target record.
type RetryMappingPayload struct {
	MigrationID string `json:"migrationId"`
	SourceID    string `json:"sourceId"`
	TargetID    string `json:"targetId"`
}

// StatusCheckPayload drives the completion-detection loop.
type StatusCheckPayload struct {
	MigrationID string `json:"migrationId"`
	CheckCount  int    `json:"checkCount"`
}
