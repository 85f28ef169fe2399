// Package mapping maintains the durable correspondence between source and
// target record identifiers.
package mapping

import (
	"context"
	"errors"
	"time"
)

// Provenance records which side or process created a mapping.
type Provenance string

const (
	Migrated      Provenance = "MIGRATED"
	SourceCreated Provenance = "SOURCE_CREATED"
	TargetCreated Provenance = "TARGET_CREATED"
)

// Mapping links one source identifier to one target identifier.
// SourceID may be composite (e.g. booking id + sequence) and is unique;
// TargetID is the target system's opaque id and is also unique.
type Mapping struct {
	SourceID       string     `json:"sourceId"`
	TargetID       string     `json:"targetId"`
	TargetParentID string     `json:"targetParentId,omitempty"`
	Provenance     Provenance `json:"mappingType"`
	// Label carries the migration run id that created the mapping, empty for
	// synchronisation-created mappings.
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"whenCreated,omitempty"`
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates no mapping exists for the requested id.
	ErrNotFound = errors.New("mapping not found")

	// ErrConflict indicates a conditional insert lost a race; the structured
	// conflict details travel on CreateResult, not on this error.
	ErrConflict = errors.New("mapping already exists")
)

// CreateResult reports the outcome of a conditional insert. When Conflict is
// set, Existing is the mapping that won and Duplicate is the one this call
// attempted to insert; both are needed for duplicate-resolution telemetry.
type CreateResult struct {
	Conflict  bool
	Existing  Mapping
	Duplicate Mapping
}

// Store is the durable mapping contract. The conditional insert in Create is
// the engine's only synchronisation primitive: it must be atomic at the
// backing service, and idempotent under retry.
type Store interface {
	// Find returns the mapping for a source id, or ErrNotFound.
	Find(ctx context.Context, sourceID string) (Mapping, error)

	// FindByTarget returns the mapping for a target id, or ErrNotFound.
	FindByTarget(ctx context.Context, targetID string) (Mapping, error)

	// Create performs a conditional insert. A lost race returns a
	// CreateResult with Conflict set and a nil error; transport failures
	// return a non-nil error.
	Create(ctx context.Context, m Mapping) (CreateResult, error)

	// Delete removes the mapping for a target id. Already-absent is success.
	Delete(ctx context.Context, targetID string) error

	// FindByParent lists child mappings under a target parent id.
	FindByParent(ctx context.Context, targetParentID string) ([]Mapping, error)

	// CreateChildren batch-inserts child mappings discovered during an
	// aggregate update.
	CreateChildren(ctx context.Context, ms []Mapping) error

	// CountByLabel returns how many mappings a migration run created.
	CountByLabel(ctx context.Context, label string) (int64, error)
}
