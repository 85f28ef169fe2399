// Package gateway defines the thin typed clients for the source (legacy) and
// target (replacement) record services. The engine is written once against
// these contracts; per-record-type endpoints are configured, not coded.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// ErrNotFound indicates the requested record does not exist on the remote
// system.
var ErrNotFound = errors.New("record not found")

// Filter is an opaque set of query parameters scoping an enumeration,
// e.g. {"fromDate": "2020-01-01", "prisonId": "MDI"}.
type Filter map[string]string

// String renders the filter deterministically for logs and audit events.
func (f Filter) String() string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(f[k])
	}
	return b.String()
}

// SourceRecord is one record fetched from the legacy system. Body carries the
// raw domain JSON; the engine never interprets it, only the Transformer does.
type SourceRecord struct {
	ID          string
	ParentID    string
	ContainerID string
	Body        json.RawMessage
}

// TargetRequest is the payload pushed to the target service.
type TargetRequest struct {
	Body json.RawMessage
}

// ChildID pairs a source child identifier with the target id the service
// assigned to it, echoed back from create/update calls on composite records.
type ChildID struct {
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
}

// CreateResult is the target service's answer to a create or update.
type CreateResult struct {
	ID       string    `json:"id"`
	Children []ChildID `json:"children,omitempty"`
}

// Source enumerates and fetches legacy records.
type Source interface {
	// Count returns the total number of records matching the filter.
	Count(ctx context.Context, filter Filter) (int64, error)

	// ListIDs returns the ordered ids for one page of the enumeration.
	ListIDs(ctx context.Context, filter Filter, page, size int) ([]string, error)

	// Fetch returns one record, or ErrNotFound if it was deleted between
	// enumeration and processing.
	Fetch(ctx context.Context, id string) (SourceRecord, error)

	// ListContainerIDs returns all record ids held under a source-side
	// container (e.g. a booking), used for move events.
	ListContainerIDs(ctx context.Context, containerID string) ([]string, error)
}

// Target writes records into the replacement service.
type Target interface {
	Create(ctx context.Context, req TargetRequest) (CreateResult, error)

	// Update is a whole-aggregate upsert, not a field patch.
	Update(ctx context.Context, id string, req TargetRequest) (CreateResult, error)

	// Delete removes a record; ErrNotFound is surfaced, tolerating it is the
	// caller's decision.
	Delete(ctx context.Context, id string) error

	// Move re-keys all given target records from one container to another in
	// a single batched call.
	Move(ctx context.Context, fromContainer, toContainer string, ids []string) error
}

// Transformer converts a source record into the target request shape. One
// implementation exists per record type; it is pure domain mapping with no
// systems logic.
type Transformer interface {
	Transform(ctx context.Context, record SourceRecord) (TargetRequest, error)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(ctx context.Context, record SourceRecord) (TargetRequest, error)

func (f TransformerFunc) Transform(ctx context.Context, record SourceRecord) (TargetRequest, error) {
	return f(ctx, record)
}

// IdentityTransformer passes the source body through untouched. Useful for
// record types whose source and target shapes already agree, and in tests.
func IdentityTransformer() Transformer {
	return TransformerFunc(func(_ context.Context, record SourceRecord) (TargetRequest, error) {
		return TargetRequest{Body: record.Body}, nil
	})
}
