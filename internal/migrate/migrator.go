package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/justiceops/recordsync/internal/gateway"
	"github.com/justiceops/recordsync/internal/mapping"
	"github.com/justiceops/recordsync/internal/queue"
	"github.com/justiceops/recordsync/internal/telemetry"
)

// Outcome classifies the non-retryable results of migrating one record.
type Outcome int

const (
	// OutcomeMigrated means a target record was created and mapped.
	OutcomeMigrated Outcome = iota
	// OutcomeAlreadyMapped means the idempotency guard short-circuited.
	OutcomeAlreadyMapped
	// OutcomeDuplicate means a mapping-write race was lost; the existing
	// mapping won and this record counts as migrated.
	OutcomeDuplicate
	// OutcomeSourceGone means the record vanished from the source between
	// enumeration and processing; a soft terminal failure.
	OutcomeSourceGone
	// OutcomeMappingRetryScheduled means the target record was created but
	// the mapping write failed; a narrow retry message carries the rest.
	OutcomeMappingRetryScheduled
)

// EventSet names the telemetry events a migrator emits, so the bulk
// migration and the synchronisation reconciler can share the algorithm while
// keeping their own operator-facing vocabulary.
type EventSet struct {
	Migrated       string
	Duplicate      string
	SourceMissing  string
	MappingRetry   string
	MappingRetried string
}

// MigrationEvents is the event vocabulary of bulk-migration runs.
var MigrationEvents = EventSet{
	Migrated:       EventEntityMigrated,
	Duplicate:      EventEntityDuplicate,
	SourceMissing:  EventSourceMissing,
	MappingRetry:   EventMappingRetry,
	MappingRetried: EventMappingRetried,
}

// Migrator migrates exactly one source record at a time. It is stateless and
// safe to invoke concurrently, including repeatedly for the same source id:
// the mapping store's conditional insert resolves every race.
type Migrator struct {
	recordType string
	source     gateway.Source
	target     gateway.Target
	transform  gateway.Transformer
	store      mapping.Store
	queue      queue.Queue
	tracker    telemetry.Tracker
	logger     *slog.Logger
	events     EventSet
}

// NewMigrator wires a migrator for one record type.
func NewMigrator(
	recordType string,
	source gateway.Source,
	target gateway.Target,
	transform gateway.Transformer,
	store mapping.Store,
	q queue.Queue,
	tracker telemetry.Tracker,
	logger *slog.Logger,
) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = telemetry.NopTracker{}
	}
	return &Migrator{
		recordType: recordType,
		source:     source,
		target:     target,
		transform:  transform,
		store:      store,
		queue:      q,
		tracker:    tracker,
		logger:     logger,
		events:     MigrationEvents,
	}
}

// WithEvents returns a copy of the migrator emitting the given event names.
func (m *Migrator) WithEvents(events EventSet) *Migrator {
	clone := *m
	clone.events = events
	return &clone
}

// MigrateOne migrates a single record. label is the migration run id, empty
// for synchronisation-created records. A non-nil error means the caller's
// message should redeliver; every enumerated outcome returns a nil error.
func (m *Migrator) MigrateOne(ctx context.Context, sourceID, label string, prov mapping.Provenance) (Outcome, error) {
	// Idempotency guard: at-least-once delivery means this id may arrive
	// again after a successful migration.
	if _, err := m.store.Find(ctx, sourceID); err == nil {
		m.logger.Debug("already mapped", "type", m.recordType, "source_id", sourceID)
		return OutcomeAlreadyMapped, nil
	} else if !errors.Is(err, mapping.ErrNotFound) {
		return 0, fmt.Errorf("find mapping %s: %w", sourceID, err)
	}

	record, err := m.source.Fetch(ctx, sourceID)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			// Deleted between enumeration and processing. Soft terminal
			// failure: log, count, never retry.
			m.logger.Warn("source record gone", "type", m.recordType, "source_id", sourceID)
			m.tracker.TrackEvent(m.events.SourceMissing, map[string]string{
				"type":        m.recordType,
				"sourceId":    sourceID,
				"migrationId": label,
			})
			return OutcomeSourceGone, nil
		}
		return 0, fmt.Errorf("fetch %s: %w", sourceID, err)
	}

	req, err := m.transform.Transform(ctx, record)
	if err != nil {
		return 0, fmt.Errorf("transform %s: %w", sourceID, err)
	}

	created, err := m.target.Create(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("create target for %s: %w", sourceID, err)
	}

	return m.writeMapping(ctx, mapping.Mapping{
		SourceID:       sourceID,
		TargetID:       created.ID,
		TargetParentID: record.ParentID,
		Provenance:     prov,
		Label:          label,
	})
}

// RetryMapping retries only the mapping write for a record whose target-side
// create already succeeded.
func (m *Migrator) RetryMapping(ctx context.Context, p RetryMappingPayload) (Outcome, error) {
	outcome, err := m.writeMapping(ctx, mapping.Mapping{
		SourceID:   p.SourceID,
		TargetID:   p.TargetID,
		Provenance: mapping.Migrated,
		Label:      p.MigrationID,
	})
	if err != nil {
		return 0, err
	}
	if outcome == OutcomeMigrated {
		m.tracker.TrackEvent(m.events.MappingRetried, map[string]string{
			"type":        m.recordType,
			"sourceId":    p.SourceID,
			"targetId":    p.TargetID,
			"migrationId": p.MigrationID,
		})
	}
	return outcome, nil
}

// Remigrate re-runs the migration path for one already-migrated aggregate,
// the operator repair endpoint. With deleteFirst the existing target record
// and its mapping are removed before the record is migrated afresh.
func (m *Migrator) Remigrate(ctx context.Context, sourceID string, deleteFirst bool) (Outcome, error) {
	if deleteFirst {
		existing, err := m.store.Find(ctx, sourceID)
		switch {
		case err == nil:
			if err := m.target.Delete(ctx, existing.TargetID); err != nil && !errors.Is(err, gateway.ErrNotFound) {
				return 0, fmt.Errorf("delete target %s: %w", existing.TargetID, err)
			}
			if err := m.store.Delete(ctx, existing.TargetID); err != nil {
				return 0, fmt.Errorf("delete mapping %s: %w", existing.TargetID, err)
			}
		case errors.Is(err, mapping.ErrNotFound):
			// Nothing to clear.
		default:
			return 0, fmt.Errorf("find mapping %s: %w", sourceID, err)
		}
	}
	return m.MigrateOne(ctx, sourceID, "", mapping.Migrated)
}

// writeMapping performs the conditional insert and resolves its three
// outcomes: inserted, lost a duplicate race, or transport failure.
func (m *Migrator) writeMapping(ctx context.Context, mp mapping.Mapping) (Outcome, error) {
	res, err := m.store.Create(ctx, mp)
	if err != nil {
		// The target record exists but the mapping does not. Re-running the
		// whole migration would create a second target record, so schedule a
		// narrow retry of just this step.
		retryMsg, merr := queue.NewMessage(queue.KindRetryMapping, m.recordType, RetryMappingPayload{
			MigrationID: mp.Label,
			SourceID:    mp.SourceID,
			TargetID:    mp.TargetID,
		})
		if merr != nil {
			return 0, fmt.Errorf("marshal mapping retry: %w", merr)
		}
		if serr := m.queue.Send(ctx, retryMsg, time.Second); serr != nil {
			// Could not persist the narrow retry either; let the original
			// message redeliver and the conditional insert absorb the
			// duplicate create.
			return 0, fmt.Errorf("mapping create failed (%v) and retry send failed: %w", err, serr)
		}
		m.logger.Warn("mapping write failed, narrow retry scheduled",
			"type", m.recordType, "source_id", mp.SourceID, "target_id", mp.TargetID, "error", err)
		m.tracker.TrackEvent(m.events.MappingRetry, map[string]string{
			"type":        m.recordType,
			"sourceId":    mp.SourceID,
			"targetId":    mp.TargetID,
			"migrationId": mp.Label,
		})
		return OutcomeMappingRetryScheduled, nil
	}

	if res.Conflict {
		// Two processing attempts both created a target record. Keep the
		// existing mapping; the just-created duplicate stays orphaned on the
		// target rather than risking deletion of a record another in-flight
		// process references.
		m.tracker.TrackEvent(m.events.Duplicate, map[string]string{
			"type":              m.recordType,
			"existingSourceId":  res.Existing.SourceID,
			"existingTargetId":  res.Existing.TargetID,
			"duplicateSourceId": res.Duplicate.SourceID,
			"duplicateTargetId": res.Duplicate.TargetID,
			"migrationId":       mp.Label,
		})
		return OutcomeDuplicate, nil
	}

	m.tracker.TrackEvent(m.events.Migrated, map[string]string{
		"type":        m.recordType,
		"sourceId":    mp.SourceID,
		"targetId":    mp.TargetID,
		"migrationId": mp.Label,
	})
	return OutcomeMigrated, nil
}
