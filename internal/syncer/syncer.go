// Package syncer keeps the target system aligned with the source while both
// run side by side: it consumes change events emitted by the source system
// and replays them against the target through the mapping store.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/justiceops/recordsync/internal/gateway"
	"github.com/justiceops/recordsync/internal/mapping"
	"github.com/justiceops/recordsync/internal/migrate"
	"github.com/justiceops/recordsync/internal/queue"
	"github.com/justiceops/recordsync/internal/telemetry"
)

// Change is the kind of mutation a change event describes.
type Change string

const (
	ChangeCreated Change = "CREATED"
	ChangeUpdated Change = "UPDATED"
	ChangeDeleted Change = "DELETED"
	ChangeMoved   Change = "MOVED"
)

// ChangeEvent is one mutation notification from the source system. Origin
// carries the audit name of the actor that caused the mutation; events the
// engine caused itself are suppressed to break the feedback loop.
type ChangeEvent struct {
	Type           Change `json:"type"`
	SourceID       string `json:"sourceId"`
	ParentID       string `json:"parentId,omitempty"`
	ContainerID    string `json:"containerId,omitempty"`
	NewContainerID string `json:"newContainerId,omitempty"`
	Origin         string `json:"origin,omitempty"`
}

// Telemetry event names for the synchronisation path.
const (
	EventSkipped             = "sync-skipped"
	EventCreated             = "sync-created"
	EventIgnored             = "sync-ignored"
	EventUpdated             = "sync-updated"
	EventDeleted             = "sync-deleted"
	EventMoved               = "sync-moved"
	EventDuplicate           = "sync-from-source-duplicate"
	EventSourceMissing       = "sync-source-missing"
	EventMappingRetry        = "sync-mapping-retry-scheduled"
	EventMappingRetried      = "sync-mapping-retried"
	EventMappingDeleteFailed = "sync-mapping-delete-failed"
	EventChildrenMapped      = "sync-children-mapped"
)

// SyncEvents is the migrator event vocabulary used when a change event
// triggers a full single-record migration.
var SyncEvents = migrate.EventSet{
	Migrated:       EventCreated,
	Duplicate:      EventDuplicate,
	SourceMissing:  EventSourceMissing,
	MappingRetry:   EventMappingRetry,
	MappingRetried: EventMappingRetried,
}

// Reconciler replays source change events for one record type.
type Reconciler struct {
	recordType string
	origin     string
	source     gateway.Source
	target     gateway.Target
	transform  gateway.Transformer
	store      mapping.Store
	migrator   *migrate.Migrator
	tracker    telemetry.Tracker
	logger     *slog.Logger
}

// NewReconciler wires a reconciler for one record type. origin is the
// engine's own audit name as it appears on events it caused.
func NewReconciler(
	recordType, origin string,
	source gateway.Source,
	target gateway.Target,
	transform gateway.Transformer,
	store mapping.Store,
	migrator *migrate.Migrator,
	tracker telemetry.Tracker,
	logger *slog.Logger,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = telemetry.NopTracker{}
	}
	return &Reconciler{
		recordType: recordType,
		origin:     origin,
		source:     source,
		target:     target,
		transform:  transform,
		store:      store,
		migrator:   migrator.WithEvents(SyncEvents),
		tracker:    tracker,
		logger:     logger,
	}
}

// Handle processes one SYNC_EVENT delivery.
func (r *Reconciler) Handle(ctx context.Context, d queue.Delivery) queue.Result {
	var ev ChangeEvent
	if err := json.Unmarshal(d.Payload, &ev); err != nil {
		r.logger.Error("bad change event payload", "error", err)
		return queue.Fail
	}

	// Events the engine caused itself echo straight back from the source's
	// audit stream. Replaying them would loop forever.
	if ev.Origin == r.origin {
		r.track(EventSkipped, ev, nil)
		return queue.Success
	}

	switch ev.Type {
	case ChangeCreated:
		return r.created(ctx, ev)
	case ChangeUpdated:
		return r.updated(ctx, ev)
	case ChangeDeleted:
		return r.deleted(ctx, ev)
	case ChangeMoved:
		return r.moved(ctx, ev)
	default:
		r.logger.Error("unknown change type", "change", ev.Type, "source_id", ev.SourceID)
		return queue.Fail
	}
}

func (r *Reconciler) created(ctx context.Context, ev ChangeEvent) queue.Result {
	outcome, err := r.migrator.MigrateOne(ctx, ev.SourceID, "", mapping.SourceCreated)
	if err != nil {
		r.logger.Warn("sync create failed, will redeliver", "source_id", ev.SourceID, "error", err)
		return queue.Retry
	}
	if outcome == migrate.OutcomeAlreadyMapped {
		// Typically a redelivery, or the record was already caught by a bulk
		// run.
		r.track(EventIgnored, ev, nil)
	}
	return queue.Success
}

// updated replays the whole aggregate: the source is fetched fresh and the
// target record replaced, then child mappings are reconciled against the ids
// the target service echoed back.
func (r *Reconciler) updated(ctx context.Context, ev ChangeEvent) queue.Result {
	m, err := r.store.Find(ctx, ev.SourceID)
	if errors.Is(err, mapping.ErrNotFound) {
		// Never migrated; an update event for an unmapped record degrades to
		// a create.
		return r.created(ctx, ev)
	}
	if err != nil {
		r.logger.Warn("find mapping failed, will redeliver", "source_id", ev.SourceID, "error", err)
		return queue.Retry
	}

	record, err := r.source.Fetch(ctx, ev.SourceID)
	if errors.Is(err, gateway.ErrNotFound) {
		// Deleted behind the update event; the delete event will follow.
		r.track(EventSourceMissing, ev, nil)
		return queue.Success
	}
	if err != nil {
		return r.retry(ev, "fetch source", err)
	}

	req, err := r.transform.Transform(ctx, record)
	if err != nil {
		return r.retry(ev, "transform", err)
	}

	res, err := r.target.Update(ctx, m.TargetID, req)
	if err != nil {
		return r.retry(ev, "update target", err)
	}

	if result := r.reconcileChildren(ctx, m.TargetID, res.Children); result != queue.Success {
		return result
	}

	r.track(EventUpdated, ev, map[string]string{"targetId": m.TargetID})
	return queue.Success
}

// reconcileChildren inserts mappings for echoed children the store does not
// know yet. Children added on the target side surface here after the source
// system echoes them back on the next update.
func (r *Reconciler) reconcileChildren(ctx context.Context, targetParentID string, echoed []gateway.ChildID) queue.Result {
	if len(echoed) == 0 {
		return queue.Success
	}

	known, err := r.store.FindByParent(ctx, targetParentID)
	if err != nil {
		r.logger.Warn("list child mappings failed, will redeliver",
			"target_parent_id", targetParentID, "error", err)
		return queue.Retry
	}
	mapped := make(map[string]struct{}, len(known))
	for _, k := range known {
		mapped[k.SourceID] = struct{}{}
	}

	var missing []mapping.Mapping
	for _, child := range echoed {
		if _, ok := mapped[child.SourceID]; ok {
			continue
		}
		missing = append(missing, mapping.Mapping{
			SourceID:       child.SourceID,
			TargetID:       child.TargetID,
			TargetParentID: targetParentID,
			Provenance:     mapping.TargetCreated,
		})
	}
	if len(missing) == 0 {
		return queue.Success
	}

	if err := r.store.CreateChildren(ctx, missing); err != nil {
		r.logger.Warn("create child mappings failed, will redeliver",
			"target_parent_id", targetParentID, "error", err)
		return queue.Retry
	}
	r.tracker.TrackEvent(EventChildrenMapped, map[string]string{
		"type":           r.recordType,
		"targetParentId": targetParentID,
		"count":          fmt.Sprintf("%d", len(missing)),
	})
	return queue.Success
}

func (r *Reconciler) deleted(ctx context.Context, ev ChangeEvent) queue.Result {
	m, err := r.store.Find(ctx, ev.SourceID)
	if errors.Is(err, mapping.ErrNotFound) {
		// Never migrated, or already reconciled.
		r.track(EventIgnored, ev, nil)
		return queue.Success
	}
	if err != nil {
		return r.retry(ev, "find mapping", err)
	}

	if err := r.target.Delete(ctx, m.TargetID); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		return r.retry(ev, "delete target", err)
	}

	if err := r.store.Delete(ctx, m.TargetID); err != nil {
		// The target record is gone; a dangling mapping is harmless and a
		// redelivered delete would find the mapping again but nothing to
		// delete. Surface it and move on.
		r.logger.Warn("mapping delete failed", "target_id", m.TargetID, "error", err)
		r.track(EventMappingDeleteFailed, ev, map[string]string{"targetId": m.TargetID})
		return queue.Success
	}

	r.track(EventDeleted, ev, map[string]string{"targetId": m.TargetID})
	return queue.Success
}

// moved relocates every mapped record of a container in one batched call.
func (r *Reconciler) moved(ctx context.Context, ev ChangeEvent) queue.Result {
	ids, err := r.source.ListContainerIDs(ctx, ev.ContainerID)
	if err != nil {
		return r.retry(ev, "list container records", err)
	}

	var targetIDs []string
	for _, id := range ids {
		m, err := r.store.Find(ctx, id)
		if errors.Is(err, mapping.ErrNotFound) {
			// Unmapped records have nothing to move on the target.
			continue
		}
		if err != nil {
			return r.retry(ev, "find mapping", err)
		}
		targetIDs = append(targetIDs, m.TargetID)
	}
	if len(targetIDs) == 0 {
		r.track(EventIgnored, ev, nil)
		return queue.Success
	}

	if err := r.target.Move(ctx, ev.ContainerID, ev.NewContainerID, targetIDs); err != nil {
		return r.retry(ev, "move target records", err)
	}

	r.track(EventMoved, ev, map[string]string{
		"from":  ev.ContainerID,
		"to":    ev.NewContainerID,
		"count": fmt.Sprintf("%d", len(targetIDs)),
	})
	return queue.Success
}

func (r *Reconciler) retry(ev ChangeEvent, op string, err error) queue.Result {
	r.logger.Warn("sync step failed, will redeliver",
		"op", op, "change", ev.Type, "source_id", ev.SourceID, "error", err)
	return queue.Retry
}

func (r *Reconciler) track(event string, ev ChangeEvent, extra map[string]string) {
	attrs := map[string]string{
		"type":     r.recordType,
		"change":   string(ev.Type),
		"sourceId": ev.SourceID,
	}
	for k, v := range extra {
		attrs[k] = v
	}
	r.tracker.TrackEvent(event, attrs)
}
