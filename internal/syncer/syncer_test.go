package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justiceops/recordsync/internal/gateway"
	"github.com/justiceops/recordsync/internal/mapping"
	"github.com/justiceops/recordsync/internal/migrate"
	"github.com/justiceops/recordsync/internal/queue"
	"github.com/justiceops/recordsync/internal/telemetry"
)

const auditOrigin = "RECORDSYNC"

// brittleStore can fail Delete, for the dangling-mapping path.
type brittleStore struct {
	mapping.Store
	deleteErr error
}

func (s *brittleStore) Delete(ctx context.Context, targetID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Store.Delete(ctx, targetID)
}

type syncFixture struct {
	source     *gateway.FakeSource
	target     *gateway.FakeTarget
	store      *brittleStore
	queue      *queue.MemQueue
	tracker    *telemetry.Collector
	reconciler *Reconciler
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &syncFixture{
		source:  gateway.NewFakeSource(),
		target:  gateway.NewFakeTarget(),
		store:   &brittleStore{Store: mapping.NewMemStore()},
		queue:   queue.NewMemQueue(),
		tracker: telemetry.NewCollector(),
	}
	migrator := migrate.NewMigrator("court-cases", f.source, f.target,
		gateway.IdentityTransformer(), f.store, f.queue, f.tracker, logger)
	f.reconciler = NewReconciler("court-cases", auditOrigin, f.source, f.target,
		gateway.IdentityTransformer(), f.store, migrator, f.tracker, logger)
	return f
}

func (f *syncFixture) handle(t *testing.T, ev ChangeEvent) queue.Result {
	t.Helper()
	msg, err := queue.NewMessage(queue.KindSyncEvent, "court-cases", ev)
	require.NoError(t, err)
	return f.reconciler.Handle(context.Background(), queue.Delivery{Message: msg})
}

func (f *syncFixture) migrated(t *testing.T, sourceID string) mapping.Mapping {
	t.Helper()
	f.source.Add(gateway.SourceRecord{ID: sourceID, Body: json.RawMessage(`{}`)})
	res := f.handle(t, ChangeEvent{Type: ChangeCreated, SourceID: sourceID})
	require.Equal(t, queue.Success, res)
	m, err := f.store.Find(context.Background(), sourceID)
	require.NoError(t, err)
	return m
}

func TestOwnEchoesAreSuppressed(t *testing.T) {
	f := newSyncFixture(t)
	f.source.Add(gateway.SourceRecord{ID: "c-1", Body: json.RawMessage(`{}`)})

	res := f.handle(t, ChangeEvent{Type: ChangeCreated, SourceID: "c-1", Origin: auditOrigin})
	require.Equal(t, queue.Success, res)
	assert.Equal(t, 0, f.target.Creates)
	assert.Equal(t, int64(1), f.tracker.Count(EventSkipped))
}

func TestCreatedMigratesWithSourceProvenance(t *testing.T) {
	f := newSyncFixture(t)
	f.source.Add(gateway.SourceRecord{ID: "c-1", Body: json.RawMessage(`{"x":1}`)})

	res := f.handle(t, ChangeEvent{Type: ChangeCreated, SourceID: "c-1"})
	require.Equal(t, queue.Success, res)

	m, err := f.store.Find(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, mapping.SourceCreated, m.Provenance)
	assert.Empty(t, m.Label)
	assert.True(t, f.target.Has(m.TargetID))
	assert.Equal(t, int64(1), f.tracker.Count(EventCreated))
}

func TestCreatedForMappedRecordIsIgnored(t *testing.T) {
	f := newSyncFixture(t)
	f.migrated(t, "c-1")

	res := f.handle(t, ChangeEvent{Type: ChangeCreated, SourceID: "c-1"})
	require.Equal(t, queue.Success, res)
	assert.Equal(t, 1, f.target.Creates)
	assert.Equal(t, int64(1), f.tracker.Count(EventIgnored))
}

func TestUpdatedReplaysWholeAggregate(t *testing.T) {
	f := newSyncFixture(t)
	m := f.migrated(t, "c-1")

	f.source.Add(gateway.SourceRecord{ID: "c-1", Body: json.RawMessage(`{"x":2}`)})
	res := f.handle(t, ChangeEvent{Type: ChangeUpdated, SourceID: "c-1"})
	require.Equal(t, queue.Success, res)

	assert.Equal(t, 1, f.target.Updates)
	assert.True(t, f.target.Has(m.TargetID))
	assert.Equal(t, int64(1), f.tracker.Count(EventUpdated))
}

func TestUpdatedForUnmappedRecordDegradesToCreate(t *testing.T) {
	f := newSyncFixture(t)
	f.source.Add(gateway.SourceRecord{ID: "c-1", Body: json.RawMessage(`{}`)})

	res := f.handle(t, ChangeEvent{Type: ChangeUpdated, SourceID: "c-1"})
	require.Equal(t, queue.Success, res)

	m, err := f.store.Find(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, mapping.SourceCreated, m.Provenance)
	assert.Equal(t, 0, f.target.Updates)
	assert.Equal(t, 1, f.target.Creates)
}

func TestUpdatedReconcilesEchoedChildren(t *testing.T) {
	f := newSyncFixture(t)
	m := f.migrated(t, "c-1")

	// The target service echoes two children; one is already mapped.
	require.NoError(t, f.store.CreateChildren(context.Background(), []mapping.Mapping{{
		SourceID: "ch-1", TargetID: "t-ch-1", TargetParentID: m.TargetID,
		Provenance: mapping.Migrated,
	}}))
	f.target.ChildEcho = []gateway.ChildID{
		{SourceID: "ch-1", TargetID: "t-ch-1"},
		{SourceID: "ch-2", TargetID: "t-ch-2"},
	}

	res := f.handle(t, ChangeEvent{Type: ChangeUpdated, SourceID: "c-1"})
	require.Equal(t, queue.Success, res)

	children, err := f.store.FindByParent(context.Background(), m.TargetID)
	require.NoError(t, err)
	require.Len(t, children, 2)

	fresh, err := f.store.Find(context.Background(), "ch-2")
	require.NoError(t, err)
	assert.Equal(t, "t-ch-2", fresh.TargetID)
	assert.Equal(t, mapping.TargetCreated, fresh.Provenance)
	assert.Equal(t, int64(1), f.tracker.Count(EventChildrenMapped))
}

func TestDeletedRemovesTargetAndMapping(t *testing.T) {
	f := newSyncFixture(t)
	m := f.migrated(t, "c-1")

	res := f.handle(t, ChangeEvent{Type: ChangeDeleted, SourceID: "c-1"})
	require.Equal(t, queue.Success, res)

	assert.False(t, f.target.Has(m.TargetID))
	_, err := f.store.Find(context.Background(), "c-1")
	assert.ErrorIs(t, err, mapping.ErrNotFound)
	assert.Equal(t, int64(1), f.tracker.Count(EventDeleted))
}

func TestDeletedWithoutMappingIsIgnored(t *testing.T) {
	f := newSyncFixture(t)

	res := f.handle(t, ChangeEvent{Type: ChangeDeleted, SourceID: "never-seen"})
	require.Equal(t, queue.Success, res)
	assert.Equal(t, 0, f.target.Deletes)
	assert.Equal(t, int64(1), f.tracker.Count(EventIgnored))
}

func TestDeletedToleratesMappingDeleteFailure(t *testing.T) {
	f := newSyncFixture(t)
	m := f.migrated(t, "c-1")
	f.store.deleteErr = errors.New("mapping service unavailable")

	res := f.handle(t, ChangeEvent{Type: ChangeDeleted, SourceID: "c-1"})
	require.Equal(t, queue.Success, res, "a dangling mapping must not hold the event hostage")

	assert.False(t, f.target.Has(m.TargetID))
	assert.Equal(t, int64(1), f.tracker.Count(EventMappingDeleteFailed))

	// The mapping survives; only telemetry records the debt.
	_, err := f.store.Find(context.Background(), "c-1")
	assert.NoError(t, err)
}

func TestMovedBatchesMappedRecords(t *testing.T) {
	f := newSyncFixture(t)

	f.source.Add(gateway.SourceRecord{ID: "c-1", ContainerID: "B-1", Body: json.RawMessage(`{}`)})
	f.source.Add(gateway.SourceRecord{ID: "c-2", ContainerID: "B-1", Body: json.RawMessage(`{}`)})
	f.source.Add(gateway.SourceRecord{ID: "c-3", ContainerID: "B-1", Body: json.RawMessage(`{}`)})
	for _, id := range []string{"c-1", "c-2"} {
		res := f.handle(t, ChangeEvent{Type: ChangeCreated, SourceID: id})
		require.Equal(t, queue.Success, res)
	}
	// c-3 is deliberately unmapped.

	res := f.handle(t, ChangeEvent{
		Type: ChangeMoved, ContainerID: "B-1", NewContainerID: "B-2",
	})
	require.Equal(t, queue.Success, res)

	require.Len(t, f.target.Moves, 1)
	move := f.target.Moves[0]
	assert.Equal(t, "B-1", move.From)
	assert.Equal(t, "B-2", move.To)
	assert.Len(t, move.IDs, 2, "unmapped records have nothing to move")
	assert.Equal(t, int64(1), f.tracker.Count(EventMoved))
}

func TestMovedWithNoMappedRecordsIsIgnored(t *testing.T) {
	f := newSyncFixture(t)

	res := f.handle(t, ChangeEvent{
		Type: ChangeMoved, ContainerID: "B-1", NewContainerID: "B-9",
	})
	require.Equal(t, queue.Success, res)
	assert.Empty(t, f.target.Moves)
	assert.Equal(t, int64(1), f.tracker.Count(EventIgnored))
}

func TestDuplicateCreateRaceKeepsExistingMapping(t *testing.T) {
	f := newSyncFixture(t)
	f.source.Add(gateway.SourceRecord{ID: "c-1", Body: json.RawMessage(`{}`)})

	// A bulk run wins the mapping insert; the late attempt arrives through a
	// retry payload carrying a target id that was already superseded.
	res := f.handle(t, ChangeEvent{Type: ChangeCreated, SourceID: "c-1"})
	require.Equal(t, queue.Success, res)

	migrator := migrate.NewMigrator("court-cases", f.source, f.target,
		gateway.IdentityTransformer(), f.store, f.queue, f.tracker,
		slog.New(slog.NewTextHandler(io.Discard, nil))).WithEvents(SyncEvents)
	outcome, err := migrator.RetryMapping(context.Background(), migrate.RetryMappingPayload{
		SourceID: "c-1", TargetID: "late-duplicate",
	})
	require.NoError(t, err)
	assert.Equal(t, migrate.OutcomeDuplicate, outcome)
	assert.Equal(t, int64(1), f.tracker.Count(EventDuplicate))

	m, err := f.store.Find(context.Background(), "c-1")
	require.NoError(t, err)
	assert.NotEqual(t, "late-duplicate", m.TargetID)
}

func TestUnknownChangeTypeGoesToDLQ(t *testing.T) {
	f := newSyncFixture(t)
	res := f.handle(t, ChangeEvent{Type: "REORGANISED", SourceID: "c-1"})
	assert.Equal(t, queue.Fail, res)
}
