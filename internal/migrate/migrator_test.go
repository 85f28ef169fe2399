package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justiceops/recordsync/internal/gateway"
	"github.com/justiceops/recordsync/internal/mapping"
	"github.com/justiceops/recordsync/internal/queue"
	"github.com/justiceops/recordsync/internal/telemetry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyStore wraps a mapping store with per-source-id Create failures and an
// optional hook running just before the delegated Create, used to stage
// duplicate races deterministically.
type flakyStore struct {
	mapping.Store

	mu           sync.Mutex
	failFor      map[string]int
	beforeCreate func(m mapping.Mapping)
}

func newFlakyStore(inner mapping.Store) *flakyStore {
	return &flakyStore{Store: inner, failFor: make(map[string]int)}
}

func (s *flakyStore) failCreates(sourceID string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFor[sourceID] = times
}

func (s *flakyStore) Len() int {
	return s.Store.(*mapping.MemStore).Len()
}

func (s *flakyStore) Create(ctx context.Context, m mapping.Mapping) (mapping.CreateResult, error) {
	s.mu.Lock()
	if n := s.failFor[m.SourceID]; n > 0 {
		s.failFor[m.SourceID] = n - 1
		s.mu.Unlock()
		return mapping.CreateResult{}, errors.New("mapping service unavailable")
	}
	hook := s.beforeCreate
	s.mu.Unlock()

	if hook != nil {
		hook(m)
	}
	return s.Store.Create(ctx, m)
}

type migratorFixture struct {
	source   *gateway.FakeSource
	target   *gateway.FakeTarget
	store    *flakyStore
	queue    *queue.MemQueue
	tracker  *telemetry.Collector
	migrator *Migrator
}

func newMigratorFixture(t *testing.T) *migratorFixture {
	t.Helper()
	f := &migratorFixture{
		source:  gateway.NewFakeSource(),
		target:  gateway.NewFakeTarget(),
		store:   newFlakyStore(mapping.NewMemStore()),
		queue:   queue.NewMemQueue(),
		tracker: telemetry.NewCollector(),
	}
	f.migrator = NewMigrator("court-cases", f.source, f.target,
		gateway.IdentityTransformer(), f.store, f.queue, f.tracker, discardLogger())
	return f
}

func TestMigrateOneCreatesTargetAndMapping(t *testing.T) {
	f := newMigratorFixture(t)
	f.source.Add(gateway.SourceRecord{ID: "c-1", Body: json.RawMessage(`{"x":1}`)})

	outcome, err := f.migrator.MigrateOne(context.Background(), "c-1", "run-1", mapping.Migrated)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMigrated, outcome)

	m, err := f.store.Find(context.Background(), "c-1")
	require.NoError(t, err)
	assert.True(t, f.target.Has(m.TargetID))
	assert.Equal(t, mapping.Migrated, m.Provenance)
	assert.Equal(t, "run-1", m.Label)
	assert.Equal(t, int64(1), f.tracker.Count(EventEntityMigrated))
}

func TestMigrateOneIsIdempotentOnRedelivery(t *testing.T) {
	f := newMigratorFixture(t)
	f.source.Add(gateway.SourceRecord{ID: "c-1", Body: json.RawMessage(`{}`)})

	_, err := f.migrator.MigrateOne(context.Background(), "c-1", "run-1", mapping.Migrated)
	require.NoError(t, err)

	// Same message delivered again.
	outcome, err := f.migrator.MigrateOne(context.Background(), "c-1", "run-1", mapping.Migrated)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyMapped, outcome)
	assert.Equal(t, 1, f.target.Creates, "redelivery must not touch the target service")
	assert.Equal(t, 1, f.target.Len())
}

func TestMigrateOneSourceDeletedDuringRun(t *testing.T) {
	f := newMigratorFixture(t)
	f.source.Add(gateway.SourceRecord{ID: "c-1", Body: json.RawMessage(`{}`)})
	f.source.Remove("c-1")

	outcome, err := f.migrator.MigrateOne(context.Background(), "c-1", "run-1", mapping.Migrated)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSourceGone, outcome)
	assert.Equal(t, 0, f.target.Creates)
	assert.Equal(t, int64(1), f.tracker.Count(EventSourceMissing))
}

func TestMigrateOneLosesDuplicateRace(t *testing.T) {
	f := newMigratorFixture(t)
	f.source.Add(gateway.SourceRecord{ID: "c-1", Body: json.RawMessage(`{}`)})

	// A competing attempt wins the mapping insert between this attempt's
	// target create and its own insert.
	f.store.beforeCreate = func(m mapping.Mapping) {
		f.store.beforeCreate = nil
		_, err := f.store.Store.Create(context.Background(), mapping.Mapping{
			SourceID:   "c-1",
			TargetID:   "winner-target",
			Provenance: mapping.Migrated,
			Label:      "run-1",
		})
		require.NoError(t, err)
	}

	outcome, err := f.migrator.MigrateOne(context.Background(), "c-1", "run-1", mapping.Migrated)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	// The winner's mapping stands; the duplicate target record stays
	// orphaned, never deleted.
	m, err := f.store.Find(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "winner-target", m.TargetID)
	assert.Equal(t, 1, f.target.Len())
	assert.Equal(t, 0, f.target.Deletes)
	assert.Equal(t, int64(1), f.tracker.Count(EventEntityDuplicate))
}

func TestMappingWriteFailureSchedulesNarrowRetry(t *testing.T) {
	f := newMigratorFixture(t)
	f.source.Add(gateway.SourceRecord{ID: "c-1", Body: json.RawMessage(`{}`)})
	f.store.failCreates("c-1", 1)

	outcome, err := f.migrator.MigrateOne(context.Background(), "c-1", "run-1", mapping.Migrated)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMappingRetryScheduled, outcome)
	assert.Equal(t, 1, f.target.Creates, "target record was created before the mapping write failed")

	depth, err := f.queue.ApproximateDepth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	// The retry message carries only the mapping write, never a second
	// target create.
	d := receiveOne(t, f.queue)
	require.Equal(t, queue.KindRetryMapping, d.Kind)
	var p RetryMappingPayload
	require.NoError(t, json.Unmarshal(d.Payload, &p))
	assert.Equal(t, "c-1", p.SourceID)
	assert.NotEmpty(t, p.TargetID)
	assert.Equal(t, "run-1", p.MigrationID)

	retried, err := f.migrator.RetryMapping(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMigrated, retried)
	assert.Equal(t, 1, f.target.Creates)

	m, err := f.store.Find(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, p.TargetID, m.TargetID)
	assert.Equal(t, int64(1), f.tracker.Count(EventMappingRetry))
	assert.Equal(t, int64(1), f.tracker.Count(EventMappingRetried))
}

func TestRetryMappingIdempotentWhenRaceAlreadyResolved(t *testing.T) {
	f := newMigratorFixture(t)

	_, err := f.store.Store.Create(context.Background(), mapping.Mapping{
		SourceID: "c-1", TargetID: "winner-target",
		Provenance: mapping.Migrated, Label: "run-1",
	})
	require.NoError(t, err)

	outcome, err := f.migrator.RetryMapping(context.Background(), RetryMappingPayload{
		MigrationID: "run-1", SourceID: "c-1", TargetID: "loser-target",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	m, err := f.store.Find(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "winner-target", m.TargetID)
}

func TestRemigrateDeleteFirstClearsTargetAndMapping(t *testing.T) {
	f := newMigratorFixture(t)
	f.source.Add(gateway.SourceRecord{ID: "c-1", Body: json.RawMessage(`{"v":1}`)})

	_, err := f.migrator.MigrateOne(context.Background(), "c-1", "run-1", mapping.Migrated)
	require.NoError(t, err)
	old, err := f.store.Find(context.Background(), "c-1")
	require.NoError(t, err)

	outcome, err := f.migrator.Remigrate(context.Background(), "c-1", true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMigrated, outcome)

	fresh, err := f.store.Find(context.Background(), "c-1")
	require.NoError(t, err)
	assert.NotEqual(t, old.TargetID, fresh.TargetID)
	assert.False(t, f.target.Has(old.TargetID))
	assert.True(t, f.target.Has(fresh.TargetID))
	assert.Equal(t, 1, f.target.Len())
}

func TestRemigrateWithoutDeleteIsIdempotencyGuarded(t *testing.T) {
	f := newMigratorFixture(t)
	f.source.Add(gateway.SourceRecord{ID: "c-1", Body: json.RawMessage(`{}`)})

	_, err := f.migrator.MigrateOne(context.Background(), "c-1", "run-1", mapping.Migrated)
	require.NoError(t, err)

	outcome, err := f.migrator.Remigrate(context.Background(), "c-1", false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyMapped, outcome)
	assert.Equal(t, 1, f.target.Creates)
}

func receiveOne(t *testing.T, q *queue.MemQueue) queue.Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Delete(ctx, d))
	return d
}
