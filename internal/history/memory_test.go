package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerOneActiveRunPerType(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()

	require.NoError(t, l.RecordStarted(ctx, Run{MigrationID: "run-1", Type: "court-cases"}))

	err := l.RecordStarted(ctx, Run{MigrationID: "run-2", Type: "court-cases"})
	assert.ErrorIs(t, err, ErrActiveRun)

	// A different record type is unaffected.
	require.NoError(t, l.RecordStarted(ctx, Run{MigrationID: "run-3", Type: "risk-assessments"}))
}

func TestLedgerCancellingStillBlocksNewRun(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()

	require.NoError(t, l.RecordStarted(ctx, Run{MigrationID: "run-1", Type: "court-cases"}))
	require.NoError(t, l.RecordCancelling(ctx, "run-1"))

	err := l.RecordStarted(ctx, Run{MigrationID: "run-2", Type: "court-cases"})
	assert.ErrorIs(t, err, ErrActiveRun)
}

func TestLedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()

	require.NoError(t, l.RecordStarted(ctx, Run{MigrationID: "run-1", Type: "court-cases", EstimatedCount: 26}))

	cancelling, err := l.IsCancelling(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, cancelling)

	require.NoError(t, l.RecordCompleted(ctx, "run-1", 25, 1))

	run, err := l.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.EqualValues(t, 25, run.RecordsMigrated)
	assert.EqualValues(t, 1, run.RecordsFailed)
	require.NotNil(t, run.WhenEnded)

	// Terminal runs are immutable.
	assert.ErrorIs(t, l.RecordCancelled(ctx, "run-1", 0, 0), ErrBadTransition)
	assert.ErrorIs(t, l.RecordCancelling(ctx, "run-1"), ErrBadTransition)

	// A new run for the type is allowed again.
	require.NoError(t, l.RecordStarted(ctx, Run{MigrationID: "run-2", Type: "court-cases"}))
}

func TestLedgerCancelPath(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()

	require.NoError(t, l.RecordStarted(ctx, Run{MigrationID: "run-1", Type: "court-cases"}))
	require.NoError(t, l.RecordCancelling(ctx, "run-1"))

	cancelling, err := l.IsCancelling(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, cancelling)

	require.NoError(t, l.RecordCancelled(ctx, "run-1", 7, 0))
	run, err := l.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, run.Status)
}

func TestLedgerActive(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()

	_, err := l.Active(ctx, "court-cases")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, l.RecordStarted(ctx, Run{MigrationID: "run-1", Type: "court-cases"}))

	run, err := l.Active(ctx, "court-cases")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.MigrationID)

	require.NoError(t, l.RecordCompleted(ctx, "run-1", 0, 0))
	_, err = l.Active(ctx, "court-cases")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedgerListFilters(t *testing.T) {
	ctx := context.Background()
	l := NewMemLedger()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	runs := []Run{
		{MigrationID: "old", Type: "court-cases", WhenStarted: base.AddDate(0, -2, 0)},
		{MigrationID: "mid", Type: "court-cases", WhenStarted: base},
		{MigrationID: "new", Type: "risk-assessments", WhenStarted: base.AddDate(0, 1, 0)},
	}
	for _, r := range runs {
		require.NoError(t, l.RecordStarted(ctx, r))
		require.NoError(t, l.RecordCompleted(ctx, r.MigrationID, 10, 0))
	}

	// Re-open "mid" style run with failures for the failure filter.
	require.NoError(t, l.RecordStarted(ctx, Run{MigrationID: "failed", Type: "court-cases", WhenStarted: base.AddDate(0, 0, 1)}))
	require.NoError(t, l.RecordCompleted(ctx, "failed", 9, 1))

	all, err := l.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	// Most recent first.
	assert.Equal(t, "new", all[0].MigrationID)

	from := base.AddDate(0, 0, -1)
	ranged, err := l.List(ctx, ListFilter{From: &from})
	require.NoError(t, err)
	assert.Len(t, ranged, 3)

	failures, err := l.List(ctx, ListFilter{OnlyFailures: true})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "failed", failures[0].MigrationID)

	typed, err := l.List(ctx, ListFilter{Type: "risk-assessments"})
	require.NoError(t, err)
	require.Len(t, typed, 1)
	assert.Equal(t, "new", typed[0].MigrationID)
}
