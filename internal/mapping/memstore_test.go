package mapping

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreFindAbsent(t *testing.T) {
	s := NewMemStore()

	_, err := s.Find(context.Background(), "A1111AA-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreCreateAndFind(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	res, err := s.Create(ctx, Mapping{
		SourceID:   "A1111AA-1",
		TargetID:   "t-0001",
		Provenance: Migrated,
		Label:      "2026-08-30T10:00:00",
	})
	require.NoError(t, err)
	assert.False(t, res.Conflict)

	m, err := s.Find(ctx, "A1111AA-1")
	require.NoError(t, err)
	assert.Equal(t, "t-0001", m.TargetID)
	assert.Equal(t, Migrated, m.Provenance)
	assert.False(t, m.CreatedAt.IsZero())

	byTarget, err := s.FindByTarget(ctx, "t-0001")
	require.NoError(t, err)
	assert.Equal(t, "A1111AA-1", byTarget.SourceID)
}

func TestMemStoreCreateIdenticalIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	m := Mapping{SourceID: "src", TargetID: "tgt", Provenance: Migrated}

	_, err := s.Create(ctx, m)
	require.NoError(t, err)

	res, err := s.Create(ctx, m)
	require.NoError(t, err)
	assert.False(t, res.Conflict, "retry of the same mapping must not conflict")
	assert.Equal(t, 1, s.Len())
}

func TestMemStoreConflictKeepsExisting(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	_, err := s.Create(ctx, Mapping{SourceID: "src", TargetID: "t-winner"})
	require.NoError(t, err)

	res, err := s.Create(ctx, Mapping{SourceID: "src", TargetID: "t-loser"})
	require.NoError(t, err)
	require.True(t, res.Conflict)
	assert.Equal(t, "t-winner", res.Existing.TargetID)
	assert.Equal(t, "t-loser", res.Duplicate.TargetID)

	// The store still holds exactly the winning mapping.
	m, err := s.Find(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, "t-winner", m.TargetID)
	assert.Equal(t, 1, s.Len())
}

func TestMemStoreConcurrentCreateRetainsOneMapping(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	const callers = 16
	results := make([]CreateResult, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Create(ctx, Mapping{
				SourceID: "src",
				TargetID: string(rune('a' + i)),
			})
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, s.Len())

	winner, err := s.Find(ctx, "src")
	require.NoError(t, err)

	conflicts := 0
	for _, res := range results {
		if res.Conflict {
			conflicts++
			// Every loser is told which mapping was kept.
			assert.Equal(t, winner.TargetID, res.Existing.TargetID)
		}
	}
	assert.Equal(t, callers-1, conflicts)
}

func TestMemStoreDeleteAbsentIsSuccess(t *testing.T) {
	s := NewMemStore()
	assert.NoError(t, s.Delete(context.Background(), "never-existed"))
}

func TestMemStoreDeleteRemovesBothIndexes(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	_, err := s.Create(ctx, Mapping{SourceID: "src", TargetID: "tgt"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "tgt"))

	_, err = s.Find(ctx, "src")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.FindByTarget(ctx, "tgt")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemStoreFindByParent(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	_, err := s.Create(ctx, Mapping{SourceID: "rep-1", TargetID: "t-rep"})
	require.NoError(t, err)
	_, err = s.Create(ctx, Mapping{SourceID: "rep-1-a", TargetID: "t-a", TargetParentID: "t-rep"})
	require.NoError(t, err)
	_, err = s.Create(ctx, Mapping{SourceID: "rep-1-b", TargetID: "t-b", TargetParentID: "t-rep"})
	require.NoError(t, err)

	children, err := s.FindByParent(ctx, "t-rep")
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestMemStoreCountByLabel(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	for _, m := range []Mapping{
		{SourceID: "a", TargetID: "1", Label: "run-1"},
		{SourceID: "b", TargetID: "2", Label: "run-1"},
		{SourceID: "c", TargetID: "3", Label: "run-2"},
		{SourceID: "d", TargetID: "4"},
	} {
		_, err := s.Create(ctx, m)
		require.NoError(t, err)
	}

	n, err := s.CountByLabel(ctx, "run-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
