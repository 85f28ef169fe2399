package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// FakeSource is an in-memory Source used in tests and local runs. Records are
// enumerated in insertion order so pages are deterministic.
type FakeSource struct {
	mu      sync.Mutex
	order   []string
	records map[string]SourceRecord

	// FetchErr, when set, is returned by Fetch for every id.
	FetchErr error
}

// NewFakeSource creates an empty fake source system.
func NewFakeSource() *FakeSource {
	return &FakeSource{records: make(map[string]SourceRecord)}
}

// Add inserts a record into the fake system.
func (s *FakeSource) Add(rec SourceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec
}

// Remove deletes a record, simulating a deletion racing the migration.
func (s *FakeSource) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

func (s *FakeSource) Count(_ context.Context, _ Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.order)), nil
}

func (s *FakeSource) ListIDs(_ context.Context, _ Filter, page, size int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := page * size
	if start >= len(s.order) {
		return nil, nil
	}
	end := start + size
	if end > len(s.order) {
		end = len(s.order)
	}
	out := make([]string, end-start)
	copy(out, s.order[start:end])
	return out, nil
}

func (s *FakeSource) Fetch(_ context.Context, id string) (SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FetchErr != nil {
		return SourceRecord{}, s.FetchErr
	}
	rec, ok := s.records[id]
	if !ok {
		return SourceRecord{}, fmt.Errorf("fetch %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

func (s *FakeSource) ListContainerIDs(_ context.Context, containerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range s.order {
		if rec, ok := s.records[id]; ok && rec.ContainerID == containerID {
			out = append(out, id)
		}
	}
	return out, nil
}

// FakeTarget is an in-memory Target recording every write.
type FakeTarget struct {
	mu      sync.Mutex
	records map[string]TargetRequest

	Creates int
	Updates int
	Deletes int
	Moves   []MoveCall

	// CreateErr fails the next CreateErrCount Create calls.
	CreateErr      error
	CreateErrCount int

	// ChildEcho, when set, is returned on every create/update, simulating a
	// composite record whose service echoes child ids.
	ChildEcho []ChildID
}

// MoveCall captures one batched move request.
type MoveCall struct {
	From string
	To   string
	IDs  []string
}

// NewFakeTarget creates an empty fake target system.
func NewFakeTarget() *FakeTarget {
	return &FakeTarget{records: make(map[string]TargetRequest)}
}

func (t *FakeTarget) Create(_ context.Context, req TargetRequest) (CreateResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.CreateErr != nil && t.CreateErrCount > 0 {
		t.CreateErrCount--
		return CreateResult{}, t.CreateErr
	}
	id := uuid.New().String()
	t.records[id] = req
	t.Creates++
	return CreateResult{ID: id, Children: t.ChildEcho}, nil
}

func (t *FakeTarget) Update(_ context.Context, id string, req TargetRequest) (CreateResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[id] = req
	t.Updates++
	return CreateResult{ID: id, Children: t.ChildEcho}, nil
}

func (t *FakeTarget) Delete(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	delete(t.records, id)
	t.Deletes++
	return nil
}

func (t *FakeTarget) Move(_ context.Context, fromContainer, toContainer string, ids []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Moves = append(t.Moves, MoveCall{From: fromContainer, To: toContainer, IDs: ids})
	return nil
}

// Has reports whether a target record exists.
func (t *FakeTarget) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[id]
	return ok
}

// Len reports the number of target records, orphaned duplicates included.
func (t *FakeTarget) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
