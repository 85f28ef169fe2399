package mapping

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-process Store with the same conditional-insert semantics
// as the remote mapping service. It backs tests and local single-node runs.
type MemStore struct {
	mu       sync.Mutex
	bySource map[string]Mapping
	byTarget map[string]Mapping
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		bySource: make(map[string]Mapping),
		byTarget: make(map[string]Mapping),
	}
}

func (s *MemStore) Find(_ context.Context, sourceID string) (Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.bySource[sourceID]
	if !ok {
		return Mapping{}, fmt.Errorf("%s: %w", sourceID, ErrNotFound)
	}
	return m, nil
}

func (s *MemStore) FindByTarget(_ context.Context, targetID string) (Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byTarget[targetID]
	if !ok {
		return Mapping{}, fmt.Errorf("%s: %w", targetID, ErrNotFound)
	}
	return m, nil
}

func (s *MemStore) Create(_ context.Context, m Mapping) (CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.bySource[m.SourceID]; ok {
		// Retried insert of the identical mapping is benign.
		if existing.TargetID == m.TargetID {
			return CreateResult{}, nil
		}
		return CreateResult{Conflict: true, Existing: existing, Duplicate: m}, nil
	}
	if existing, ok := s.byTarget[m.TargetID]; ok {
		return CreateResult{Conflict: true, Existing: existing, Duplicate: m}, nil
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.bySource[m.SourceID] = m
	s.byTarget[m.TargetID] = m
	return CreateResult{}, nil
}

func (s *MemStore) Delete(_ context.Context, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byTarget[targetID]
	if !ok {
		return nil
	}
	delete(s.byTarget, targetID)
	delete(s.bySource, m.SourceID)
	return nil
}

func (s *MemStore) FindByParent(_ context.Context, targetParentID string) ([]Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Mapping
	for _, m := range s.bySource {
		if m.TargetParentID == targetParentID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemStore) CreateChildren(ctx context.Context, ms []Mapping) error {
	for _, m := range ms {
		if _, err := s.Create(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) CountByLabel(_ context.Context, label string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.bySource {
		if m.Label == label {
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored mappings.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bySource)
}
