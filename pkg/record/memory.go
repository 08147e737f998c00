package record

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store with the same compare-and-swap
// semantics as the sqlite store. Used in tests and embedded deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*IncidentRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*IncidentRecord)}
}

func (s *MemoryStore) Create(_ context.Context, rec *IncidentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("record %s already exists", rec.ID)
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*IncidentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, rec *IncidentRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[rec.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: record %s expected v%d, have v%d", ErrVersionConflict, rec.ID, expectedVersion, cur.Version)
	}
	next := rec.Clone()
	next.Version = expectedVersion + 1
	s.records[rec.ID] = next
	rec.Version = next.Version
	return nil
}
