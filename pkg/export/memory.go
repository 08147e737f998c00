package export

import (
	"context"
	"fmt"
	"sync"
)

type artifactKey struct {
	incidentID  string
	fingerprint string
}

// MemoryStore is an in-memory artifact Store for tests and embedding.
type MemoryStore struct {
	mu        sync.Mutex
	artifacts map[artifactKey]*Artifact
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[artifactKey]*Artifact)}
}

func (s *MemoryStore) Put(_ context.Context, a *Artifact) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := artifactKey{incidentID: a.IncidentID, fingerprint: a.SourceFingerprint}
	if existing, ok := s.artifacts[key]; ok {
		return existing, nil
	}
	s.artifacts[key] = a
	return a, nil
}

func (s *MemoryStore) Find(_ context.Context, incidentID, sourceFingerprint string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[artifactKey{incidentID: incidentID, fingerprint: sourceFingerprint}]
	if !ok {
		return nil, fmt.Errorf("%w: incident %s", ErrArtifactNotFound, incidentID)
	}
	return a, nil
}
