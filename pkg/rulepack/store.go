package rulepack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/firelinehq/incidentd/pkg/canonical"
)

// ErrNoActivePack is returned when no pack is active for a scope.
var ErrNoActivePack = errors.New("rulepack: no active pack for scope")

// ErrInvalidPack marks activation failures caused by the document itself
// (schema, invariants, immutable-version conflicts) as opposed to server
// faults like a failed archive write.
var ErrInvalidPack = errors.New("rulepack: invalid pack document")

// Archive persists every pack version ever activated. Implementations live
// in pkg/store; a nil archive gives a memory-only store for tests.
type Archive interface {
	// Save stores the pack document and marks it the active version for
	// its (jurisdiction, profile) scope, atomically.
	Save(ctx context.Context, p *RulePack, doc []byte) error
	// LoadActive returns the raw documents of all currently active packs.
	LoadActive(ctx context.Context) ([][]byte, error)
}

// Store resolves the single active pack per (jurisdiction, profile) scope.
//
// Reads are served from an in-process map under an RWMutex; Activate swaps
// the compiled pack under the write lock, so readers never observe a
// partially-applied pack and cache invalidation is synchronous with the
// swap.
type Store struct {
	mu      sync.RWMutex
	active  map[Key]*CompiledPack
	archive Archive
	logger  *slog.Logger
	clock   func() time.Time
}

// NewStore creates a Store backed by archive (which may be nil).
func NewStore(archive Archive, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		active:  make(map[Key]*CompiledPack),
		archive: archive,
		logger:  logger,
		clock:   time.Now,
	}
}

// Restore re-activates all packs the archive reports as active. Called once
// at startup.
func (s *Store) Restore(ctx context.Context) error {
	if s.archive == nil {
		return nil
	}
	docs, err := s.archive.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("rulepack: restore: %w", err)
	}
	for _, doc := range docs {
		p, err := Parse(doc)
		if err != nil {
			return fmt.Errorf("rulepack: restore: %w", err)
		}
		compiled, err := Compile(p)
		if err != nil {
			return fmt.Errorf("rulepack: restore: %w", err)
		}
		s.mu.Lock()
		s.active[p.Key()] = compiled
		s.mu.Unlock()
	}
	return nil
}

// GetActive returns the compiled active pack for a scope, or
// ErrNoActivePack.
func (s *Store) GetActive(_ context.Context, jurisdiction, profile string) (*CompiledPack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.active[Key{Jurisdiction: jurisdiction, Profile: profile}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoActivePack, jurisdiction, profile)
	}
	return p, nil
}

// Activate validates, compiles, persists and swaps in a pack document.
// A pack that fails the schema or its internal invariants never becomes
// visible; re-publishing an already-active version with different content
// is rejected (versions are immutable once activated).
func (s *Store) Activate(ctx context.Context, doc []byte) (*CompiledPack, error) {
	p, err := Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPack, err)
	}
	compiled, err := Compile(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPack, err)
	}
	p.ActivatedAt = s.clock().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.active[p.Key()]; ok {
		if cur.Semver.Equal(compiled.Semver) {
			curHash, err := contentHash(cur.Pack)
			if err != nil {
				return nil, fmt.Errorf("rulepack: content hash: %w", err)
			}
			newHash, err := contentHash(p)
			if err != nil {
				return nil, fmt.Errorf("rulepack: content hash: %w", err)
			}
			if curHash != newHash {
				return nil, fmt.Errorf("%w: %s version %s is already active with different content", ErrInvalidPack, p.ID, p.Version)
			}
		}
		if compiled.Semver.LessThan(cur.Semver) {
			s.logger.Warn("activating older pack version",
				"pack", p.ID, "from", cur.Pack.Version, "to", p.Version)
		}
	}

	if s.archive != nil {
		if err := s.archive.Save(ctx, p, doc); err != nil {
			return nil, fmt.Errorf("rulepack: persist: %w", err)
		}
	}
	s.active[p.Key()] = compiled
	s.logger.Info("rule pack activated",
		"pack", p.ID, "jurisdiction", p.Jurisdiction, "profile", p.Profile, "version", p.Version)
	return compiled, nil
}

// contentHash identifies the rule-bearing content of a pack: sections and
// value sets, excluding activation metadata. Two documents with the same
// version must agree on this hash.
func contentHash(p *RulePack) (string, error) {
	return canonical.Hash(struct {
		Sections  []Section           `json:"sections"`
		ValueSets map[string][]string `json:"valueSets"`
	}{p.Sections, p.ValueSets})
}
