package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/firelinehq/incidentd/pkg/validation"
)

// ValidationEntry is one persisted validation run: the full issue list
// (warnings included) kept indefinitely for audit, together with the pack
// version that produced it.
type ValidationEntry struct {
	ID          string             `json:"id"`
	RecordID    string             `json:"recordId"`
	PackID      string             `json:"packId"`
	PackVersion string             `json:"packVersion"`
	Valid       bool               `json:"valid"`
	Fingerprint string             `json:"fingerprint"`
	Issues      []validation.Issue `json:"issues"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// ValidationLog persists validation runs. Append-only.
type ValidationLog interface {
	Append(ctx context.Context, entry ValidationEntry) error
	// Latest returns the most recent entry for a record, or nil.
	Latest(ctx context.Context, recordID string) (*ValidationEntry, error)
}

// MemoryValidationLog is an in-memory ValidationLog for tests and
// embedding.
type MemoryValidationLog struct {
	mu      sync.Mutex
	entries map[string][]ValidationEntry
}

// NewMemoryValidationLog creates an empty log.
func NewMemoryValidationLog() *MemoryValidationLog {
	return &MemoryValidationLog{entries: make(map[string][]ValidationEntry)}
}

func (l *MemoryValidationLog) Append(_ context.Context, entry ValidationEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entry.RecordID] = append(l.entries[entry.RecordID], entry)
	return nil
}

func (l *MemoryValidationLog) Latest(_ context.Context, recordID string) (*ValidationEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	runs := l.entries[recordID]
	if len(runs) == 0 {
		return nil, nil
	}
	e := runs[len(runs)-1]
	return &e, nil
}
