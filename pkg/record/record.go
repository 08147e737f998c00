// Package record holds the incident aggregate: the only mutable shared
// state in the system. All writes go through compare-and-swap on a
// monotonic version counter; there is no cross-record locking.
package record

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of an incident record.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusValidated Status = "validated"
	StatusExported  Status = "exported"
)

// IncidentRecord is one regulatory incident report. Payload is an arbitrary
// nested structure interpreted against the active rule pack; the engine
// never assumes a fixed field list.
type IncidentRecord struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenantId"`
	ExternalNumber string `json:"externalNumber"`

	// Jurisdiction and Profile select the rule pack this record is
	// validated against.
	Jurisdiction string `json:"jurisdiction"`
	Profile      string `json:"profile"`

	Status  Status         `json:"status"`
	Payload map[string]any `json:"payload"`

	// Fingerprint is the canonical-payload hash stored by the last
	// successful validation; cleared on any mutation.
	Fingerprint     string     `json:"fingerprint,omitempty"`
	LastValidatedAt *time.Time `json:"lastValidatedAt,omitempty"`

	// Version is the optimistic-concurrency counter. Every successful
	// write increments it; a stale expected version is a conflict, never
	// a silent overwrite.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy safe to mutate.
func (r *IncidentRecord) Clone() *IncidentRecord {
	cp := *r
	cp.Payload = clonePayload(r.Payload)
	if r.LastValidatedAt != nil {
		t := *r.LastValidatedAt
		cp.LastValidatedAt = &t
	}
	return &cp
}

func clonePayload(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return clonePayload(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Store errors. Implementations wrap these so callers can errors.Is.
var (
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("record: not found")
	// ErrVersionConflict reports a compare-and-swap failure: the stored
	// version no longer matches the caller's expected version.
	ErrVersionConflict = errors.New("record: version conflict")
)

// Store persists incident records.
type Store interface {
	Create(ctx context.Context, rec *IncidentRecord) error
	Get(ctx context.Context, id string) (*IncidentRecord, error)
	// Update writes rec if and only if the stored version equals
	// expectedVersion, then increments the version. Returns
	// ErrVersionConflict otherwise. rec.Version is set to the new value
	// on success.
	Update(ctx context.Context, rec *IncidentRecord, expectedVersion int64) error
}
