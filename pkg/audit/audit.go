// Package audit records the compliance trail: pack activations, successful
// validations, demotions and exports. Events are append-only and never
// deleted.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the lifecycle controller and pack admin surface.
const (
	ActionRecordCreated   = "record.created"
	ActionRecordMutated   = "record.mutated"
	ActionRecordDemoted   = "record.demoted"
	ActionRecordValidated = "record.validated"
	ActionRecordExported  = "record.exported"
	ActionPackActivated   = "pack.activated"
)

// Event is one audit record.
type Event struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Sink persists events. The sqlite sink lives in pkg/store.
type Sink interface {
	Append(ctx context.Context, ev Event) error
}

// Log records audit events to a sink and mirrors them to slog so operators
// see the trail without querying the store.
type Log struct {
	sink   Sink
	logger *slog.Logger
	clock  func() time.Time
}

// NewLog creates a Log. sink may be nil (slog mirror only, used in tests).
func NewLog(sink Sink, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{sink: sink, logger: logger, clock: time.Now}
}

// Record appends one event. Sink failures are returned to the caller;
// the lifecycle treats the audit trail as part of the operation, not
// best-effort.
func (l *Log) Record(ctx context.Context, tenantID, action, resource string, metadata map[string]any) error {
	ev := Event{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Action:    action,
		Resource:  resource,
		Timestamp: l.clock().UTC(),
		Metadata:  metadata,
	}
	l.logger.InfoContext(ctx, "audit",
		"action", ev.Action, "resource", ev.Resource, "tenant", ev.TenantID)
	if l.sink == nil {
		return nil
	}
	return l.sink.Append(ctx, ev)
}
