package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/firelinehq/incidentd/pkg/audit"
)

// SQLiteAuditSink implements audit.Sink. Append-only.
type SQLiteAuditSink struct {
	db *sql.DB
}

// NewSQLiteAuditSink creates the sink and runs its migration.
func NewSQLiteAuditSink(db *sql.DB) (*SQLiteAuditSink, error) {
	s := &SQLiteAuditSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteAuditSink) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_events (
        id TEXT PRIMARY KEY,
        tenant_id TEXT NOT NULL,
        action TEXT NOT NULL,
        resource TEXT NOT NULL,
        timestamp TEXT NOT NULL,
        metadata JSON
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteAuditSink) Append(ctx context.Context, ev audit.Event) error {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("store: encode audit metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO audit_events (id, tenant_id, action, resource, timestamp, metadata)
        VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TenantID, ev.Action, ev.Resource,
		ev.Timestamp.UTC().Format(time.RFC3339Nano), string(meta),
	)
	if err != nil {
		return fmt.Errorf("store: insert audit event: %w", err)
	}
	return nil
}
