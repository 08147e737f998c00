package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/firelinehq/incidentd/pkg/record"
)

// SQLiteRecordStore implements record.Store with compare-and-swap writes.
type SQLiteRecordStore struct {
	db *sql.DB
}

// NewSQLiteRecordStore creates the store and runs its migration.
func NewSQLiteRecordStore(db *sql.DB) (*SQLiteRecordStore, error) {
	s := &SQLiteRecordStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRecordStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS records (
        id TEXT PRIMARY KEY,
        tenant_id TEXT NOT NULL,
        external_number TEXT NOT NULL DEFAULT '',
        jurisdiction TEXT NOT NULL,
        profile TEXT NOT NULL,
        status TEXT NOT NULL,
        payload JSON NOT NULL,
        fingerprint TEXT NOT NULL DEFAULT '',
        last_validated_at TEXT,
        version INTEGER NOT NULL DEFAULT 0,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteRecordStore) Create(ctx context.Context, rec *record.IncidentRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("store: encode payload: %w", err)
	}
	query := `INSERT INTO records (
        id, tenant_id, external_number, jurisdiction, profile, status, payload,
        fingerprint, last_validated_at, version, created_at, updated_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.TenantID, rec.ExternalNumber, rec.Jurisdiction, rec.Profile,
		string(rec.Status), string(payload), rec.Fingerprint, nullableTime(rec.LastValidatedAt),
		rec.Version, rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: insert record: %w", err)
	}
	return nil
}

func (s *SQLiteRecordStore) Get(ctx context.Context, id string) (*record.IncidentRecord, error) {
	query := `
        SELECT id, tenant_id, external_number, jurisdiction, profile, status, payload,
               fingerprint, last_validated_at, version, created_at, updated_at
        FROM records
        WHERE id = ?
    `
	row := s.db.QueryRowContext(ctx, query, id)
	var (
		rec             record.IncidentRecord
		status          string
		payloadJSON     string
		lastValidatedAt sql.NullString
		createdAt       string
		updatedAt       string
	)
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.ExternalNumber, &rec.Jurisdiction, &rec.Profile,
		&status, &payloadJSON, &rec.Fingerprint, &lastValidatedAt, &rec.Version, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", record.ErrNotFound, id)
		}
		return nil, err
	}
	rec.Status = record.Status(status)
	if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
		return nil, fmt.Errorf("store: decode payload: %w", err)
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	if lastValidatedAt.Valid && lastValidatedAt.String != "" {
		t := parseTime(lastValidatedAt.String)
		rec.LastValidatedAt = &t
	}
	return &rec, nil
}

// Update writes rec only if the stored version equals expectedVersion. The
// version guard is in the WHERE clause, so the check and the write are one
// atomic statement.
func (s *SQLiteRecordStore) Update(ctx context.Context, rec *record.IncidentRecord, expectedVersion int64) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("store: encode payload: %w", err)
	}
	query := `
        UPDATE records
        SET status = ?, payload = ?, fingerprint = ?, last_validated_at = ?,
            version = version + 1, updated_at = ?
        WHERE id = ? AND version = ?
    `
	res, err := s.db.ExecContext(ctx, query,
		string(rec.Status), string(payload), rec.Fingerprint, nullableTime(rec.LastValidatedAt),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano), rec.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("store: update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a stale version from a missing record.
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM records WHERE id = ?`, rec.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", record.ErrNotFound, rec.ID)
		}
		return fmt.Errorf("%w: record %s expected v%d", record.ErrVersionConflict, rec.ID, expectedVersion)
	}
	rec.Version = expectedVersion + 1
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
