package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/firelinehq/incidentd/pkg/lifecycle"
	"github.com/firelinehq/incidentd/pkg/validation"
)

// SQLiteValidationLog implements lifecycle.ValidationLog. Append-only: the
// full issue list of every run, warnings included, is retained
// indefinitely.
type SQLiteValidationLog struct {
	db *sql.DB
}

// NewSQLiteValidationLog creates the log and runs its migration.
func NewSQLiteValidationLog(db *sql.DB) (*SQLiteValidationLog, error) {
	s := &SQLiteValidationLog{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteValidationLog) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS validation_runs (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL,
        record_id TEXT NOT NULL,
        pack_id TEXT NOT NULL,
        pack_version TEXT NOT NULL,
        valid INTEGER NOT NULL,
        fingerprint TEXT NOT NULL,
        issues JSON NOT NULL,
        created_at TEXT NOT NULL
    );`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return err
	}
	_, err := s.db.ExecContext(context.Background(),
		`CREATE INDEX IF NOT EXISTS idx_validation_runs_record ON validation_runs (record_id, seq)`)
	return err
}

func (s *SQLiteValidationLog) Append(ctx context.Context, entry lifecycle.ValidationEntry) error {
	issues, err := json.Marshal(entry.Issues)
	if err != nil {
		return fmt.Errorf("store: encode issues: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO validation_runs (id, record_id, pack_id, pack_version, valid, fingerprint, issues, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RecordID, entry.PackID, entry.PackVersion,
		boolToInt(entry.Valid), entry.Fingerprint, string(issues),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: insert validation run: %w", err)
	}
	return nil
}

func (s *SQLiteValidationLog) Latest(ctx context.Context, recordID string) (*lifecycle.ValidationEntry, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, record_id, pack_id, pack_version, valid, fingerprint, issues, created_at
        FROM validation_runs
        WHERE record_id = ?
        ORDER BY seq DESC
        LIMIT 1`, recordID,
	)
	var (
		entry     lifecycle.ValidationEntry
		valid     int
		issues    string
		createdAt string
	)
	err := row.Scan(&entry.ID, &entry.RecordID, &entry.PackID, &entry.PackVersion,
		&valid, &entry.Fingerprint, &issues, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	entry.Valid = valid != 0
	entry.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(issues), &entry.Issues); err != nil {
		return nil, fmt.Errorf("store: decode issues: %w", err)
	}
	if entry.Issues == nil {
		entry.Issues = []validation.Issue{}
	}
	return &entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
