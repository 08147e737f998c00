package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/firelinehq/incidentd/pkg/export"
)

// SQLiteArtifactStore implements export.Store. Insert-only: artifacts are
// never updated or deleted, and a duplicate (incident, fingerprint) insert
// resolves to the previously stored row.
type SQLiteArtifactStore struct {
	db *sql.DB
}

// NewSQLiteArtifactStore creates the store and runs its migration.
func NewSQLiteArtifactStore(db *sql.DB) (*SQLiteArtifactStore, error) {
	s := &SQLiteArtifactStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteArtifactStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS export_artifacts (
        id TEXT PRIMARY KEY,
        incident_id TEXT NOT NULL,
        generated_at TEXT NOT NULL,
        format TEXT NOT NULL,
        content_hash TEXT NOT NULL,
        source_fingerprint TEXT NOT NULL,
        pack_id TEXT NOT NULL,
        pack_version TEXT NOT NULL,
        body BLOB NOT NULL,
        UNIQUE (incident_id, source_fingerprint)
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteArtifactStore) Put(ctx context.Context, a *export.Artifact) (*export.Artifact, error) {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO export_artifacts (
            id, incident_id, generated_at, format, content_hash,
            source_fingerprint, pack_id, pack_version, body
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (incident_id, source_fingerprint) DO NOTHING`,
		a.ID, a.IncidentID, a.GeneratedAt.UTC().Format(time.RFC3339Nano), a.Format,
		a.ContentHash, a.SourceFingerprint, a.PackID, a.PackVersion, a.Body,
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert artifact: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return a, nil
	}
	// Lost the insert race or re-requested: return the retained artifact.
	return s.Find(ctx, a.IncidentID, a.SourceFingerprint)
}

func (s *SQLiteArtifactStore) Find(ctx context.Context, incidentID, sourceFingerprint string) (*export.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, incident_id, generated_at, format, content_hash,
               source_fingerprint, pack_id, pack_version, body
        FROM export_artifacts
        WHERE incident_id = ? AND source_fingerprint = ?`,
		incidentID, sourceFingerprint,
	)
	var (
		a           export.Artifact
		generatedAt string
	)
	err := row.Scan(&a.ID, &a.IncidentID, &generatedAt, &a.Format, &a.ContentHash,
		&a.SourceFingerprint, &a.PackID, &a.PackVersion, &a.Body)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: incident %s", export.ErrArtifactNotFound, incidentID)
		}
		return nil, err
	}
	a.GeneratedAt = parseTime(generatedAt)
	return &a, nil
}
