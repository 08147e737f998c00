package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/firelinehq/incidentd/pkg/rulepack"
)

// SQLitePackArchive implements rulepack.Archive. Every activated pack
// version is retained; the active flag moves atomically within one
// transaction so a reader never observes a scope with zero or two active
// versions.
type SQLitePackArchive struct {
	db *sql.DB
}

// NewSQLitePackArchive creates the archive and runs its migration.
func NewSQLitePackArchive(db *sql.DB) (*SQLitePackArchive, error) {
	s := &SQLitePackArchive{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLitePackArchive) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS rule_packs (
        pack_id TEXT NOT NULL,
        jurisdiction TEXT NOT NULL,
        profile TEXT NOT NULL,
        version TEXT NOT NULL,
        doc TEXT NOT NULL,
        active INTEGER NOT NULL DEFAULT 0,
        activated_at TEXT NOT NULL,
        PRIMARY KEY (jurisdiction, profile, version)
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLitePackArchive) Save(ctx context.Context, p *rulepack.RulePack, doc []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin pack save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE rule_packs SET active = 0 WHERE jurisdiction = ? AND profile = ?`,
		p.Jurisdiction, p.Profile,
	); err != nil {
		return fmt.Errorf("store: clear active pack: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO rule_packs (pack_id, jurisdiction, profile, version, doc, active, activated_at)
        VALUES (?, ?, ?, ?, ?, 1, ?)
        ON CONFLICT (jurisdiction, profile, version)
        DO UPDATE SET active = 1, activated_at = excluded.activated_at`,
		p.ID, p.Jurisdiction, p.Profile, p.Version, string(doc),
		p.ActivatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("store: insert pack: %w", err)
	}
	return tx.Commit()
}

func (s *SQLitePackArchive) LoadActive(ctx context.Context) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM rule_packs WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("store: load active packs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs [][]byte
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, []byte(doc))
	}
	return docs, rows.Err()
}
