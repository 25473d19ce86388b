// Package store persists planner state in SQLite. A single SQLiteStore
// backs every domain package: preferences, corrections, pattern
// rejections, flows, calendar links, and the item inventory they all
// hang off.
package store

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/plannerd/internal/flow"
	"github.com/fyrsmithlabs/plannerd/internal/learning"
	"github.com/fyrsmithlabs/plannerd/internal/pattern"
	"github.com/fyrsmithlabs/plannerd/internal/preference"
	"github.com/fyrsmithlabs/plannerd/internal/syncrec"
)

// Compile-time checks that SQLiteStore satisfies every consumer-side
// store contract.
var (
	_ preference.Store       = (*SQLiteStore)(nil)
	_ learning.Store         = (*SQLiteStore)(nil)
	_ pattern.RejectionStore = (*SQLiteStore)(nil)
	_ flow.Store             = (*SQLiteStore)(nil)
	_ flow.ItemWriter        = (*SQLiteStore)(nil)
	_ syncrec.Store          = (*SQLiteStore)(nil)
)

// SQLiteStore is the SQLite-backed persistence layer.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and brings
// the schema up to date.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps readers unblocked during the scheduler's write bursts.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	var count int
	err := s.db.Get(&count,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if count == 0 {
		if _, err := s.db.Exec("CREATE TABLE schema_version (version INTEGER NOT NULL)"); err != nil {
			return fmt.Errorf("creating schema_version table: %w", err)
		}
	}

	var currentVersion int
	err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullTime maps the zero time to NULL for nullable columns.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
