// Package sqlite provides the on-device document store backed by a single
// SQLite file.
package sqlite

import (
	"clinicflow/internal/infra/persistence/sqlstore"
	"clinicflow/pkg/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.DocumentStore = (*Store)(nil)

const defaultPath = "clinicflow.db"

// Dialect is the SQLite flavour of the documents schema.
var Dialect = sqlstore.Dialect{
	Name: "sqlite",
	Schema: []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			rev TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			ref TEXT NOT NULL DEFAULT '',
			sort_key INTEGER NOT NULL DEFAULT 0,
			body BLOB NOT NULL
		)`,
	},
	Indexes: []string{
		`CREATE INDEX IF NOT EXISTS documents_kind_status ON documents (kind, status, sort_key DESC)`,
		`CREATE INDEX IF NOT EXISTS documents_kind_ref ON documents (kind, ref, sort_key DESC)`,
	},
}

// Store persists documents to SQLite.
type Store struct {
	*sqlstore.Store
	path string
}

// NewStore opens (creating if needed) the SQLite file at path.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer; sqlite serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	inner, err := sqlstore.New(context.Background(), db, Dialect, engine)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
