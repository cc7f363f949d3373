// Package postgres provides a Postgres-backed document store for clinics that
// run a shared server instead of per-device SQLite files.
package postgres

import (
	"clinicflow/internal/infra/persistence/sqlstore"
	"clinicflow/pkg/domain"
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.DocumentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/clinicflow?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect is the Postgres flavour of the documents schema.
var Dialect = sqlstore.Dialect{
	Name:     "postgres",
	Numbered: true,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			rev TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			ref TEXT NOT NULL DEFAULT '',
			sort_key BIGINT NOT NULL DEFAULT 0,
			body JSONB NOT NULL
		)`,
	},
	Indexes: []string{
		`CREATE INDEX IF NOT EXISTS documents_kind_status ON documents (kind, status, sort_key DESC)`,
		`CREATE INDEX IF NOT EXISTS documents_kind_ref ON documents (kind, ref, sort_key DESC)`,
	},
}

// Store persists documents to Postgres.
type Store struct {
	*sqlstore.Store
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	inner, err := sqlstore.New(ctx, db, Dialect, engine)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
