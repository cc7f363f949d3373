// Package sqlstore implements the document store contract over database/sql.
// The sqlite and postgres packages supply a Dialect and own connection setup.
package sqlstore

import (
	"clinicflow/internal/infra/persistence/lazyindex"
	"clinicflow/pkg/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var _ domain.DocumentStore = (*Store)(nil)

// Dialect captures the statements that differ between SQL engines.
type Dialect struct {
	Name string
	// Numbered rewrites ? placeholders to $1..$n.
	Numbered bool
	// Schema is applied when the store opens.
	Schema []string
	// Indexes is applied lazily on the first query.
	Indexes []string
}

// Store persists documents to a single documents table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	engine  *domain.RulesEngine
	indexes *lazyindex.Initializer
}

// New applies the dialect schema and returns a ready store. Secondary indexes
// are not built until EnsureIndexes or the first Find.
func New(ctx context.Context, db *sql.DB, dialect Dialect, engine *domain.RulesEngine) (*Store, error) {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	for _, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s: apply schema: %w", dialect.Name, err)
		}
	}
	s := &Store{db: db, dialect: dialect, engine: engine}
	s.indexes = lazyindex.New(s.buildIndexes)
	return s, nil
}

// DB exposes the connection pool for pool-stats collectors and tests.
func (s *Store) DB() *sql.DB { return s.db }

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *domain.RulesEngine { return s.engine }

// Indexes exposes the index initialization handle.
func (s *Store) Indexes() *lazyindex.Initializer { return s.indexes }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// EnsureIndexes builds the secondary indexes once.
func (s *Store) EnsureIndexes(ctx context.Context) error { return s.indexes.Ensure(ctx) }

func (s *Store) buildIndexes(ctx context.Context) error {
	for _, stmt := range s.dialect.Indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: build indexes: %w", s.dialect.Name, err)
		}
	}
	return nil
}

const selectColumns = `SELECT id, kind, rev, status, ref, sort_key, body FROM documents`

// Put inserts or updates doc inside a transaction, evaluating rules against the
// transaction's view of committed documents.
func (s *Store) Put(ctx context.Context, doc domain.Document) (domain.Document, domain.Result, error) {
	if doc.Kind == "" {
		return domain.Document{}, domain.Result{}, &domain.ValidationError{ID: doc.ID, Field: "kind", Reason: "required"}
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, domain.Result{}, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	view := txView{tx: tx, store: s}
	current, err := view.Lookup(ctx, doc.ID)
	exists := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Document{}, domain.Result{}, err
	}
	if !exists && doc.Revision != "" {
		return domain.Document{}, domain.Result{}, &domain.ConflictError{ID: doc.ID, Expected: doc.Revision}
	}
	if exists && doc.Revision != current.Revision {
		return domain.Document{}, domain.Result{}, &domain.ConflictError{ID: doc.ID, Expected: doc.Revision, Current: current.Revision}
	}
	if exists && current.Kind != doc.Kind {
		return domain.Document{}, domain.Result{}, &domain.ValidationError{Kind: doc.Kind, ID: doc.ID, Field: "kind", Reason: "cannot change from " + string(current.Kind)}
	}

	change := domain.Change{Kind: doc.Kind, Action: domain.ActionCreate, After: doc.Clone()}
	if exists {
		change.Action = domain.ActionUpdate
		change.Before = &current
	}
	res, err := s.engine.Evaluate(ctx, view, change)
	if err != nil {
		return domain.Document{}, domain.Result{}, err
	}
	if res.HasBlocking() {
		return domain.Document{}, res, domain.RuleViolationError{Result: res}
	}

	next := doc.Clone()
	next.Revision = domain.NextRevision(current.Revision)
	var result sql.Result
	if exists {
		result, err = tx.ExecContext(ctx, s.rebind(`UPDATE documents SET rev = ?, status = ?, ref = ?, sort_key = ?, body = ? WHERE id = ? AND rev = ?`),
			next.Revision, next.Status, next.Ref, encodeSortKey(next.SortKey), string(next.Body), next.ID, current.Revision)
	} else {
		result, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO documents (id, kind, rev, status, ref, sort_key, body) VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`),
			next.ID, string(next.Kind), next.Revision, next.Status, next.Ref, encodeSortKey(next.SortKey), string(next.Body))
	}
	if err != nil {
		return domain.Document{}, domain.Result{}, fmt.Errorf("write %s: %w", next.ID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		// a concurrent writer committed between our read and write
		return domain.Document{}, domain.Result{}, &domain.ConflictError{ID: doc.ID, Expected: doc.Revision, Current: "unknown"}
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, domain.Result{}, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return next, res, nil
}

// Get returns a committed document by id.
func (s *Store) Get(ctx context.Context, id string) (domain.Document, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectColumns+` WHERE id = ?`), id)
	return scanDocument(row, id)
}

// Find returns documents matching q ordered newest first.
func (s *Store) Find(ctx context.Context, q domain.Query) ([]domain.Document, error) {
	if q.Kind == "" {
		return nil, &domain.ValidationError{Field: "kind", Reason: "query requires a kind"}
	}
	if err := s.indexes.Ensure(ctx); err != nil {
		return nil, err
	}
	query := selectColumns + ` WHERE kind = ?`
	args := []any{string(q.Kind)}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, q.Status)
	}
	if q.Ref != "" {
		query += ` AND ref = ?`
		args = append(args, q.Ref)
	}
	query += ` ORDER BY sort_key DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", q.Kind, err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", q.Kind, err)
	}
	return out, nil
}

func (s *Store) rebind(query string) string {
	if !s.dialect.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner, id string) (domain.Document, error) {
	var (
		doc     domain.Document
		kind    string
		sortKey int64
		body    []byte
	)
	if err := row.Scan(&doc.ID, &kind, &doc.Revision, &doc.Status, &doc.Ref, &sortKey, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Document{}, &domain.NotFoundError{ID: id}
		}
		return domain.Document{}, fmt.Errorf("scan document: %w", err)
	}
	doc.Kind = domain.Kind(kind)
	doc.SortKey = decodeSortKey(sortKey)
	doc.Body = append([]byte(nil), body...)
	return doc, nil
}

// Sort keys are stored as unix nanoseconds; 0 stands for the zero time.
func encodeSortKey(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func decodeSortKey(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

type txView struct {
	tx    *sql.Tx
	store *Store
}

func (v txView) Lookup(ctx context.Context, id string) (domain.Document, error) {
	row := v.tx.QueryRowContext(ctx, v.store.rebind(selectColumns+` WHERE id = ?`), id)
	return scanDocument(row, id)
}
