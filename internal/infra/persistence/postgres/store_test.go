package postgres

import (
	"clinicflow/pkg/domain"
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var documentColumns = []string{"id", "kind", "rev", "status", "ref", "sort_key", "body"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		if driverName != defaultDriver {
			t.Fatalf("unexpected driver %s", driverName)
		}
		return db, nil
	})
	t.Cleanup(restore)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS documents")).WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, mock
}

func TestPostgresStoreInsertUsesNumberedPlaceholders(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM documents WHERE id = $1")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(documentColumns))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents (id, kind, rev, status, ref, sort_key, body) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING")).
		WithArgs("p1", "patient", sqlmock.AnyArg(), "", "", sqlmock.AnyArg(), `{"name":"Ama"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	doc, _, err := store.Put(ctx, domain.Document{ID: "p1", Kind: domain.KindPatient, Body: []byte(`{"name":"Ama"}`)})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if domain.RevisionGeneration(doc.Revision) != 1 {
		t.Fatalf("unexpected revision %s", doc.Revision)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStoreStaleUpdateRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM documents WHERE id = $1")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows(documentColumns).
			AddRow("e1", "encounter", "2-bbbb", "in_consult", "p1", int64(0), []byte(`{}`)))
	mock.ExpectRollback()

	_, _, err := store.Put(ctx, domain.Document{ID: "e1", Kind: domain.KindEncounter, Revision: "1-aaaa"})
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if conflict.Current != "2-bbbb" || conflict.Expected != "1-aaaa" {
		t.Fatalf("unexpected conflict %+v", conflict)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStoreConcurrentUpdateLosesRace(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM documents WHERE id = $1")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows(documentColumns).
			AddRow("e1", "encounter", "1-aaaa", "waiting_for_consult", "p1", int64(0), []byte(`{}`)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET rev = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, _, err := store.Put(ctx, domain.Document{ID: "e1", Kind: domain.KindEncounter, Revision: "1-aaaa", Status: "in_consult", Body: []byte(`{}`)})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict when no row updated, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStoreFindBuildsIndexesOnce(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS documents_kind_status")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS documents_kind_ref")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE kind = $1 AND status = $2 ORDER BY sort_key DESC, id ASC")).
		WithArgs("encounter", "waiting_for_lab").
		WillReturnRows(sqlmock.NewRows(documentColumns).
			AddRow("e2", "encounter", "1-aa", "waiting_for_lab", "p1", at.UnixNano(), []byte(`{}`)))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE kind = $1 AND ref = $2 ORDER BY")).
		WithArgs("encounter", "p1").
		WillReturnRows(sqlmock.NewRows(documentColumns))

	res, err := store.Find(ctx, domain.Query{Kind: domain.KindEncounter, Status: "waiting_for_lab"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(res) != 1 || !res[0].SortKey.Equal(at) {
		t.Fatalf("unexpected results %+v", res)
	}
	if _, err := store.Find(ctx, domain.Query{Kind: domain.KindEncounter, Ref: "p1"}); err != nil {
		t.Fatalf("second find: %v", err)
	}
	if store.Indexes().Builds() != 1 {
		t.Fatalf("expected indexes to be built once, got %d", store.Indexes().Builds())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStoreGetMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM documents WHERE id = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(documentColumns))
	if _, err := store.Get(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewStorePropagatesOpenErrors(t *testing.T) {
	boom := errors.New("no route to host")
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, boom })
	defer restore()
	if _, err := NewStore("postgres://clinic", nil); !errors.Is(err, boom) {
		t.Fatalf("expected open error, got %v", err)
	}
}
