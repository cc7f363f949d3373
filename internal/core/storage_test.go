package core

import (
	"clinicflow/internal/infra/persistence/memory"
	"clinicflow/internal/infra/persistence/sqlite"
	"clinicflow/pkg/domain"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpenPersistentStore_DefaultSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinic.db")
	store, err := OpenPersistentStore(StorageOptions{SQLitePath: path}, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer func() { _ = store.Close() }()
	sqliteStore, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected *sqlite.Store, got %T", store)
	}
	if sqliteStore.Path() != path {
		t.Fatalf("unexpected path %s", sqliteStore.Path())
	}
}

func TestOpenPersistentStore_Memory(t *testing.T) {
	store, err := OpenPersistentStore(StorageOptions{Driver: " Memory "}, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected *memory.Store, got %T", store)
	}
}

func TestOpenPersistentStore_Unknown(t *testing.T) {
	if _, err := OpenPersistentStore(StorageOptions{Driver: "mongo"}, nil); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestServiceOverSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "clinic.db")
	fixed := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	store, err := OpenPersistentStore(StorageOptions{Driver: StorageSQLite, SQLitePath: path}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	svc := NewService(store, WithClock(ClockFunc(func() time.Time { return fixed })))
	p, err := svc.Patients.Register(ctx, domain.Patient{Name: "Esi", Age: 41, Sex: domain.SexFemale})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	enc, err := svc.Encounters.CreateEncounter(ctx, p.ID, Intake{Vitals: &domain.Vitals{Pulse: "88"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = OpenPersistentStore(StorageOptions{Driver: StorageSQLite, SQLitePath: path}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	svc = NewService(store)
	defer func() { _ = svc.Close() }()
	got, err := svc.Encounters.Get(ctx, enc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Revision != enc.Revision || got.Vitals == nil || got.Vitals.Pulse != "88" || !got.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected reloaded encounter %+v", got)
	}
	board, err := svc.Queues.NurseBoard(ctx)
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	if len(board.WaitingForConsult) != 1 {
		t.Fatalf("expected reloaded encounter on the board, got %+v", board)
	}
}

func TestCodecStripsKindAndCarriesRevision(t *testing.T) {
	p := domain.Patient{ID: "p1", Revision: "1-aa", Name: "Kofi", Age: 7, Sex: domain.SexMale, RegisteredAt: time.Unix(100, 0).UTC()}
	doc, err := patientDocument(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if doc.Revision != "1-aa" || doc.Kind != domain.KindPatient || !doc.SortKey.Equal(p.RegisteredAt) {
		t.Fatalf("unexpected envelope %+v", doc)
	}
	if string(doc.Body) == "" || containsKey(doc.Body, "kind") || containsKey(doc.Body, "_rev") {
		t.Fatalf("body must not carry storage fields: %s", doc.Body)
	}
	back, err := decodePatient(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.ID != p.ID || back.Revision != p.Revision || back.Name != p.Name || back.Age != p.Age || back.Sex != p.Sex || !back.RegisteredAt.Equal(p.RegisteredAt) {
		t.Fatalf("round trip mismatch %+v vs %+v", back, p)
	}
	if _, err := decodeEncounter(doc); err == nil {
		t.Fatalf("expected kind mismatch to fail")
	}
}

func containsKey(body []byte, key string) bool {
	return strings.Contains(string(body), `"`+key+`"`)
}
