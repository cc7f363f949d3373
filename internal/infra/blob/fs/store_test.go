package fs

import (
	"bytes"
	"clinicflow/internal/blob/core"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/iotest"
)

func newTempStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store, dir
}

func TestStorePutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newTempStore(t)
	info, err := store.Put(ctx, "encounter/e1/1-aa.json", bytes.NewReader([]byte(`{"id":"e1"}`)), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"kind": "encounter"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 11 || len(info.ETag) != 64 || info.LastModified.IsZero() {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "encounter/e1/1-aa.json", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := store.Get(ctx, "encounter/e1/1-aa.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"id":"e1"}` || got.ContentType != "application/json" || got.Metadata["kind"] != "encounter" || got.ETag != info.ETag {
		t.Fatalf("unexpected get %+v %s", got, body)
	}

	if _, err := store.Put(ctx, "patient/p1/1-bb.json", bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	if _, err := store.Put(ctx, "encounter/e10/1-cc.json", bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
		t.Fatalf("put third: %v", err)
	}
	list, err := store.List(ctx, "encounter/e1/")
	if err != nil || len(list) != 1 || list[0].Key != "encounter/e1/1-aa.json" || list[0].Size != 11 {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
	partial, _ := store.List(ctx, "encounter/e1")
	if len(partial) != 2 {
		t.Fatalf("expected a partial segment prefix to match both encounters, got %+v", partial)
	}
	all, _ := store.List(ctx, "")
	if len(all) != 3 || all[0].Key != "encounter/e1/1-aa.json" || all[2].Key != "patient/p1/1-bb.json" {
		t.Fatalf("expected sorted listing without sidecars, got %+v", all)
	}
	if none, err := store.List(ctx, "reports/"); err != nil || len(none) != 0 {
		t.Fatalf("expected empty listing for absent folder, got %+v %v", none, err)
	}

	deleted, err := store.Delete(ctx, "encounter/e1/1-aa.json")
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	if deleted, _ := store.Delete(ctx, "encounter/e1/1-aa.json"); deleted {
		t.Fatalf("second delete should report absence")
	}
	if _, err := store.Head(ctx, "encounter/e1/1-aa.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Put(ctx, "encounter/e1/1-aa.json", bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
		t.Fatalf("deleted key must be writable again: %v", err)
	}
}

func TestStoreRejectsTraversal(t *testing.T) {
	store, _ := newTempStore(t)
	ctx := context.Background()
	for _, key := range []string{"", "  ", ".", "../escape", "/abs", "a/../../b", "a//b", "x.json.info.json"} {
		if _, err := store.Put(ctx, key, bytes.NewReader(nil), core.PutOptions{}); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
	if _, err := store.List(ctx, "../"); err == nil {
		t.Fatalf("expected traversal prefix to be rejected")
	}
}

func TestStoreFailedWriteLeavesNothingBehind(t *testing.T) {
	store, dir := newTempStore(t)
	ctx := context.Background()
	_, err := store.Put(ctx, "reports/r.xlsx", iotest.ErrReader(errors.New("disk unplugged")), core.PutOptions{})
	if err == nil {
		t.Fatalf("expected reader failure to fail the put")
	}
	if _, err := os.Stat(filepath.Join(dir, "reports", "r.xlsx")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial object left behind: %v", err)
	}
	if _, err := store.Put(ctx, "reports/r.xlsx", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("retry after failed write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "reports", "r.xlsx"+sidecarSuffix)); err != nil {
		t.Fatalf("expected sidecar: %v", err)
	}
}

func TestStoreHidesObjectsWithoutSidecar(t *testing.T) {
	store, dir := newTempStore(t)
	if err := os.WriteFile(filepath.Join(dir, "stray.bin"), []byte("x"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Head(ctx, "stray.bin"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected an object without sidecar to be invisible, got %v", err)
	}
	if list, _ := store.List(ctx, ""); len(list) != 0 {
		t.Fatalf("expected empty listing, got %+v", list)
	}
}

func TestStoreDefaultsRoot(t *testing.T) {
	t.Chdir(t.TempDir())
	store, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Put(context.Background(), "a.txt", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join("archive", "a.txt")); err != nil {
		t.Fatalf("expected object under ./archive: %v", err)
	}
}

func TestConcurrentPutsKeepFirstWriter(t *testing.T) {
	store, _ := newTempStore(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Put(ctx, "encounter/e1/2-bb.json", bytes.NewReader([]byte("{}")), core.PutOptions{}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one successful create, got %d", wins)
	}
}

func TestPresignURLUnsupported(t *testing.T) {
	store, _ := newTempStore(t)
	if _, err := store.PresignURL(context.Background(), "k", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if store.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
}
