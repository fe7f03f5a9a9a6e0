package kvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.Get(ctx, "nos.poolWizard.state"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty get: %v", err)
	}
	if err := s.Put(ctx, "nos.poolWizard.state", []byte(`{"currentStep":2}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "nos.poolWizard.state", []byte(`{"currentStep":3}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := s.Get(ctx, "nos.poolWizard.state")
	if err != nil || string(got) != `{"currentStep":3}` {
		t.Fatalf("get: %q %v", got, err)
	}
	if err := s.Delete(ctx, "nos.poolWizard.state"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "nos.poolWizard.state"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
	if err := s.Delete(ctx, "never-written"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	exercise(t, NewFile(dir))
	s := NewFile(dir)
	if err := s.Put(context.Background(), "../escape", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "..escape.json")); err != nil {
		t.Fatalf("key should be sanitized into dir: %v", err)
	}
}

func TestMemoryStore(t *testing.T) { exercise(t, NewMemory()) }

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "wizard.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	exercise(t, s)
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, closeFn, err := Open("etcd", t.TempDir()); err == nil || closeFn == nil {
		t.Fatalf("expected error and non-nil close")
	}
	s, closeFn, err := Open(BackendSQLite, t.TempDir())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer closeFn()
	if _, ok := s.(*SQLite); !ok {
		t.Fatalf("want *SQLite, got %T", s)
	}
}
