package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/alfredjeanlab/confsync/internal/namespace"
	"github.com/alfredjeanlab/confsync/internal/store"
)

func openTest(t *testing.T, cfg Config) *DumpStore {
	t.Helper()
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDumpLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, InMemoryConfig())

	if _, err := s.LoadDump(ctx, namespace.UserProfile, "o"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LoadDump on empty = %v, want ErrNotFound", err)
	}
	if err := s.SaveDump(ctx, namespace.UserProfile, "o", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDump(ctx, namespace.UserProfile, "o", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadDump(ctx, namespace.UserProfile, "o")
	if err != nil || string(got) != "v2" {
		t.Fatalf("LoadDump = %q, %v", got, err)
	}
	if _, err := s.LoadDump(ctx, namespace.ClosedGroupInfo, "o"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("dumps should be keyed by namespace, got %v", err)
	}

	if err := s.DeleteDump(ctx, namespace.UserProfile, "o"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadDump(ctx, namespace.UserProfile, "o"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("after delete = %v", err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDump(ctx, namespace.ClosedGroupInfo, "g", []byte("state")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2 := openTest(t, DefaultConfig(dir))
	got, err := s2.LoadDump(ctx, namespace.ClosedGroupInfo, "g")
	if err != nil || string(got) != "state" {
		t.Errorf("after reopen = %q, %v", got, err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("expected error without path")
	}
}
