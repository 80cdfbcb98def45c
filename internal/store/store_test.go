package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alfredjeanlab/confsync/internal/namespace"
)

func TestDirectRoundTrip(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()
	d := NewDirect(ms, "dev-a")

	if _, err := d.Fetch(ctx, namespace.UserProfile, "o"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Fetch on empty store = %v, want ErrNotFound", err)
	}
	for _, s := range []string{"one", "two", "three"} {
		if err := d.Push(ctx, namespace.UserProfile, "o", []byte(s)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	got, err := d.Fetch(ctx, namespace.UserProfile, "o")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || string(got[0]) != "one" || string(got[2]) != "three" {
		t.Errorf("Fetch = %q", got)
	}
	if _, err := d.Fetch(ctx, namespace.ClosedGroupInfo, "o"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other namespace should be empty, got %v", err)
	}

	// A blob pushed after the fetch must survive compaction of the
	// three that were seen.
	if err := d.Push(ctx, namespace.UserProfile, "o", []byte("late")); err != nil {
		t.Fatal(err)
	}
	if err := d.Compact(ctx, namespace.UserProfile, "o", []byte("full"), 3); err != nil {
		t.Fatal(err)
	}
	got, _ = d.Fetch(ctx, namespace.UserProfile, "o")
	if len(got) != 2 || string(got[0]) != "late" || string(got[1]) != "full" {
		t.Errorf("after compact = %q", got)
	}

	all, _ := ms.ListAllBlobs(ctx)
	if len(all) != 2 || all[0].Device != "dev-a" || all[0].ID == "" {
		t.Errorf("ListAllBlobs = %+v", all)
	}

	if err := d.Remove(ctx, namespace.UserProfile, "o"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Fetch(ctx, namespace.UserProfile, "o"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after remove err = %v", err)
	}
}

func TestTransport(t *testing.T) {
	if Transport("push", nil) != nil {
		t.Error("nil should stay nil")
	}
	if err := Transport("fetch", ErrNotFound); err != ErrNotFound {
		t.Errorf("ErrNotFound wrapped: %v", err)
	}
	if err := Transport("fetch", context.Canceled); err != context.Canceled {
		t.Errorf("context.Canceled wrapped: %v", err)
	}

	base := fmt.Errorf("dial tcp: connection refused")
	err := Transport("push", base)
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "push" || !errors.Is(err, base) {
		t.Fatalf("Transport = %#v", err)
	}
	if again := Transport("sync", err); again != err {
		t.Error("TransportError should not be double wrapped")
	}
	if err.Error() != "transport push: dial tcp: connection refused" {
		t.Errorf("Error() = %q", err.Error())
	}
}
