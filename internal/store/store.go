// Package store defines the blob persistence boundary between the sync
// engine and wherever config blobs live.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/confsync/internal/namespace"
)

// ErrNotFound means the store holds nothing for the requested pair. The
// engine treats it as empty state.
var ErrNotFound = errors.New("not found")

// Adapter is what the engine syncs through. Blobs are opaque to it.
type Adapter interface {
	// Fetch returns every blob stored for the pair, oldest first.
	Fetch(ctx context.Context, ns namespace.Namespace, owner string) ([][]byte, error)
	// Push durably appends one blob for the pair.
	Push(ctx context.Context, ns namespace.Namespace, owner string, blob []byte) error
}

// Compactor is implemented by adapters that can fold a pair's blobs into
// one. Compact deletes the oldest replaced blobs (the ones the caller
// fetched and merged) and stores blob. Blobs pushed after that fetch
// survive.
type Compactor interface {
	Compact(ctx context.Context, ns namespace.Namespace, owner string, blob []byte, replaced int) error
}

// Remover is implemented by adapters that can delete a pair's blobs.
type Remover interface {
	Remove(ctx context.Context, ns namespace.Namespace, owner string) error
}

// TransportError wraps a failure to reach or use the backing store. Sync
// returns it so callers can schedule a retry; local dirty state is kept.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a *TransportError for op. ErrNotFound, context
// cancellation, and existing TransportErrors pass through unchanged.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) || errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// Blob is one stored blob with its server-side metadata.
type Blob struct {
	ID        string              `json:"id"`
	Namespace namespace.Namespace `json:"namespace"`
	Owner     string              `json:"owner"`
	Device    string              `json:"device,omitempty"`
	Data      []byte              `json:"data"`
	CreatedAt time.Time           `json:"created_at"`
}

// BlobStore is the server-side persistence for blobs.
type BlobStore interface {
	// PutBlob appends b. b.ID must be set.
	PutBlob(ctx context.Context, b *Blob) error
	// ListBlobs returns the pair's blobs ordered by ID.
	ListBlobs(ctx context.Context, ns namespace.Namespace, owner string) ([]*Blob, error)
	// ReplaceBlobs deletes the pair's oldest replaced blobs and stores b.
	ReplaceBlobs(ctx context.Context, b *Blob, replaced int) error
	// DeleteBlobs removes the pair's blobs and returns how many there were.
	DeleteBlobs(ctx context.Context, ns namespace.Namespace, owner string) (int, error)
	// ListAllBlobs returns every stored blob, for backups.
	ListAllBlobs(ctx context.Context) ([]*Blob, error)

	Close() error
}

// DumpStore persists an engine's local state between runs, one dump per
// pair. LoadDump returns ErrNotFound when no dump exists.
type DumpStore interface {
	LoadDump(ctx context.Context, ns namespace.Namespace, owner string) ([]byte, error)
	SaveDump(ctx context.Context, ns namespace.Namespace, owner string, data []byte) error
	DeleteDump(ctx context.Context, ns namespace.Namespace, owner string) error
}
