package store

import (
	"context"
	"time"

	"github.com/alfredjeanlab/confsync/internal/idgen"
	"github.com/alfredjeanlab/confsync/internal/namespace"
)

// Direct adapts a BlobStore to the engine's Adapter interface without a
// network hop. It is used when the engine runs next to the store, and in
// tests.
type Direct struct {
	store  BlobStore
	device string
}

var (
	_ Adapter   = (*Direct)(nil)
	_ Compactor = (*Direct)(nil)
	_ Remover   = (*Direct)(nil)
)

// NewDirect returns an adapter that records device as the writer of the
// blobs it pushes.
func NewDirect(bs BlobStore, device string) *Direct {
	return &Direct{store: bs, device: device}
}

func (d *Direct) Fetch(ctx context.Context, ns namespace.Namespace, owner string) ([][]byte, error) {
	blobs, err := d.store.ListBlobs(ctx, ns, owner)
	if err != nil {
		return nil, Transport("fetch", err)
	}
	if len(blobs) == 0 {
		return nil, ErrNotFound
	}
	out := make([][]byte, len(blobs))
	for i, b := range blobs {
		out[i] = b.Data
	}
	return out, nil
}

func (d *Direct) Push(ctx context.Context, ns namespace.Namespace, owner string, blob []byte) error {
	return Transport("push", d.store.PutBlob(ctx, d.blob(ns, owner, blob)))
}

func (d *Direct) Compact(ctx context.Context, ns namespace.Namespace, owner string, blob []byte, replaced int) error {
	return Transport("compact", d.store.ReplaceBlobs(ctx, d.blob(ns, owner, blob), replaced))
}

func (d *Direct) Remove(ctx context.Context, ns namespace.Namespace, owner string) error {
	_, err := d.store.DeleteBlobs(ctx, ns, owner)
	return Transport("remove", err)
}

func (d *Direct) blob(ns namespace.Namespace, owner string, data []byte) *Blob {
	return &Blob{
		ID:        idgen.BlobID(),
		Namespace: ns,
		Owner:     owner,
		Device:    d.device,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}
