package store

import (
	"context"
	"sort"
	"sync"

	"github.com/alfredjeanlab/confsync/internal/namespace"
)

type pairKey struct {
	ns    namespace.Namespace
	owner string
}

// MemoryStore is a BlobStore held in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[pairKey][]*Blob
}

var _ BlobStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[pairKey][]*Blob)}
}

func copyBlob(b *Blob) *Blob {
	c := *b
	c.Data = append([]byte(nil), b.Data...)
	return &c
}

func (m *MemoryStore) PutBlob(_ context.Context, b *Blob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{b.Namespace, b.Owner}
	list := append(m.blobs[k], copyBlob(b))
	sort.SliceStable(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	m.blobs[k] = list
	return nil
}

func (m *MemoryStore) ListBlobs(_ context.Context, ns namespace.Namespace, owner string) ([]*Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.blobs[pairKey{ns, owner}]
	out := make([]*Blob, len(list))
	for i, b := range list {
		out[i] = copyBlob(b)
	}
	return out, nil
}

func (m *MemoryStore) ReplaceBlobs(_ context.Context, b *Blob, replaced int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{b.Namespace, b.Owner}
	list := m.blobs[k]
	replaced = min(max(replaced, 0), len(list))
	list = append(append([]*Blob(nil), list[replaced:]...), copyBlob(b))
	sort.SliceStable(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	m.blobs[k] = list
	return nil
}

func (m *MemoryStore) DeleteBlobs(_ context.Context, ns namespace.Namespace, owner string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{ns, owner}
	n := len(m.blobs[k])
	delete(m.blobs, k)
	return n, nil
}

func (m *MemoryStore) ListAllBlobs(_ context.Context) ([]*Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Blob
	for _, list := range m.blobs {
		for _, b := range list {
			out = append(out, copyBlob(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
