// Package engine keeps the authoritative in-memory state of every config
// a device has opened and syncs it through a store.Adapter.
//
// State lives in an arena of slots, one per (namespace, owner) pair, each
// with its own lock. Reads, edits, and merges on a pair are serialized by
// that lock; adapter I/O happens outside it, so a slow fetch on one pair
// never blocks another.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/alfredjeanlab/confsync/internal/crypt"
	"github.com/alfredjeanlab/confsync/internal/model"
	"github.com/alfredjeanlab/confsync/internal/namespace"
	"github.com/alfredjeanlab/confsync/internal/store"
	"github.com/alfredjeanlab/confsync/internal/tracker"
	"github.com/alfredjeanlab/confsync/internal/wire"
)

var (
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine closed")
	// ErrRemoved is returned by handles whose pair was removed.
	ErrRemoved = errors.New("config removed")
)

// Defaults applied by New.
const (
	DefaultCompactThreshold = 8
	DefaultConcurrency      = 4
)

// Options configures an Engine.
type Options struct {
	// Device is this device's id. It stamps every local write.
	Device string
	// Adapter fetches and pushes blobs.
	Adapter store.Adapter
	// Dumps persists local state between runs. Optional.
	Dumps store.DumpStore
	// Compression is "none", "lz4", or "zstd". Empty means zstd.
	Compression string
	// CompactThreshold is the fetched blob count at which a sync compacts
	// the pair. Zero means DefaultCompactThreshold; negative disables.
	CompactThreshold int
	// Concurrency bounds how many pairs SyncAll syncs at once.
	Concurrency int
	// OnChange is called after a sync that changed visible values.
	OnChange func(SyncResult)
	Logger   *slog.Logger
}

type slotKey struct {
	ns    namespace.Namespace
	owner string
}

func (k slotKey) String() string { return fmt.Sprintf("%d/%s", k.ns.WireCode(), k.owner) }

// slot is the owned state of one pair. Every field is guarded by mu;
// dumpMu orders dump writes so an older state never overwrites a newer one.
type slot struct {
	key slotKey

	dumpMu sync.Mutex

	mu      sync.Mutex
	snap    *model.Snapshot
	tr      *tracker.Tracker
	version uint64 // bumped on every state change
	dumped  uint64 // version last written to the dump store
	dumpSum [32]byte
	removed bool
}

func (s *slot) touch() { s.version++ }

// Engine owns every open config on this device.
type Engine struct {
	device           string
	adapter          store.Adapter
	dumps            store.DumpStore
	compression      wire.Compression
	compactThreshold int
	concurrency      int
	onChange         func(SyncResult)
	logger           *slog.Logger

	flights singleflight.Group

	mu       sync.Mutex
	slots    map[slotKey]*slot
	keyrings map[string]*crypt.Keyring
	closed   bool
}

// New returns an engine for opts.
func New(opts Options) (*Engine, error) {
	if opts.Device == "" {
		return nil, errors.New("engine: device id is required")
	}
	if opts.Adapter == nil {
		return nil, errors.New("engine: adapter is required")
	}
	compression := wire.CompressionZstd
	if opts.Compression != "" {
		c, err := wire.ParseCompression(opts.Compression)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		compression = c
	}
	threshold := opts.CompactThreshold
	if threshold == 0 {
		threshold = DefaultCompactThreshold
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		device:           opts.Device,
		adapter:          opts.Adapter,
		dumps:            opts.Dumps,
		compression:      compression,
		compactThreshold: threshold,
		concurrency:      concurrency,
		onChange:         opts.OnChange,
		logger:           logger,
		slots:            make(map[slotKey]*slot),
		keyrings:         make(map[string]*crypt.Keyring),
	}, nil
}

// Device returns the engine's device id.
func (e *Engine) Device() string { return e.device }

// Keyring returns the keyring used to seal and open owner's blobs,
// creating an empty one on first use. Sync fails with crypt.ErrNoKeys
// until a key is added.
func (e *Engine) Keyring(owner string) *crypt.Keyring {
	e.mu.Lock()
	defer e.mu.Unlock()
	kr, ok := e.keyrings[owner]
	if !ok {
		kr = &crypt.Keyring{}
		e.keyrings[owner] = kr
	}
	return kr
}

// Open returns a handle on the config for (ns, owner), restoring it from
// the dump store the first time it is opened. Every handle for the same
// pair shares one state slot.
func (e *Engine) Open(ctx context.Context, ns namespace.Namespace, owner string) (*Handle, error) {
	if !ns.Known() {
		return nil, fmt.Errorf("open %s: %w", ns, namespace.ErrNotFound)
	}
	if owner == "" {
		return nil, errors.New("open: owner is required")
	}
	k := slotKey{ns: ns, owner: owner}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if s, ok := e.slots[k]; ok {
		e.mu.Unlock()
		return &Handle{engine: e, slot: s}, nil
	}
	e.mu.Unlock()

	s, err := e.restore(ctx, k)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if existing, ok := e.slots[k]; ok {
		// Another Open won the race; its slot is authoritative.
		return &Handle{engine: e, slot: existing}, nil
	}
	e.slots[k] = s
	openSlots.Inc()
	return &Handle{engine: e, slot: s}, nil
}

// Handles returns a handle for every open pair, ordered by namespace then
// owner.
func (e *Engine) Handles() []*Handle {
	e.mu.Lock()
	out := make([]*Handle, 0, len(e.slots))
	for _, s := range e.slots {
		out = append(out, &Handle{engine: e, slot: s})
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].slot.key, out[j].slot.key
		if a.ns != b.ns {
			return a.ns < b.ns
		}
		return a.owner < b.owner
	})
	return out
}

// SyncAll syncs every open pair, at most Concurrency at a time. A failure
// on one pair does not stop the others; every failure is returned joined.
func (e *Engine) SyncAll(ctx context.Context) ([]SyncResult, error) {
	handles := e.Handles()
	results := make([]SyncResult, len(handles))
	errs := make([]error, len(handles))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, h := range handles {
		g.Go(func() error {
			res, err := h.Sync(ctx)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("sync %s/%s: %w", h.Namespace(), h.Owner(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// Remove tears down the pair: its slot, its dump, and, when the adapter
// supports it, its stored blobs. Handles on the pair return ErrRemoved
// afterwards.
func (e *Engine) Remove(ctx context.Context, ns namespace.Namespace, owner string) error {
	k := slotKey{ns: ns, owner: owner}
	e.mu.Lock()
	s, ok := e.slots[k]
	if ok {
		delete(e.slots, k)
		openSlots.Dec()
	}
	e.mu.Unlock()

	if ok {
		// Holding dumpMu keeps an in-progress dump from landing after the
		// delete below.
		s.dumpMu.Lock()
		defer s.dumpMu.Unlock()
		s.mu.Lock()
		s.removed = true
		s.mu.Unlock()
	}
	if e.dumps != nil {
		if err := e.dumps.DeleteDump(ctx, ns, owner); err != nil {
			return fmt.Errorf("delete dump: %w", err)
		}
	}
	if r, ok := e.adapter.(store.Remover); ok {
		if err := r.Remove(ctx, ns, owner); err != nil && !errors.Is(err, store.ErrNotFound) {
			return store.Transport("remove", err)
		}
	}
	e.logger.Info("removed config", "namespace", ns, "owner", owner)
	return nil
}

// Close dumps every pair with unsaved state and rejects further Opens.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	var errs []error
	for _, h := range e.Handles() {
		if !h.NeedsDump() {
			continue
		}
		if err := h.Dump(ctx); err != nil {
			errs = append(errs, fmt.Errorf("dump %s/%s: %w", h.Namespace(), h.Owner(), err))
		}
	}
	return errors.Join(errs...)
}
