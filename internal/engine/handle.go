package engine

import (
	"context"

	"github.com/alfredjeanlab/confsync/internal/model"
	"github.com/alfredjeanlab/confsync/internal/namespace"
)

// Handle is a reference to one open config. Handles are cheap; every
// handle for a pair shares the same state.
type Handle struct {
	engine *Engine
	slot   *slot
}

// Namespace returns the config's namespace.
func (h *Handle) Namespace() namespace.Namespace { return h.slot.key.ns }

// Owner returns the owning identity or group id.
func (h *Handle) Owner() string { return h.slot.key.owner }

// Read returns the live value of key.
func (h *Handle) Read(key string) (model.Value, bool) {
	s := h.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return model.Value{}, false
	}
	return s.snap.Get(key)
}

// Keys returns the live keys.
func (h *Handle) Keys() []string {
	s := h.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return nil
	}
	return s.snap.Keys()
}

// Snapshot returns a copy of the full state, tombstones included.
func (h *Handle) Snapshot() *model.Snapshot {
	s := h.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return model.New(s.key.ns, s.key.owner)
	}
	return s.snap.Clone()
}

// Write sets key to value and marks it dirty. Known keys must match the
// namespace schema. Writing the value a key already holds is a no-op.
func (h *Handle) Write(key string, value model.Value) error {
	return h.apply(edit{key: key, value: value})
}

// Delete tombstones key and marks it dirty.
func (h *Handle) Delete(key string) error {
	return h.apply(edit{key: key, delete: true})
}

type edit struct {
	key    string
	value  model.Value
	delete bool
}

// apply validates every edit, then applies them all under one lock so a
// reader never sees half of a multi-field update.
func (h *Handle) apply(edits ...edit) error {
	schema := h.slot.key.ns.Schema()
	for _, ed := range edits {
		if !ed.delete {
			if err := model.ValidateField(schema, ed.key, ed.value); err != nil {
				return err
			}
		}
	}

	s := h.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return ErrRemoved
	}
	device := h.engine.device
	for _, ed := range edits {
		var changed bool
		var err error
		if ed.delete {
			changed, err = s.snap.Remove(ed.key, device)
		} else {
			changed, err = s.snap.Set(ed.key, ed.value, device)
		}
		if err != nil {
			return err
		}
		if changed {
			s.tr.MarkDirty(ed.key)
			s.touch()
		}
	}
	return nil
}

// State returns the push state: clean, dirty, or waiting.
func (h *Handle) State() string {
	s := h.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr.State()
}

// NeedsPush reports whether local edits are waiting for a sync.
func (h *Handle) NeedsPush() bool {
	s := h.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr.NeedsPush()
}

// Seqno returns the last issued push sequence number.
func (h *Handle) Seqno() uint64 {
	s := h.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr.Seqno()
}

// NeedsDump reports whether the state changed since it was last dumped.
func (h *Handle) NeedsDump() bool {
	s := h.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.removed && s.version != s.dumped
}

// Dump writes the current state to the engine's dump store. It is a no-op
// without one.
func (h *Handle) Dump(ctx context.Context) error {
	return h.engine.dump(ctx, h.slot)
}

// Sync fetches the pair's blobs, merges them, and pushes local edits.
// Concurrent calls for the same pair share one cycle.
func (h *Handle) Sync(ctx context.Context) (SyncResult, error) {
	v, err, _ := h.engine.flights.Do(h.slot.key.String(), func() (any, error) {
		return h.engine.sync(ctx, h.slot)
	})
	res, _ := v.(SyncResult)
	return res, err
}
