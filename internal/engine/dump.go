package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/confsync/internal/codec"
	"github.com/alfredjeanlab/confsync/internal/model"
	"github.com/alfredjeanlab/confsync/internal/store"
	"github.com/alfredjeanlab/confsync/internal/tracker"
)

// ErrInvalidDump is returned by Open when a stored dump cannot be read.
var ErrInvalidDump = errors.New("invalid dump")

const dumpVersion = 1

// dumpFile is the persisted state of one slot. In-flight diffs are saved
// as dirty keys, so a restart re-pushes anything not yet confirmed.
type dumpFile struct {
	Version  int           `cbor:"1,keyasint"`
	Snapshot []byte        `cbor:"2,keyasint"`
	Tracker  tracker.Saved `cbor:"3,keyasint"`
}

// restore builds a slot for k from its dump, or an empty one when there
// is no dump.
func (e *Engine) restore(ctx context.Context, k slotKey) (*slot, error) {
	s := &slot{key: k, snap: model.New(k.ns, k.owner), tr: tracker.New()}
	if e.dumps == nil {
		return s, nil
	}
	data, err := e.dumps.LoadDump(ctx, k.ns, k.owner)
	if errors.Is(err, store.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load dump: %w", err)
	}

	var df dumpFile
	if err := codec.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDump, err)
	}
	if df.Version != dumpVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidDump, df.Version)
	}
	snap, err := codec.Decode(df.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDump, err)
	}
	if snap.Namespace != k.ns || snap.Owner != k.owner {
		return nil, fmt.Errorf("%w: holds %s/%s", ErrInvalidDump, snap.Namespace, snap.Owner)
	}
	s.snap = snap
	s.tr = tracker.Restore(df.Tracker)
	s.dumpSum = codec.Hash(data)
	e.logger.Debug("restored config", "namespace", k.ns, "owner", k.owner,
		"fields", snap.Len(), "state", s.tr.State())
	return s, nil
}

// dump persists s if it changed since the last dump. Identical bytes are
// not rewritten.
func (e *Engine) dump(ctx context.Context, s *slot) error {
	if e.dumps == nil {
		return nil
	}
	s.dumpMu.Lock()
	defer s.dumpMu.Unlock()

	s.mu.Lock()
	if s.removed || s.version == s.dumped {
		s.mu.Unlock()
		return nil
	}
	version := s.version
	data, err := encodeDump(s)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	sum := codec.Hash(data)
	s.mu.Lock()
	same := sum == s.dumpSum
	s.mu.Unlock()
	if !same {
		if err := e.dumps.SaveDump(ctx, s.key.ns, s.key.owner, data); err != nil {
			return fmt.Errorf("save dump: %w", err)
		}
	}

	s.mu.Lock()
	if version > s.dumped {
		s.dumped = version
		s.dumpSum = sum
	}
	s.mu.Unlock()
	return nil
}

// encodeDump must be called with s.mu held.
func encodeDump(s *slot) ([]byte, error) {
	snap, err := codec.Encode(s.snap)
	if err != nil {
		return nil, fmt.Errorf("encode dump: %w", err)
	}
	data, err := codec.Marshal(dumpFile{Version: dumpVersion, Snapshot: snap, Tracker: s.tr.Save()})
	if err != nil {
		return nil, fmt.Errorf("encode dump: %w", err)
	}
	return data, nil
}
