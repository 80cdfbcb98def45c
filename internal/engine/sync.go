package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/confsync/internal/codec"
	"github.com/alfredjeanlab/confsync/internal/crypt"
	"github.com/alfredjeanlab/confsync/internal/merge"
	"github.com/alfredjeanlab/confsync/internal/model"
	"github.com/alfredjeanlab/confsync/internal/namespace"
	"github.com/alfredjeanlab/confsync/internal/store"
	"github.com/alfredjeanlab/confsync/internal/tracker"
	"github.com/alfredjeanlab/confsync/internal/wire"
)

// SyncResult describes one sync cycle.
type SyncResult struct {
	Namespace namespace.Namespace `json:"namespace"`
	Owner     string              `json:"owner"`
	// Fetched is how many blobs the adapter returned; Parsed of them
	// merged and Skipped were discarded as unreadable.
	Fetched int `json:"fetched"`
	Parsed  int `json:"parsed"`
	Skipped int `json:"skipped"`
	// Changed lists, sorted, the keys whose visible value the merge changed.
	Changed   []string `json:"changed,omitempty"`
	Conflicts int      `json:"conflicts,omitempty"`
	// Pushed is set when local edits were stored; Seqno is their push number.
	Pushed    bool   `json:"pushed"`
	Seqno     uint64 `json:"seqno,omitempty"`
	Compacted bool   `json:"compacted,omitempty"`
}

// outgoing is what a sync sends after merging: a diff, a full snapshot
// for compaction, or nothing.
type outgoing struct {
	diff    tracker.PendingDiff
	hasDiff bool
	blob    []byte
	compact bool
}

func (e *Engine) sync(ctx context.Context, s *slot) (SyncResult, error) {
	k := s.key
	res := SyncResult{Namespace: k.ns, Owner: k.owner}

	kr := e.Keyring(k.owner)
	if kr.Len() == 0 {
		syncsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("sync %s: %w", k.ns, crypt.ErrNoKeys)
	}

	blobs, err := e.adapter.Fetch(ctx, k.ns, k.owner)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		syncsTotal.WithLabelValues("fetch_error").Inc()
		return res, store.Transport("fetch", err)
	}
	res.Fetched = len(blobs)
	remotes := e.decodeAll(k, blobs, kr)
	res.Parsed = len(remotes)
	res.Skipped = len(blobs) - len(remotes)

	out, err := e.mergeAndExtract(s, remotes, &res)
	if err != nil {
		syncsTotal.WithLabelValues("error").Inc()
		return res, err
	}

	if out.blob != nil {
		if err := e.send(ctx, k, out, res.Fetched); err != nil {
			s.mu.Lock()
			if out.hasDiff {
				s.tr.Requeue(out.diff)
				s.touch()
			}
			s.mu.Unlock()
			syncsTotal.WithLabelValues("push_error").Inc()
			e.logger.Warn("push failed, edits kept dirty",
				"namespace", k.ns, "owner", k.owner, "error", err)
			return res, err
		}
		s.mu.Lock()
		if out.hasDiff {
			s.tr.ConfirmPushed(out.diff.Seqno)
			s.touch()
			res.Pushed = true
			res.Seqno = out.diff.Seqno
		}
		s.mu.Unlock()
		res.Compacted = out.compact
	}

	if err := e.dump(ctx, s); err != nil {
		// The merged state is still in memory and the next dump retries.
		e.logger.Warn("failed to dump config", "namespace", k.ns, "owner", k.owner, "error", err)
	}
	syncsTotal.WithLabelValues("ok").Inc()
	if len(res.Changed) > 0 && e.onChange != nil {
		e.onChange(res)
	}
	return res, nil
}

// decodeAll opens and decodes fetched blobs. Unreadable blobs, and blobs
// for another pair, are logged and skipped so one bad peer cannot block
// the rest.
func (e *Engine) decodeAll(k slotKey, blobs [][]byte, kr *crypt.Keyring) []*model.Snapshot {
	out := make([]*model.Snapshot, 0, len(blobs))
	for i, blob := range blobs {
		snap, reason, err := decodeBlob(k, blob, kr)
		if err != nil {
			decodeFailures.WithLabelValues(reason).Inc()
			e.logger.Warn("discarding unreadable blob",
				"namespace", k.ns, "owner", k.owner, "index", i, "reason", reason, "error", err)
			continue
		}
		out = append(out, snap)
	}
	return out
}

func decodeBlob(k slotKey, blob []byte, kr *crypt.Keyring) (*model.Snapshot, string, error) {
	ns, body, err := wire.Unpack(blob, kr)
	switch {
	case errors.Is(err, namespace.ErrNotFound):
		return nil, "namespace", err
	case errors.Is(err, crypt.ErrDecrypt):
		return nil, "decrypt", err
	case errors.Is(err, wire.ErrMalformed):
		return nil, "envelope", err
	case err != nil:
		return nil, "decompress", err
	}
	if ns != k.ns {
		return nil, "namespace", fmt.Errorf("blob is for %s", ns)
	}
	snap, err := codec.Decode(body)
	if err != nil {
		return nil, "decode", err
	}
	if snap.Namespace != k.ns || snap.Owner != k.owner {
		return nil, "owner", fmt.Errorf("snapshot is for %s/%s", snap.Namespace, snap.Owner)
	}
	return snap, "", nil
}

// mergeAndExtract folds remotes into the slot and takes the pending diff,
// all under the slot lock and without I/O.
func (e *Engine) mergeAndExtract(s *slot, remotes []*model.Snapshot, res *SyncResult) (outgoing, error) {
	k := s.key
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return outgoing{}, ErrRemoved
	}

	if len(remotes) > 0 {
		start := time.Now()
		m := merge.All(s.snap, remotes...)
		mergeDuration.Observe(time.Since(start).Seconds())
		for _, c := range m.Conflicts {
			mergeConflicts.Inc()
			e.logger.Error("merge conflict", "namespace", k.ns, "owner", k.owner, "error", c)
		}
		if !m.Snapshot.Equal(s.snap) {
			s.snap = m.Snapshot
			s.touch()
		}
		res.Changed = m.Changed
		res.Conflicts = len(m.Conflicts)
	}

	var out outgoing
	out.diff, out.hasDiff = s.tr.TakePendingDiff()
	if out.hasDiff {
		s.touch()
	}
	// Blobs this device could not read may hold edits other devices can,
	// so a fetch with any of them is never compacted away.
	_, canCompact := e.adapter.(store.Compactor)
	out.compact = canCompact && e.compactThreshold > 0 && res.Fetched >= e.compactThreshold && res.Skipped == 0
	if !out.hasDiff && !out.compact {
		return out, nil
	}

	// A compaction carries the whole snapshot, which includes the diff.
	body := s.snap
	if !out.compact {
		body = s.snap.Subset(out.diff.Keys)
	}
	blob, err := e.pack(body)
	if err != nil {
		if out.hasDiff {
			s.tr.Requeue(out.diff)
		}
		return outgoing{}, err
	}
	out.blob = blob
	return out, nil
}

func (e *Engine) pack(snap *model.Snapshot) ([]byte, error) {
	body, err := codec.Encode(snap)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	blob, err := wire.Pack(snap.Namespace, body, e.compression, e.Keyring(snap.Owner))
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}
	return blob, nil
}

// send stores out.blob, either as a pushed diff or as a compaction that
// replaces the fetched blobs.
func (e *Engine) send(ctx context.Context, k slotKey, out outgoing, fetched int) error {
	if out.compact {
		err := e.adapter.(store.Compactor).Compact(ctx, k.ns, k.owner, out.blob, fetched)
		if err != nil {
			compactionsTotal.WithLabelValues("error").Inc()
			return store.Transport("compact", err)
		}
		compactionsTotal.WithLabelValues("ok").Inc()
		e.logger.Debug("compacted config", "namespace", k.ns, "owner", k.owner, "replaced", fetched)
		return nil
	}
	if err := e.adapter.Push(ctx, k.ns, k.owner, out.blob); err != nil {
		pushesTotal.WithLabelValues("error").Inc()
		return store.Transport("push", err)
	}
	pushesTotal.WithLabelValues("ok").Inc()
	return nil
}
