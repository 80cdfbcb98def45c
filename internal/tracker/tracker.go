// Package tracker records which fields of a config changed since the last
// confirmed push and hands them out as numbered diffs.
package tracker

import (
	"context"
	"sort"

	"github.com/looplab/fsm"
)

// Push states of a config.
const (
	StateClean   = "clean"
	StateDirty   = "dirty"
	StateWaiting = "waiting"
)

const (
	eventMutate  = "mutate"
	eventExtract = "extract"
	eventConfirm = "confirm"
	eventRequeue = "requeue"
)

// PendingDiff is a set of dirty keys taken for one push, stamped with the
// push sequence number the store confirms against.
type PendingDiff struct {
	Seqno uint64
	Keys  []string
}

// Saved is the persistent part of a tracker. In-flight diffs are not kept
// separately: a restart cannot know whether their push landed, so their
// keys are saved as dirty.
type Saved struct {
	Seqno uint64   `json:"seqno"`
	Dirty []string `json:"dirty,omitempty"`
}

// Tracker is the dirty/push state of one config. It is not safe for
// concurrent use.
type Tracker struct {
	seqno    uint64
	dirty    map[string]struct{}
	inflight []PendingDiff
	machine  *fsm.FSM
}

// New returns a clean tracker.
func New() *Tracker {
	return &Tracker{
		dirty: make(map[string]struct{}),
		machine: fsm.NewFSM(StateClean, fsm.Events{
			{Name: eventMutate, Src: []string{StateClean, StateWaiting}, Dst: StateDirty},
			{Name: eventExtract, Src: []string{StateDirty}, Dst: StateWaiting},
			{Name: eventConfirm, Src: []string{StateWaiting}, Dst: StateClean},
			{Name: eventRequeue, Src: []string{StateClean, StateWaiting}, Dst: StateDirty},
		}, fsm.Callbacks{}),
	}
}

// Restore rebuilds a tracker from saved state.
func Restore(s Saved) *Tracker {
	t := New()
	t.seqno = s.Seqno
	for _, k := range s.Dirty {
		t.dirty[k] = struct{}{}
	}
	if len(t.dirty) > 0 {
		t.machine.SetState(StateDirty)
	}
	return t
}

// Save returns the state to persist.
func (t *Tracker) Save() Saved {
	keys := make(map[string]struct{}, len(t.dirty))
	for k := range t.dirty {
		keys[k] = struct{}{}
	}
	for _, d := range t.inflight {
		for _, k := range d.Keys {
			keys[k] = struct{}{}
		}
	}
	return Saved{Seqno: t.seqno, Dirty: sortedKeys(keys)}
}

func (t *Tracker) fire(event string) {
	if t.machine.Can(event) {
		// Can guarantees a defined transition with distinct states, so
		// Event cannot fail.
		_ = t.machine.Event(context.Background(), event)
	}
}

// MarkDirty records a local change to key.
func (t *Tracker) MarkDirty(key string) {
	t.dirty[key] = struct{}{}
	t.fire(eventMutate)
}

// TakePendingDiff moves the dirty keys into a new in-flight diff. It
// returns false when nothing is dirty.
func (t *Tracker) TakePendingDiff() (PendingDiff, bool) {
	if len(t.dirty) == 0 {
		return PendingDiff{}, false
	}
	t.seqno++
	d := PendingDiff{Seqno: t.seqno, Keys: sortedKeys(t.dirty)}
	t.dirty = make(map[string]struct{})
	t.inflight = append(t.inflight, d)
	t.fire(eventExtract)
	return d, true
}

// ConfirmPushed acknowledges every in-flight diff numbered seqno or lower.
// Keys dirtied after extraction stay dirty. Repeated and out-of-order
// confirmations are harmless. It reports whether any diff was retired.
func (t *Tracker) ConfirmPushed(seqno uint64) bool {
	kept := t.inflight[:0]
	for _, d := range t.inflight {
		if d.Seqno > seqno {
			kept = append(kept, d)
		}
	}
	retired := len(kept) != len(t.inflight)
	t.inflight = kept
	if len(t.inflight) == 0 && len(t.dirty) == 0 {
		t.fire(eventConfirm)
	}
	return retired
}

// Requeue returns a diff whose push failed to the dirty set so the next
// cycle retries it.
func (t *Tracker) Requeue(d PendingDiff) {
	kept := t.inflight[:0]
	for _, x := range t.inflight {
		if x.Seqno != d.Seqno {
			kept = append(kept, x)
		}
	}
	t.inflight = kept
	if len(d.Keys) == 0 {
		return
	}
	for _, k := range d.Keys {
		t.dirty[k] = struct{}{}
	}
	t.fire(eventRequeue)
}

// NeedsPush reports whether there are dirty keys to extract.
func (t *Tracker) NeedsPush() bool { return len(t.dirty) > 0 }

// State returns clean, dirty, or waiting.
func (t *Tracker) State() string { return t.machine.Current() }

// Seqno returns the last issued push sequence number.
func (t *Tracker) Seqno() uint64 { return t.seqno }

// Dirty returns the dirty keys, sorted.
func (t *Tracker) Dirty() []string { return sortedKeys(t.dirty) }

// InFlight returns the diffs awaiting confirmation, oldest first.
func (t *Tracker) InFlight() []PendingDiff {
	return append([]PendingDiff(nil), t.inflight...)
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
