// Package merge reconciles config snapshots without coordination.
//
// Each field resolves independently by last-writer-wins over its write
// stamp (seq, then writer id). Tombstones take part like values. The
// merged version vector is the pointwise max of the inputs. Because the
// winner is the maximum of a total order, Merge is commutative,
// associative, and idempotent.
package merge

import (
	"fmt"
	"sort"

	"github.com/alfredjeanlab/confsync/internal/model"
)

// Result is the outcome of a merge.
type Result struct {
	Snapshot *model.Snapshot
	// Changed lists, sorted, the keys whose visible value differs from
	// the first input.
	Changed []string
	// Conflicts records fields where two inputs carried the same stamp
	// with different content.
	Conflicts []*ConflictResolutionError
}

// ConflictResolutionError describes two writes that claim the same stamp
// but disagree. Only a defective or malicious peer produces one. Merge
// keeps the structurally greater field.
type ConflictResolutionError struct {
	Key     string
	Stamp   model.Stamp
	Kept    model.Field
	Dropped model.Field
}

func (e *ConflictResolutionError) Error() string {
	return fmt.Sprintf("conflicting writes to %q at seq %d by %s: kept %s, dropped %s",
		e.Key, e.Stamp.Seq, e.Stamp.Writer, describe(e.Kept), describe(e.Dropped))
}

func describe(f model.Field) string {
	if f.Deleted {
		return "tombstone"
	}
	return fmt.Sprintf("%s %q", f.Value.Kind(), f.Value.String())
}

// Merge reconciles a and b. The result takes a's namespace and owner;
// callers only merge snapshots of the same pair. Neither input is modified.
func Merge(a, b *model.Snapshot) Result {
	return All(a, b)
}

// All folds every remote into local.
func All(local *model.Snapshot, remotes ...*model.Snapshot) Result {
	out := local.Clone()
	var conflicts []*ConflictResolutionError
	for _, r := range remotes {
		conflicts = append(conflicts, fold(out, r)...)
	}
	return Result{
		Snapshot:  out,
		Changed:   changed(local, out),
		Conflicts: conflicts,
	}
}

func fold(dst, src *model.Snapshot) []*ConflictResolutionError {
	var conflicts []*ConflictResolutionError
	for _, theirs := range src.Fields() {
		ours, ok := dst.Field(theirs.Key)
		if !ok {
			dst.Put(theirs)
			continue
		}
		win, conflict := pick(ours, theirs)
		if conflict != nil {
			conflicts = append(conflicts, conflict)
		}
		if !win.Equal(ours) {
			dst.Put(win)
		}
	}
	dst.Vector.Merge(src.Vector)
	return conflicts
}

// pick returns the winning field of two writes to the same key.
func pick(a, b model.Field) (model.Field, *ConflictResolutionError) {
	switch c := a.Stamp().Compare(b.Stamp()); {
	case c > 0:
		return a, nil
	case c < 0:
		return b, nil
	}
	if a.Equal(b) {
		return a, nil
	}
	win, lose := a, b
	if compareContent(a, b) < 0 {
		win, lose = b, a
	}
	return win, &ConflictResolutionError{Key: a.Key, Stamp: a.Stamp(), Kept: win, Dropped: lose}
}

// compareContent orders same-stamp fields: tombstones below live values,
// then by value.
func compareContent(a, b model.Field) int {
	if a.Deleted != b.Deleted {
		if a.Deleted {
			return -1
		}
		return 1
	}
	return a.Value.Compare(b.Value)
}

func changed(before, after *model.Snapshot) []string {
	var keys []string
	for _, f := range after.Fields() {
		prev, ok := before.Field(f.Key)
		if !ok {
			if f.Live() {
				keys = append(keys, f.Key)
			}
			continue
		}
		if !prev.SameEffect(f) {
			keys = append(keys, f.Key)
		}
	}
	sort.Strings(keys)
	return keys
}
