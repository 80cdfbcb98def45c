// Package model holds the typed, versioned state of one config namespace
// for one owner.
package model

import (
	"github.com/alfredjeanlab/confsync/internal/namespace"
)

// Snapshot is the full state of one namespace for one owner at a point in
// causal history. Field keys are unique; insertion order is kept for
// iteration but does not affect equality or encoding.
//
// A Snapshot is not safe for concurrent use. The engine serializes access.
type Snapshot struct {
	Namespace namespace.Namespace
	Owner     string
	Vector    VersionVector

	fields map[string]Field
	order  []string
}

// New returns an empty snapshot.
func New(ns namespace.Namespace, owner string) *Snapshot {
	return &Snapshot{
		Namespace: ns,
		Owner:     owner,
		Vector:    VersionVector{},
		fields:    make(map[string]Field),
	}
}

// Get returns the live value of key. Tombstoned and missing keys are absent.
func (s *Snapshot) Get(key string) (Value, bool) {
	f, ok := s.fields[key]
	if !ok || f.Deleted {
		return Value{}, false
	}
	return f.Value.Clone(), true
}

// Field returns the raw field for key, including tombstones.
func (s *Snapshot) Field(key string) (Field, bool) {
	f, ok := s.fields[key]
	if !ok {
		return Field{}, false
	}
	return f.Clone(), true
}

// Fields returns all fields, tombstones included, in insertion order.
func (s *Snapshot) Fields() []Field {
	out := make([]Field, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.fields[k].Clone())
	}
	return out
}

// Keys returns the live keys in insertion order.
func (s *Snapshot) Keys() []string {
	out := make([]string, 0, len(s.order))
	for _, k := range s.order {
		if !s.fields[k].Deleted {
			out = append(out, k)
		}
	}
	return out
}

// Len returns the number of fields, tombstones included.
func (s *Snapshot) Len() int { return len(s.order) }

// NextSeq is the clock value the next local write will carry: one above
// anything this snapshot has observed from any device. Writes made after
// seeing another device's edit therefore out-rank that edit.
func (s *Snapshot) NextSeq() uint64 {
	next := s.Vector.Max()
	for _, f := range s.fields {
		if f.Seq > next {
			next = f.Seq
		}
	}
	return next + 1
}

// Set writes value under key as device. It returns false, and changes
// nothing, when key already holds an equal live value.
func (s *Snapshot) Set(key string, value Value, device string) (bool, error) {
	if err := validateWrite(key, device); err != nil {
		return false, err
	}
	if value.IsZero() {
		return false, &ValidationError{Errors: []FieldError{{Field: key, Message: "value is required"}}}
	}
	if err := validateText(key, value); err != nil {
		return false, err
	}
	if cur, ok := s.fields[key]; ok && !cur.Deleted && cur.Value.Equal(value) {
		return false, nil
	}
	s.stamp(Field{Key: key, Value: value.Clone()}, device)
	return true, nil
}

// Remove tombstones key as device. Removing an absent or already deleted
// key is a no-op and returns false.
func (s *Snapshot) Remove(key, device string) (bool, error) {
	if err := validateWrite(key, device); err != nil {
		return false, err
	}
	cur, ok := s.fields[key]
	if !ok || cur.Deleted {
		return false, nil
	}
	s.stamp(Field{Key: key, Deleted: true}, device)
	return true, nil
}

func (s *Snapshot) stamp(f Field, device string) {
	f.Seq = s.NextSeq()
	f.Writer = device
	s.Vector.Observe(device, f.Seq)
	s.Put(f)
}

// Put stores f as-is, replacing any field with the same key in place. The
// vector observes the field's stamp. Put is used by decoding and merging;
// local edits go through Set and Remove.
func (s *Snapshot) Put(f Field) {
	if _, ok := s.fields[f.Key]; !ok {
		s.order = append(s.order, f.Key)
	}
	if f.Deleted {
		f.Value = Value{}
	}
	s.fields[f.Key] = f
	if f.Writer != "" {
		s.Vector.Observe(f.Writer, f.Seq)
	}
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Namespace: s.Namespace,
		Owner:     s.Owner,
		Vector:    s.Vector.Clone(),
		fields:    make(map[string]Field, len(s.fields)),
		order:     append([]string(nil), s.order...),
	}
	for k, f := range s.fields {
		c.fields[k] = f.Clone()
	}
	return c
}

// Subset returns a snapshot carrying only the named fields (missing keys
// are skipped) and the full version vector. Push diffs are built this way.
func (s *Snapshot) Subset(keys []string) *Snapshot {
	c := New(s.Namespace, s.Owner)
	c.Vector = s.Vector.Clone()
	for _, k := range keys {
		if f, ok := s.fields[k]; ok {
			c.Put(f.Clone())
		}
	}
	return c
}

// Equal compares namespace, owner, version vector, and field set.
// Insertion order is ignored.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s.Namespace != o.Namespace || s.Owner != o.Owner || !s.Vector.Equal(o.Vector) {
		return false
	}
	if len(s.fields) != len(o.fields) {
		return false
	}
	for k, f := range s.fields {
		g, ok := o.fields[k]
		if !ok || !f.Equal(g) {
			return false
		}
	}
	return true
}
