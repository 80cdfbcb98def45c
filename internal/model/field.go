package model

import "strings"

// Stamp is the logical write time of a field: the writer's clock value at
// the time of the write, and the writer's device id as a tie-break.
type Stamp struct {
	Seq    uint64
	Writer string
}

// Compare orders stamps by Seq, then lexicographically by Writer.
func (s Stamp) Compare(o Stamp) int {
	switch {
	case s.Seq < o.Seq:
		return -1
	case s.Seq > o.Seq:
		return 1
	}
	return strings.Compare(s.Writer, o.Writer)
}

// Field is the atomic unit of merge. A deleted field is a tombstone: it has
// no Value but keeps its stamp so older writes cannot resurrect it.
type Field struct {
	Key     string
	Value   Value
	Deleted bool
	Writer  string
	Seq     uint64
}

// Stamp returns the field's write stamp.
func (f Field) Stamp() Stamp { return Stamp{Seq: f.Seq, Writer: f.Writer} }

// Live reports whether the field holds a value (is not a tombstone).
func (f Field) Live() bool { return !f.Deleted }

// Clone returns a deep copy.
func (f Field) Clone() Field {
	f.Value = f.Value.Clone()
	return f
}

// Equal reports whether two fields are identical, stamp included.
func (f Field) Equal(o Field) bool {
	return f.Key == o.Key &&
		f.Deleted == o.Deleted &&
		f.Stamp() == o.Stamp() &&
		f.Value.Equal(o.Value)
}

// SameEffect reports whether two fields have the same observable effect:
// both absent, or both live with equal values. Stamps are ignored.
func (f Field) SameEffect(o Field) bool {
	if f.Deleted || o.Deleted {
		return f.Deleted == o.Deleted
	}
	return f.Value.Equal(o.Value)
}
