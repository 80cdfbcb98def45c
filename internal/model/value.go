package model

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind is the type tag of a Value.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindInt
	KindBool
	KindBlob
	KindRecord
	// KindOpaque holds a value whose wire type this build does not
	// understand. It is carried through merges and re-encoded verbatim.
	KindOpaque
)

// String returns the lower-case kind name used by the CLI and JSON output.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindBlob:
		return "blob"
	case KindRecord:
		return "record"
	case KindOpaque:
		return "opaque"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String for the writable kinds.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "string", "str", "":
		return KindString, nil
	case "int", "integer":
		return KindInt, nil
	case "bool", "boolean":
		return KindBool, nil
	case "blob", "bytes":
		return KindBlob, nil
	default:
		return 0, fmt.Errorf("unknown value kind %q", s)
	}
}

// Value is a tagged union of the types a config field can hold. The zero
// Value is invalid and is only used to mean "no value".
type Value struct {
	kind   Kind
	str    string
	num    int64
	flag   bool
	blob   []byte
	record map[string]Value
	tag    uint64
	raw    []byte
}

func String(s string) Value { return Value{kind: KindString, str: s} }

func Int(n int64) Value { return Value{kind: KindInt, num: n} }

func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// Blob copies b.
func Blob(b []byte) Value {
	return Value{kind: KindBlob, blob: append([]byte{}, b...)}
}

// Record builds a nested record value. The map is copied.
func Record(fields map[string]Value) Value {
	rec := make(map[string]Value, len(fields))
	for k, v := range fields {
		rec[k] = v.Clone()
	}
	return Value{kind: KindRecord, record: rec}
}

// Opaque wraps an unrecognized wire item. tag is the wire type tag and raw
// the encoded item exactly as received.
func Opaque(tag uint64, raw []byte) Value {
	return Value{kind: KindOpaque, tag: tag, raw: append([]byte{}, raw...)}
}

// Kind returns the value's kind, or 0 for the zero Value.
func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether v is the zero (invalid) Value.
func (v Value) IsZero() bool { return v.kind == 0 }

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

func (v Value) AsInt() (int64, bool) { return v.num, v.kind == KindInt }

func (v Value) AsBool() (bool, bool) { return v.flag, v.kind == KindBool }

// AsBlob returns a copy of the blob bytes.
func (v Value) AsBlob() ([]byte, bool) {
	if v.kind != KindBlob {
		return nil, false
	}
	return append([]byte{}, v.blob...), true
}

// AsRecord returns a copy of the nested record.
func (v Value) AsRecord() (map[string]Value, bool) {
	if v.kind != KindRecord {
		return nil, false
	}
	out := make(map[string]Value, len(v.record))
	for k, x := range v.record {
		out[k] = x.Clone()
	}
	return out, true
}

// AsOpaque returns the wire tag and raw bytes of an opaque value. The raw
// slice must not be modified.
func (v Value) AsOpaque() (uint64, []byte, bool) {
	return v.tag, v.raw, v.kind == KindOpaque
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindBlob:
		return Blob(v.blob)
	case KindRecord:
		return Record(v.record)
	case KindOpaque:
		return Opaque(v.tag, v.raw)
	default:
		return v
	}
}

// Equal reports structural equality.
func (v Value) Equal(o Value) bool { return v.Compare(o) == 0 }

// Compare is a total order over values: by kind first, then by content.
// Records compare key by key in sorted key order.
func (v Value) Compare(o Value) int {
	if v.kind != o.kind {
		return cmpInt(int64(v.kind), int64(o.kind))
	}
	switch v.kind {
	case KindString:
		return strings.Compare(v.str, o.str)
	case KindInt:
		return cmpInt(v.num, o.num)
	case KindBool:
		return cmpInt(boolInt(v.flag), boolInt(o.flag))
	case KindBlob:
		return bytes.Compare(v.blob, o.blob)
	case KindRecord:
		return compareRecords(v.record, o.record)
	case KindOpaque:
		if v.tag != o.tag {
			if v.tag < o.tag {
				return -1
			}
			return 1
		}
		return bytes.Compare(v.raw, o.raw)
	}
	return 0
}

func compareRecords(a, b map[string]Value) int {
	ak, bk := sortedKeys(a), sortedKeys(b)
	for i := 0; i < len(ak) && i < len(bk); i++ {
		if c := strings.Compare(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := a[ak[i]].Compare(b[bk[i]]); c != 0 {
			return c
		}
	}
	return cmpInt(int64(len(ak)), int64(len(bk)))
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// String renders the value for humans.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindBlob:
		return hex.EncodeToString(v.blob)
	case KindRecord:
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range sortedKeys(v.record) {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v.record[k].String())
		}
		b.WriteByte('}')
		return b.String()
	case KindOpaque:
		return fmt.Sprintf("opaque(tag=%d, %d bytes)", v.tag, len(v.raw))
	default:
		return "<none>"
	}
}

// ParseValue converts CLI text into a value of the given kind. Blobs are
// hex encoded.
func ParseValue(kind Kind, text string) (Value, error) {
	switch kind {
	case KindString:
		return String(text), nil
	case KindInt:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse int: %w", err)
		}
		return Int(n), nil
	case KindBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, fmt.Errorf("parse bool: %w", err)
		}
		return Bool(b), nil
	case KindBlob:
		b, err := hex.DecodeString(text)
		if err != nil {
			return Value{}, fmt.Errorf("parse blob: %w", err)
		}
		return Blob(b), nil
	default:
		return Value{}, fmt.Errorf("cannot parse %s values", kind)
	}
}

type jsonValue struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// MarshalJSON renders {"type": kind, "value": ...}. Blobs and opaque
// items are hex encoded.
func (v Value) MarshalJSON() ([]byte, error) {
	jv := jsonValue{Type: v.kind.String()}
	switch v.kind {
	case KindString:
		jv.Value = v.str
	case KindInt:
		jv.Value = v.num
	case KindBool:
		jv.Value = v.flag
	case KindBlob:
		jv.Value = hex.EncodeToString(v.blob)
	case KindRecord:
		jv.Value = v.record
	case KindOpaque:
		jv.Value = map[string]any{"tag": v.tag, "raw": hex.EncodeToString(v.raw)}
	default:
		return []byte("null"), nil
	}
	return json.Marshal(jv)
}
