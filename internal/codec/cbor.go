// Package codec is the canonical binary form of a config snapshot.
//
// Snapshots are encoded as CBOR using Core Deterministic Encoding (RFC 8949
// section 4.2): map keys sorted, smallest integer forms, no indefinite
// lengths. Fields are emitted sorted by key, so the same logical state
// always yields the same bytes regardless of the order edits were made in.
package codec

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/alfredjeanlab/confsync/internal/model"
	"github.com/alfredjeanlab/confsync/internal/namespace"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Value type tags on the wire. Values are encoded as a two element array
// [tag, content]. Tags this build does not know decode as opaque values.
const (
	tagString uint64 = 1
	tagInt    uint64 = 2
	tagBool   uint64 = 3
	tagBlob   uint64 = 4
	tagRecord uint64 = 5
)

type wireSnapshot struct {
	Namespace int16             `cbor:"1,keyasint"`
	Owner     string            `cbor:"2,keyasint"`
	Vector    map[string]uint64 `cbor:"3,keyasint"`
	Fields    []wireField       `cbor:"4,keyasint"`
}

type wireField struct {
	Key     string          `cbor:"1,keyasint"`
	Deleted bool            `cbor:"2,keyasint,omitempty"`
	Writer  string          `cbor:"3,keyasint"`
	Seq     uint64          `cbor:"4,keyasint"`
	Value   cbor.RawMessage `cbor:"5,keyasint,omitempty"`
}

// DecodeError reports bytes that are not a valid snapshot encoding.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "decode snapshot: " + e.Reason + ": " + e.Err.Error()
	}
	return "decode snapshot: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode returns the canonical encoding of s. Text that is not valid UTF-8
// is refused, since Decode would reject it.
func Encode(s *model.Snapshot) ([]byte, error) {
	if !utf8.ValidString(s.Owner) {
		return nil, errors.New("owner is not valid UTF-8")
	}
	for dev := range s.Vector {
		if !utf8.ValidString(dev) {
			return nil, fmt.Errorf("vector device %q is not valid UTF-8", dev)
		}
	}
	fields := s.Fields()
	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })

	ws := wireSnapshot{
		Namespace: s.Namespace.WireCode(),
		Owner:     s.Owner,
		Vector:    map[string]uint64(s.Vector.Clone()),
		Fields:    make([]wireField, 0, len(fields)),
	}
	for _, f := range fields {
		if !utf8.ValidString(f.Key) || !utf8.ValidString(f.Writer) {
			return nil, fmt.Errorf("field %q: key or writer is not valid UTF-8", f.Key)
		}
		wf := wireField{Key: f.Key, Deleted: f.Deleted, Writer: f.Writer, Seq: f.Seq}
		if !f.Deleted {
			raw, err := encodeValue(f.Value)
			if err != nil {
				return nil, fmt.Errorf("encode field %q: %w", f.Key, err)
			}
			wf.Value = raw
		}
		ws.Fields = append(ws.Fields, wf)
	}
	return encMode.Marshal(ws)
}

func encodeValue(v model.Value) (cbor.RawMessage, error) {
	var content any
	var tag uint64
	switch v.Kind() {
	case model.KindString:
		str := mustString(v)
		if !utf8.ValidString(str) {
			return nil, errors.New("string value is not valid UTF-8")
		}
		tag, content = tagString, str
	case model.KindInt:
		n, _ := v.AsInt()
		tag, content = tagInt, n
	case model.KindBool:
		b, _ := v.AsBool()
		tag, content = tagBool, b
	case model.KindBlob:
		b, _ := v.AsBlob()
		tag, content = tagBlob, b
	case model.KindRecord:
		rec, _ := v.AsRecord()
		enc := make(map[string]cbor.RawMessage, len(rec))
		for k, x := range rec {
			if !utf8.ValidString(k) {
				return nil, fmt.Errorf("record key %q is not valid UTF-8", k)
			}
			raw, err := encodeValue(x)
			if err != nil {
				return nil, fmt.Errorf("record key %q: %w", k, err)
			}
			enc[k] = raw
		}
		tag, content = tagRecord, enc
	case model.KindOpaque:
		_, raw, _ := v.AsOpaque()
		return cbor.RawMessage(raw), nil
	default:
		return nil, fmt.Errorf("cannot encode %s value", v.Kind())
	}
	return encMode.Marshal([]any{tag, content})
}

func mustString(v model.Value) string {
	s, _ := v.AsString()
	return s
}

// Decode parses a canonical snapshot encoding. Value tags this build does
// not know are kept as opaque values carrying their raw bytes.
func Decode(data []byte) (*model.Snapshot, error) {
	var ws wireSnapshot
	if err := decMode.Unmarshal(data, &ws); err != nil {
		return nil, &DecodeError{Reason: "malformed snapshot", Err: err}
	}
	s := model.New(namespace.Namespace(ws.Namespace), ws.Owner)
	seen := make(map[string]bool, len(ws.Fields))
	for _, wf := range ws.Fields {
		if wf.Key == "" {
			return nil, &DecodeError{Reason: "field with empty key"}
		}
		if seen[wf.Key] {
			return nil, &DecodeError{Reason: fmt.Sprintf("duplicate field %q", wf.Key)}
		}
		seen[wf.Key] = true
		if wf.Writer == "" || wf.Seq == 0 {
			return nil, &DecodeError{Reason: fmt.Sprintf("field %q has no write stamp", wf.Key)}
		}
		f := model.Field{Key: wf.Key, Deleted: wf.Deleted, Writer: wf.Writer, Seq: wf.Seq}
		if !wf.Deleted {
			if len(wf.Value) == 0 {
				return nil, &DecodeError{Reason: fmt.Sprintf("field %q has no value", wf.Key)}
			}
			v, err := decodeValue(wf.Value)
			if err != nil {
				return nil, &DecodeError{Reason: fmt.Sprintf("field %q", wf.Key), Err: err}
			}
			f.Value = v
		}
		s.Put(f)
	}
	s.Vector.Merge(model.VersionVector(ws.Vector))
	return s, nil
}

func decodeValue(raw cbor.RawMessage) (model.Value, error) {
	var parts []cbor.RawMessage
	if err := decMode.Unmarshal(raw, &parts); err != nil {
		return model.Value{}, fmt.Errorf("value is not a tagged array: %w", err)
	}
	if len(parts) != 2 {
		return model.Value{}, fmt.Errorf("value array has %d items, want 2", len(parts))
	}
	var tag uint64
	if err := decMode.Unmarshal(parts[0], &tag); err != nil {
		return model.Value{}, fmt.Errorf("value tag: %w", err)
	}
	content := parts[1]
	switch tag {
	case tagString:
		var s string
		if err := decMode.Unmarshal(content, &s); err != nil {
			return model.Value{}, fmt.Errorf("string value: %w", err)
		}
		return model.String(s), nil
	case tagInt:
		var n int64
		if err := decMode.Unmarshal(content, &n); err != nil {
			return model.Value{}, fmt.Errorf("int value: %w", err)
		}
		return model.Int(n), nil
	case tagBool:
		var b bool
		if err := decMode.Unmarshal(content, &b); err != nil {
			return model.Value{}, fmt.Errorf("bool value: %w", err)
		}
		return model.Bool(b), nil
	case tagBlob:
		var b []byte
		if err := decMode.Unmarshal(content, &b); err != nil {
			return model.Value{}, fmt.Errorf("blob value: %w", err)
		}
		return model.Blob(b), nil
	case tagRecord:
		var enc map[string]cbor.RawMessage
		if err := decMode.Unmarshal(content, &enc); err != nil {
			return model.Value{}, fmt.Errorf("record value: %w", err)
		}
		rec := make(map[string]model.Value, len(enc))
		for k, x := range enc {
			v, err := decodeValue(x)
			if err != nil {
				return model.Value{}, fmt.Errorf("record key %q: %w", k, err)
			}
			rec[k] = v
		}
		return model.Record(rec), nil
	default:
		return model.Opaque(tag, raw), nil
	}
}

// Marshal encodes v with the same deterministic options snapshots use.
// The engine stores its dumps this way.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data produced by Marshal into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Hash returns the BLAKE3-256 digest of an encoding. The engine compares
// digests to skip rewriting dumps that have not changed.
func Hash(data []byte) [32]byte {
	return blake3.Sum256(data)
}
