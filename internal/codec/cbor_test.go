package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/confsync/internal/model"
	"github.com/alfredjeanlab/confsync/internal/namespace"
)

func sample(t *testing.T) *model.Snapshot {
	t.Helper()
	s := model.New(namespace.ClosedGroupInfo, "03abcdef")
	mustSet(t, s, "n", model.String("Book club"), "dev-a")
	mustSet(t, s, "E", model.Int(86400), "dev-b")
	mustSet(t, s, "q", model.Blob([]byte{1, 2, 3}), "dev-a")
	mustSet(t, s, "x", model.Record(map[string]model.Value{
		"on":   model.Bool(true),
		"size": model.Int(-4),
	}), "dev-c")
	if _, err := s.Remove("E", "dev-a"); err != nil {
		t.Fatal(err)
	}
	return s
}

func mustSet(t *testing.T, s *model.Snapshot, key string, v model.Value, dev string) {
	t.Helper()
	if _, err := s.Set(key, v, dev); err != nil {
		t.Fatalf("Set(%q): %v", key, err)
	}
}

func TestRoundTrip(t *testing.T) {
	s := sample(t)
	data, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Equal(s) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got.Fields(), s.Fields())
	}
	if got.Namespace != namespace.ClosedGroupInfo || got.Owner != "03abcdef" {
		t.Errorf("header = %v/%s", got.Namespace, got.Owner)
	}
}

func TestEncodingIgnoresInsertionOrder(t *testing.T) {
	fields := []model.Field{
		{Key: "a", Value: model.String("1"), Writer: "d1", Seq: 1},
		{Key: "b", Value: model.Int(2), Writer: "d2", Seq: 2},
		{Key: "c", Deleted: true, Writer: "d1", Seq: 3},
	}
	fwd := model.New(namespace.UserProfile, "o")
	rev := model.New(namespace.UserProfile, "o")
	for i := range fields {
		fwd.Put(fields[i])
		rev.Put(fields[len(fields)-1-i])
	}
	a, err := Encode(fwd)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(rev)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encodings differ for the same logical state")
	}
	if Hash(a) != Hash(b) {
		t.Error("hashes differ for identical encodings")
	}
}

func TestOpaquePreserved(t *testing.T) {
	raw, err := encMode.Marshal([]any{uint64(99), map[string]any{"future": "thing"}})
	if err != nil {
		t.Fatal(err)
	}
	in, err := encMode.Marshal(wireSnapshot{
		Namespace: 2,
		Owner:     "o",
		Vector:    map[string]uint64{"d": 1},
		Fields:    []wireField{{Key: "zz", Writer: "d", Seq: 1, Value: cbor.RawMessage(raw)}},
	})
	if err != nil {
		t.Fatal(err)
	}

	s, err := Decode(in)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	v, ok := s.Get("zz")
	if !ok || v.Kind() != model.KindOpaque {
		t.Fatalf("zz = %v (%s), want opaque", v, v.Kind())
	}
	if tag, _, _ := v.AsOpaque(); tag != 99 {
		t.Errorf("opaque tag = %d", tag)
	}

	out, err := Encode(s)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(in, out) {
		t.Errorf("opaque field not re-encoded byte-identically:\n in %x\nout %x", in, out)
	}
}

func TestDecodeErrors(t *testing.T) {
	enc := func(ws wireSnapshot) []byte {
		b, err := encMode.Marshal(ws)
		if err != nil {
			t.Fatal(err)
		}
		return b
	}
	str, _ := encMode.Marshal([]any{tagString, "x"})
	badInt, _ := encMode.Marshal([]any{tagInt, "not a number"})
	short, _ := encMode.Marshal([]any{tagString})

	for _, tc := range []struct {
		name string
		data []byte
	}{
		{"Garbage", []byte{0xff, 0x00, 0x13}},
		{"Empty", nil},
		{"EmptyKey", enc(wireSnapshot{Fields: []wireField{{Key: "", Writer: "d", Seq: 1, Value: str}}})},
		{"DuplicateKey", enc(wireSnapshot{Fields: []wireField{
			{Key: "k", Writer: "d", Seq: 1, Value: str},
			{Key: "k", Writer: "d", Seq: 2, Value: str},
		}})},
		{"NoStamp", enc(wireSnapshot{Fields: []wireField{{Key: "k", Value: str}}})},
		{"MissingValue", enc(wireSnapshot{Fields: []wireField{{Key: "k", Writer: "d", Seq: 1}}})},
		{"WrongContent", enc(wireSnapshot{Fields: []wireField{{Key: "k", Writer: "d", Seq: 1, Value: badInt}}})},
		{"ShortArray", enc(wireSnapshot{Fields: []wireField{{Key: "k", Writer: "d", Seq: 1, Value: short}}})},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, want *DecodeError", err)
			}
		})
	}
}

func TestTombstoneRoundTrip(t *testing.T) {
	s := model.New(namespace.UserProfile, "o")
	s.Put(model.Field{Key: "n", Deleted: true, Writer: "d", Seq: 5})
	data, err := Encode(s)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	f, ok := got.Field("n")
	if !ok || !f.Deleted || f.Seq != 5 {
		t.Errorf("tombstone = %+v, %v", f, ok)
	}
	if got.Vector.Get("d") != 5 {
		t.Errorf("vector = %v", got.Vector)
	}
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	for _, tc := range []struct {
		name  string
		build func(s *model.Snapshot)
	}{
		{"String", func(s *model.Snapshot) {
			s.Put(model.Field{Key: "n", Value: model.String("caf\xe9"), Writer: "d", Seq: 1})
		}},
		{"RecordKey", func(s *model.Snapshot) {
			s.Put(model.Field{Key: "x", Value: model.Record(map[string]model.Value{"\xff": model.Int(1)}), Writer: "d", Seq: 1})
		}},
		{"NestedString", func(s *model.Snapshot) {
			inner := model.Record(map[string]model.Value{"deep": model.String("\x80")})
			s.Put(model.Field{Key: "x", Value: model.Record(map[string]model.Value{"r": inner}), Writer: "d", Seq: 1})
		}},
		{"FieldKey", func(s *model.Snapshot) {
			s.Put(model.Field{Key: "\xc3", Value: model.Int(1), Writer: "d", Seq: 1})
		}},
		{"Writer", func(s *model.Snapshot) {
			s.Put(model.Field{Key: "n", Deleted: true, Writer: "d\xfe", Seq: 1})
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := model.New(namespace.UserProfile, "o")
			tc.build(s)
			if data, err := Encode(s); err == nil {
				t.Errorf("Encode succeeded with %x; peers could not decode it", data)
			}
		})
	}
}

// randomText returns a short string. Roughly one in five contains raw bytes
// that are not valid UTF-8; valid reports which.
func randomText(r *rand.Rand) (s string, valid bool) {
	runes := []rune{'a', 'z', '0', ' ', 'é', 'ß', '中', '✓', '😀'}
	if r.Intn(5) == 0 {
		b := make([]byte, 1+r.Intn(6))
		r.Read(b)
		return string(b), utf8.Valid(b)
	}
	out := make([]rune, r.Intn(8))
	for i := range out {
		out[i] = runes[r.Intn(len(runes))]
	}
	return string(out), true
}

// randomValue builds a value of any writable kind, records nested up to
// depth levels. valid is false when some string or record key inside it is
// not valid UTF-8.
func randomValue(r *rand.Rand, depth int) (v model.Value, valid bool) {
	kinds := 4
	if depth > 0 {
		kinds = 5
	}
	switch r.Intn(kinds) {
	case 0:
		s, ok := randomText(r)
		return model.String(s), ok
	case 1:
		return model.Int(r.Int63() - r.Int63()), true
	case 2:
		return model.Bool(r.Intn(2) == 0), true
	case 3:
		b := make([]byte, r.Intn(5))
		r.Read(b)
		return model.Blob(b), true
	default:
		valid = true
		rec := make(map[string]model.Value)
		for i := r.Intn(4); i > 0; i-- {
			k, kok := randomText(r)
			if _, dup := rec[k]; dup {
				continue
			}
			x, xok := randomValue(r, depth-1)
			rec[k] = x
			valid = valid && kok && xok
		}
		return model.Record(rec), valid
	}
}

func TestRandomRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	devices := []string{"dev-a", "dev-b", "dev-c"}
	for i := 0; i < 300; i++ {
		s := model.New(namespace.ClosedGroupInfo, "03abcdef")
		for j := r.Intn(10); j > 0; j-- {
			key := fmt.Sprintf("k%d", r.Intn(8))
			dev := devices[r.Intn(len(devices))]
			switch r.Intn(6) {
			case 0:
				_, err := s.Remove(key, dev)
				require.NoError(t, err)
			case 1:
				tag := uint64(100 + r.Intn(50))
				raw, err := encMode.Marshal([]any{tag, key})
				require.NoError(t, err)
				s.Put(model.Field{Key: key, Value: model.Opaque(tag, raw), Writer: dev, Seq: s.NextSeq()})
			default:
				v, valid := randomValue(r, 2)
				_, err := s.Set(key, v, dev)
				if valid {
					require.NoError(t, err, "iteration %d: Set(%q, %v)", i, key, v)
				} else {
					require.ErrorIs(t, err, model.ErrBadValue, "iteration %d: Set(%q, %v)", i, key, v)
				}
			}
		}

		data, err := Encode(s)
		require.NoError(t, err, "iteration %d", i)
		got, err := Decode(data)
		require.NoError(t, err, "iteration %d", i)
		require.True(t, got.Equal(s), "round trip mismatch at iteration %d", i)

		again, err := Encode(got)
		require.NoError(t, err)
		require.Equal(t, data, again, "re-encoding is not byte-identical at iteration %d", i)
	}
}
