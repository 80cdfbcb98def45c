// Package wire frames sealed snapshots for storage and transport.
//
// A blob is a protobuf-wire envelope:
//
//	1: format version (varint)
//	2: namespace wire code (zigzag varint)
//	3: compression (varint)
//	4: sealed payload (bytes)
//
// Field 2 is readable without keys so a generic transport can route blobs
// by namespace. Fields 1-3 are bound to the payload as associated data.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/alfredjeanlab/confsync/internal/namespace"
)

// FormatVersion is the envelope version this build writes and accepts.
const FormatVersion = 1

const (
	fieldVersion     protowire.Number = 1
	fieldNamespace   protowire.Number = 2
	fieldCompression protowire.Number = 3
	fieldPayload     protowire.Number = 4
)

// ErrMalformed is wrapped by every envelope parse failure.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the outer frame of a stored blob.
type Envelope struct {
	Version     uint64
	Namespace   int16
	Compression Compression
	Payload     []byte
}

// Sealer encrypts and authenticates payloads. domain separates keys per
// namespace; ad is authenticated but not encrypted.
type Sealer interface {
	Seal(domain string, plaintext, ad []byte) ([]byte, error)
	Open(domain string, ciphertext, ad []byte) ([]byte, error)
}

func (e *Envelope) header() []byte {
	b := protowire.AppendTag(nil, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Version)
	b = protowire.AppendTag(b, fieldNamespace, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(e.Namespace)))
	b = protowire.AppendTag(b, fieldCompression, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Compression))
	return b
}

// Marshal encodes the envelope.
func (e *Envelope) Marshal() []byte {
	b := e.header()
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	return protowire.AppendBytes(b, e.Payload)
}

// Unmarshal parses an envelope. Unknown fields are skipped.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: version: %v", ErrMalformed, protowire.ParseError(n))
			}
			e.Version, data = v, data[n:]
		case num == fieldNamespace && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: namespace: %v", ErrMalformed, protowire.ParseError(n))
			}
			code := protowire.DecodeZigZag(v)
			if code < -1<<15 || code > 1<<15-1 {
				return nil, fmt.Errorf("%w: namespace %d out of range", ErrMalformed, code)
			}
			e.Namespace, data = int16(code), data[n:]
		case num == fieldCompression && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: compression: %v", ErrMalformed, protowire.ParseError(n))
			}
			if v > 0xff {
				return nil, fmt.Errorf("%w: compression %d out of range", ErrMalformed, v)
			}
			e.Compression, data = Compression(v), data[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, protowire.ParseError(n))
			}
			e.Payload, data = v, data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if e.Version == 0 {
		return nil, fmt.Errorf("%w: missing version", ErrMalformed)
	}
	return &e, nil
}

// PeekNamespace reads the namespace of a blob without opening it.
func PeekNamespace(blob []byte) (namespace.Namespace, error) {
	e, err := Unmarshal(blob)
	if err != nil {
		return 0, err
	}
	return namespace.Resolve(e.Namespace)
}

// Pack compresses and seals an encoded snapshot into a blob.
func Pack(ns namespace.Namespace, body []byte, c Compression, s Sealer) ([]byte, error) {
	compressed, used, err := Compress(body, c)
	if err != nil {
		return nil, err
	}
	e := Envelope{Version: FormatVersion, Namespace: ns.WireCode(), Compression: used}
	e.Payload, err = s.Seal(ns.EncryptionDomain(), compressed, e.header())
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return e.Marshal(), nil
}

// Unpack opens a blob and returns its namespace and encoded snapshot. A
// namespace this build does not know wraps namespace.ErrNotFound.
func Unpack(blob []byte, s Sealer) (namespace.Namespace, []byte, error) {
	e, err := Unmarshal(blob)
	if err != nil {
		return 0, nil, err
	}
	if e.Version != FormatVersion {
		return 0, nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, e.Version)
	}
	ns, err := namespace.Resolve(e.Namespace)
	if err != nil {
		return 0, nil, err
	}
	compressed, err := s.Open(ns.EncryptionDomain(), e.Payload, e.header())
	if err != nil {
		return ns, nil, fmt.Errorf("open: %w", err)
	}
	body, err := Decompress(compressed, e.Compression)
	if err != nil {
		return ns, nil, err
	}
	return ns, body, nil
}
