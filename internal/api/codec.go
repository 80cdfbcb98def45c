// Package api defines the confsync.v1.BlobService RPC contract shared by
// the server and its clients.
//
// Messages are plain Go structs carried by a CBOR codec registered with
// grpc's encoding registry, so no generated code is needed.
package api

import (
	"github.com/alfredjeanlab/confsync/internal/codec"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype clients must request.
const CodecName = "cbor"

func init() {
	encoding.RegisterCodec(cborCodec{})
}

type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error)      { return codec.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v any) error { return codec.Unmarshal(data, v) }
func (cborCodec) Name() string                       { return CodecName }
