// Package client implements store.Adapter against a confsync blob server,
// over HTTP/JSON or gRPC.
package client

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/confsync/internal/store"
)

// Transports accepted by New.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// BlobClient is what the engine and the CLI use to reach the blob server.
// Every transport supports compaction and removal.
type BlobClient interface {
	store.Adapter
	store.Compactor
	store.Remover

	Health(ctx context.Context) (string, error)
	Close() error
}

var (
	_ BlobClient = (*HTTPClient)(nil)
	_ BlobClient = (*GRPCClient)(nil)
)

// Options configures a client.
type Options struct {
	// Addr is the base URL (http) or host:port (grpc).
	Addr string
	// Token, when set, is sent as a bearer token.
	Token string
	// Device identifies the pushing device to the server's roster.
	Device string
}

// New returns a client for transport.
func New(transport string, opts Options) (BlobClient, error) {
	switch transport {
	case TransportHTTP, "":
		return NewHTTPClient(opts), nil
	case TransportGRPC:
		return NewGRPCClient(opts)
	}
	return nil, fmt.Errorf("unknown transport %q (want %s or %s)", transport, TransportHTTP, TransportGRPC)
}
