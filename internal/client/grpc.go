package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/confsync/internal/api"
	"github.com/alfredjeanlab/confsync/internal/namespace"
	"github.com/alfredjeanlab/confsync/internal/store"
)

// GRPCClient talks to the blob server's confsync.v1.BlobService.
type GRPCClient struct {
	conn   *grpc.ClientConn
	client api.BlobServiceClient
}

// NewGRPCClient connects to opts.Addr. Extra dial options are appended;
// tests use them to dial an in-memory listener.
func NewGRPCClient(opts Options, dialOpts ...grpc.DialOption) (*GRPCClient, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(metadataInterceptor(opts.Token, opts.Device)),
	}
	conn, err := grpc.NewClient(opts.Addr, append(base, dialOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{
		conn:   conn,
		client: api.NewBlobServiceClient(conn),
	}, nil
}

// metadataInterceptor attaches the bearer token and device id to every
// outgoing call.
func metadataInterceptor(token, device string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if token != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
		}
		if device != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, api.DeviceMetadataKey, device)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) Fetch(ctx context.Context, ns namespace.Namespace, owner string) ([][]byte, error) {
	resp, err := c.client.Fetch(ctx, &api.FetchRequest{Namespace: ns.WireCode(), Owner: owner})
	if err != nil {
		return nil, mapStatus("fetch", err)
	}
	if len(resp.Blobs) == 0 {
		return nil, store.ErrNotFound
	}
	return resp.Blobs, nil
}

func (c *GRPCClient) Push(ctx context.Context, ns namespace.Namespace, owner string, blob []byte) error {
	_, err := c.client.Push(ctx, &api.PushRequest{Namespace: ns.WireCode(), Owner: owner, Blob: blob})
	return mapStatus("push", err)
}

func (c *GRPCClient) Compact(ctx context.Context, ns namespace.Namespace, owner string, blob []byte, replaced int) error {
	_, err := c.client.Compact(ctx, &api.CompactRequest{
		Namespace: ns.WireCode(),
		Owner:     owner,
		Blob:      blob,
		Replaced:  replaced,
	})
	return mapStatus("compact", err)
}

func (c *GRPCClient) Remove(ctx context.Context, ns namespace.Namespace, owner string) error {
	_, err := c.client.Remove(ctx, &api.RemoveRequest{Namespace: ns.WireCode(), Owner: owner})
	return mapStatus("remove", err)
}

func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	resp, err := c.client.Health(ctx, &api.HealthRequest{})
	if err != nil {
		return "", mapStatus("health", err)
	}
	return resp.Status, nil
}

// mapStatus turns retryable gRPC codes into *store.TransportError and
// leaves the rest as status errors.
func mapStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return store.Transport(op, err)
	}
	return err
}
