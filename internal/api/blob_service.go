package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "confsync.v1.BlobService"

// Full method names.
const (
	FetchMethod   = "/" + ServiceName + "/Fetch"
	PushMethod    = "/" + ServiceName + "/Push"
	CompactMethod = "/" + ServiceName + "/Compact"
	RemoveMethod  = "/" + ServiceName + "/Remove"
	HealthMethod  = "/" + ServiceName + "/Health"
)

// DeviceMetadataKey carries the calling device id in gRPC metadata.
const DeviceMetadataKey = "device"

type FetchRequest struct {
	Namespace int16  `cbor:"1,keyasint"`
	Owner     string `cbor:"2,keyasint"`
}

type FetchResponse struct {
	Blobs [][]byte `cbor:"1,keyasint"`
}

type PushRequest struct {
	Namespace int16  `cbor:"1,keyasint"`
	Owner     string `cbor:"2,keyasint"`
	Blob      []byte `cbor:"3,keyasint"`
}

type PushResponse struct {
	ID string `cbor:"1,keyasint"`
}

// CompactRequest replaces the pair's oldest Replaced blobs with Blob.
type CompactRequest struct {
	Namespace int16  `cbor:"1,keyasint"`
	Owner     string `cbor:"2,keyasint"`
	Blob      []byte `cbor:"3,keyasint"`
	Replaced  int    `cbor:"4,keyasint"`
}

type CompactResponse struct {
	ID string `cbor:"1,keyasint"`
}

type RemoveRequest struct {
	Namespace int16  `cbor:"1,keyasint"`
	Owner     string `cbor:"2,keyasint"`
}

type RemoveResponse struct {
	Removed int `cbor:"1,keyasint"`
}

type HealthRequest struct{}

type HealthResponse struct {
	Status string `cbor:"1,keyasint"`
}

// BlobServiceServer is the server API for BlobService.
type BlobServiceServer interface {
	Fetch(context.Context, *FetchRequest) (*FetchResponse, error)
	Push(context.Context, *PushRequest) (*PushResponse, error)
	Compact(context.Context, *CompactRequest) (*CompactResponse, error)
	Remove(context.Context, *RemoveRequest) (*RemoveResponse, error)
	Health(context.Context, *HealthRequest) (*HealthResponse, error)
}

// UnimplementedBlobServiceServer returns Unimplemented for every method.
type UnimplementedBlobServiceServer struct{}

func (UnimplementedBlobServiceServer) Fetch(context.Context, *FetchRequest) (*FetchResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Fetch not implemented")
}

func (UnimplementedBlobServiceServer) Push(context.Context, *PushRequest) (*PushResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Push not implemented")
}

func (UnimplementedBlobServiceServer) Compact(context.Context, *CompactRequest) (*CompactResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Compact not implemented")
}

func (UnimplementedBlobServiceServer) Remove(context.Context, *RemoveRequest) (*RemoveResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Remove not implemented")
}

func (UnimplementedBlobServiceServer) Health(context.Context, *HealthRequest) (*HealthResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Health not implemented")
}

// RegisterBlobServiceServer registers srv on s.
func RegisterBlobServiceServer(s grpc.ServiceRegistrar, srv BlobServiceServer) {
	s.RegisterService(&BlobServiceDesc, srv)
}

// unaryHandler adapts a typed method to grpc's handler signature.
func unaryHandler[Req any, Resp any](
	method string,
	call func(BlobServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BlobServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BlobServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// BlobServiceDesc is the grpc.ServiceDesc for BlobService.
var BlobServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BlobServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Fetch", Handler: unaryHandler(FetchMethod, BlobServiceServer.Fetch)},
		{MethodName: "Push", Handler: unaryHandler(PushMethod, BlobServiceServer.Push)},
		{MethodName: "Compact", Handler: unaryHandler(CompactMethod, BlobServiceServer.Compact)},
		{MethodName: "Remove", Handler: unaryHandler(RemoveMethod, BlobServiceServer.Remove)},
		{MethodName: "Health", Handler: unaryHandler(HealthMethod, BlobServiceServer.Health)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "confsync/v1/blobs.proto",
}

// BlobServiceClient is the client API for BlobService.
type BlobServiceClient interface {
	Fetch(ctx context.Context, in *FetchRequest, opts ...grpc.CallOption) (*FetchResponse, error)
	Push(ctx context.Context, in *PushRequest, opts ...grpc.CallOption) (*PushResponse, error)
	Compact(ctx context.Context, in *CompactRequest, opts ...grpc.CallOption) (*CompactResponse, error)
	Remove(ctx context.Context, in *RemoveRequest, opts ...grpc.CallOption) (*RemoveResponse, error)
	Health(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error)
}

type blobServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewBlobServiceClient returns a client that calls cc with the CBOR codec.
func NewBlobServiceClient(cc grpc.ClientConnInterface) BlobServiceClient {
	return &blobServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *blobServiceClient) Fetch(ctx context.Context, in *FetchRequest, opts ...grpc.CallOption) (*FetchResponse, error) {
	return invoke[FetchResponse](ctx, c.cc, FetchMethod, in, opts)
}

func (c *blobServiceClient) Push(ctx context.Context, in *PushRequest, opts ...grpc.CallOption) (*PushResponse, error) {
	return invoke[PushResponse](ctx, c.cc, PushMethod, in, opts)
}

func (c *blobServiceClient) Compact(ctx context.Context, in *CompactRequest, opts ...grpc.CallOption) (*CompactResponse, error) {
	return invoke[CompactResponse](ctx, c.cc, CompactMethod, in, opts)
}

func (c *blobServiceClient) Remove(ctx context.Context, in *RemoveRequest, opts ...grpc.CallOption) (*RemoveResponse, error) {
	return invoke[RemoveResponse](ctx, c.cc, RemoveMethod, in, opts)
}

func (c *blobServiceClient) Health(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error) {
	return invoke[HealthResponse](ctx, c.cc, HealthMethod, in, opts)
}
