package server

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/confsync/internal/api"
	"github.com/alfredjeanlab/confsync/internal/namespace"
)

// NewGRPCServer creates a gRPC server with standard interceptors,
// registers the BlobService and reflection, and returns the server ready
// to serve.
func NewGRPCServer(s *BlobServer, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(s.logger),
			LoggingInterceptor(s.logger),
			AuthInterceptor(authToken),
		),
	)

	api.RegisterBlobServiceServer(srv, &grpcService{s: s})
	reflection.Register(srv)

	return srv
}

// grpcService adapts BlobServer to api.BlobServiceServer.
type grpcService struct {
	api.UnimplementedBlobServiceServer
	s *BlobServer
}

func (g *grpcService) Fetch(ctx context.Context, req *api.FetchRequest) (*api.FetchResponse, error) {
	blobs, err := g.s.fetch(ctx, namespace.Namespace(req.Namespace), req.Owner)
	if err != nil {
		return nil, g.s.statusError("fetch", err)
	}
	return &api.FetchResponse{Blobs: blobs}, nil
}

func (g *grpcService) Push(ctx context.Context, req *api.PushRequest) (*api.PushResponse, error) {
	id, err := g.s.push(ctx, namespace.Namespace(req.Namespace), req.Owner, deviceFromContext(ctx), req.Blob)
	if err != nil {
		return nil, g.s.statusError("push", err)
	}
	return &api.PushResponse{ID: id}, nil
}

func (g *grpcService) Compact(ctx context.Context, req *api.CompactRequest) (*api.CompactResponse, error) {
	id, err := g.s.compact(ctx, namespace.Namespace(req.Namespace), req.Owner, deviceFromContext(ctx), req.Blob, req.Replaced)
	if err != nil {
		return nil, g.s.statusError("compact", err)
	}
	return &api.CompactResponse{ID: id}, nil
}

func (g *grpcService) Remove(ctx context.Context, req *api.RemoveRequest) (*api.RemoveResponse, error) {
	n, err := g.s.remove(ctx, namespace.Namespace(req.Namespace), req.Owner)
	if err != nil {
		return nil, g.s.statusError("remove", err)
	}
	return &api.RemoveResponse{Removed: n}, nil
}

func (g *grpcService) Health(context.Context, *api.HealthRequest) (*api.HealthResponse, error) {
	return &api.HealthResponse{Status: "ok"}, nil
}

func deviceFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(api.DeviceMetadataKey); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// statusError maps an error from the shared operations to a gRPC status.
func (s *BlobServer) statusError(op string, err error) error {
	var ie inputError
	switch {
	case errors.As(err, &ie):
		return status.Error(codes.InvalidArgument, ie.Error())
	case errors.Is(err, namespace.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		s.logger.Error("rpc failed", "op", op, "error", err)
		return status.Errorf(codes.Internal, "%s failed", op)
	}
}
