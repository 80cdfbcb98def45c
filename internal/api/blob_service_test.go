package api

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	if c == nil {
		t.Fatal("cbor codec not registered")
	}
	data, err := c.Marshal(&CompactRequest{Namespace: 2, Owner: "alice", Blob: []byte{1, 2}, Replaced: 5})
	if err != nil {
		t.Fatal(err)
	}
	var got CompactRequest
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Owner != "alice" || got.Replaced != 5 || len(got.Blob) != 2 {
		t.Fatalf("got %+v", got)
	}
}

// echoServer answers Push with the owner as the id and leaves the rest
// unimplemented.
type echoServer struct {
	UnimplementedBlobServiceServer
}

func (echoServer) Push(_ context.Context, req *PushRequest) (*PushResponse, error) {
	return &PushResponse{ID: req.Owner + "/" + string(req.Blob)}, nil
}

func dial(t *testing.T, srv BlobServiceServer, interceptors ...grpc.UnaryServerInterceptor) BlobServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	RegisterBlobServiceServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewBlobServiceClient(conn)
}

func TestBlobService_Dispatch(t *testing.T) {
	var methods []string
	record := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		methods = append(methods, info.FullMethod)
		return handler(ctx, req)
	}
	c := dial(t, echoServer{}, record)
	ctx := context.Background()

	resp, err := c.Push(ctx, &PushRequest{Namespace: 2, Owner: "alice", Blob: []byte("x")})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ID != "alice/x" {
		t.Fatalf("ID = %q", resp.ID)
	}

	_, err = c.Fetch(ctx, &FetchRequest{Namespace: 2, Owner: "alice"})
	if status.Code(err) != codes.Unimplemented {
		t.Fatalf("Fetch: err = %v, want Unimplemented", err)
	}

	if len(methods) != 2 || methods[0] != PushMethod || methods[1] != FetchMethod {
		t.Fatalf("methods = %v", methods)
	}
}
