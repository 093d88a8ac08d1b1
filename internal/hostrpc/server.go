package hostrpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/veiltree/veiltree/pkg/store"
)

// Server serves a BucketStore to remote trusted regions. It never
// inspects blob contents; it only moves ciphertext.
type Server struct {
	backing store.BucketStore
	log     *slog.Logger
}

// NewServer creates a bucket host server over the given backing store.
func NewServer(backing store.BucketStore) *Server {
	return &Server{
		backing: backing,
		log:     slog.Default().With("component", "bucket-host"),
	}
}

// Register attaches the bucket host service to a gRPC server.
func Register(g *grpc.Server, s *Server) {
	g.RegisterService(&serviceDesc, s)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReadBucket", Handler: readBucketHandler},
		{MethodName: "WriteBucket", Handler: writeBucketHandler},
	},
	Metadata: "veiltree/hostrpc",
}

func readBucketHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req []byte
	if err := dec(&req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s := srv.(*Server)
	position, err := decodeReadRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	blob, err := s.backing.ReadBucket(ctx, position)
	if err == store.ErrBucketNotFound {
		return nil, status.Errorf(codes.NotFound, "bucket %d", position)
	}
	if err != nil {
		s.log.Error("read_bucket failed", "position", position, "error", err)
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &blob, nil
}

func writeBucketHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req []byte
	if err := dec(&req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s := srv.(*Server)
	position, blob, err := decodeWriteRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err := s.backing.WriteBucket(ctx, position, blob); err != nil {
		s.log.Error("write_bucket failed", "position", position, "error", err)
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	resp := []byte{}
	return &resp, nil
}
