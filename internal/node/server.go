package node

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"swimd/internal/gossip"
)

// AdminServiceName is the fully qualified gRPC service name.
const AdminServiceName = "swim.v1.Admin"

// AdminServer is the operator-facing service of a node.
type AdminServer interface {
	// Members returns {"self": member, "active": [...], "confirmed": [...]}.
	Members(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Join takes {"uri": "ip:port"} and pings that seed.
	Join(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// Server implements AdminServer over the protocol state.
type Server struct {
	state *gossip.State
	log   *zap.Logger
}

var _ AdminServer = (*Server)(nil)

// NewServer creates a new admin server instance.
func NewServer(state *gossip.State, log *zap.Logger) *Server {
	return &Server{state: state, log: log}
}

// Members handles Members requests.
func (s *Server) Members(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return snapshotToProto(s.state.Snapshot()), nil
}

// Join handles Join requests.
func (s *Server) Join(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	uri := req.GetFields()["uri"].GetStringValue()
	if uri == "" {
		return nil, status.Error(codes.InvalidArgument, "uri cannot be empty")
	}
	s.log.Info("admin join", zap.String("uri", uri))

	err := s.state.Join(uri)
	switch {
	case err == nil:
		return &emptypb.Empty{}, nil
	case errors.Is(err, gossip.ErrCapacityExceeded):
		return nil, status.Error(codes.ResourceExhausted, err.Error())
	default:
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
}

// RegisterAdminServer registers srv on s.
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&adminServiceDesc, srv)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Members", Handler: membersHandler},
		{MethodName: "Join", Handler: joinHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func membersHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).Members(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AdminServiceName + "/Members"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).Members(ctx, req.(*emptypb.Empty))
	})
}

func joinHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).Join(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + AdminServiceName + "/Join"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).Join(ctx, req.(*structpb.Struct))
	})
}
