package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method names of the session service.
const (
	ServiceName  = "idcore.session.v1.SessionService"
	MethodVerify = "/" + ServiceName + "/Verify"
	MethodRenew  = "/" + ServiceName + "/Renew"
	MethodWhoAmI = "/" + ServiceName + "/WhoAmI"
)

// SessionServiceServer is the server API for the session service.
// Messages are google.protobuf.Struct so no generated stubs are needed.
type SessionServiceServer interface {
	// Verify checks {token} and returns {account_id, display_name, expires_at}.
	Verify(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Renew reissues the bearer session and returns {token, expires_at}.
	Renew(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// WhoAmI returns {account_id, display_name, created_at, identities} for the bearer session.
	WhoAmI(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// SessionServiceDesc describes the session service for grpc.Server.RegisterService.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Verify", Handler: unaryHandler(MethodVerify, SessionServiceServer.Verify)},
		{MethodName: "Renew", Handler: unaryHandler(MethodRenew, SessionServiceServer.Renew)},
		{MethodName: "WhoAmI", Handler: unaryHandler(MethodWhoAmI, SessionServiceServer.WhoAmI)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "idcore/session/v1/session.proto",
}

// RegisterSessionServiceServer registers srv on s.
func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&SessionServiceDesc, srv)
}

type unaryMethod func(SessionServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if ic == nil {
			return call(srv.(SessionServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		h := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SessionServiceServer), ctx, req.(*structpb.Struct))
		}
		return ic(ctx, in, info, h)
	}
}

// SessionServiceClient is the client API for the session service.
type SessionServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSessionServiceClient wraps cc.
func NewSessionServiceClient(cc grpc.ClientConnInterface) *SessionServiceClient {
	return &SessionServiceClient{cc: cc}
}

func (c *SessionServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify checks a session token.
func (c *SessionServiceClient) Verify(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodVerify, in, opts...)
}

// Renew reissues the session carried in the outgoing authorization metadata.
func (c *SessionServiceClient) Renew(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRenew, in, opts...)
}

// WhoAmI loads the account of the session carried in the outgoing authorization metadata.
func (c *SessionServiceClient) WhoAmI(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodWhoAmI, in, opts...)
}
