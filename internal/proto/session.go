// Package proto declares the sessionkeeper.v1.SessionService contract shared
// by the server and the CLI client. Messages are protobuf well-known types,
// so the service descriptor and client stub are declared by hand.
package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "sessionkeeper.v1.SessionService"

// Full method names, as seen by interceptors.
const (
	MethodRegister       = "/" + ServiceName + "/Register"
	MethodLogin          = "/" + ServiceName + "/Login"
	MethodRefresh        = "/" + ServiceName + "/Refresh"
	MethodLogout         = "/" + ServiceName + "/Logout"
	MethodLogoutAll      = "/" + ServiceName + "/LogoutAll"
	MethodChangePassword = "/" + ServiceName + "/ChangePassword"
	MethodWhoAmI         = "/" + ServiceName + "/WhoAmI"
	MethodSessions       = "/" + ServiceName + "/Sessions"
)

var protectedMethods = map[string]bool{
	MethodLogoutAll:      true,
	MethodChangePassword: true,
	MethodWhoAmI:         true,
	MethodSessions:       true,
}

// RequiresAuth reports whether fullMethod needs a bearer access token.
func RequiresAuth(fullMethod string) bool {
	return protectedMethods[fullMethod]
}

// SessionServiceServer is the server API for SessionService.
type SessionServiceServer interface {
	Register(context.Context, *structpb.Struct) (*wrapperspb.Int64Value, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Logout(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	LogoutAll(context.Context, *emptypb.Empty) (*wrapperspb.Int64Value, error)
	ChangePassword(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	WhoAmI(context.Context, *emptypb.Empty) (*wrapperspb.Int64Value, error)
	Sessions(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

// unary builds a grpc.MethodHandler that decodes Req and dispatches to call,
// going through the interceptor chain when one is installed.
func unary[Req any, Resp any](fullMethod string, call func(SessionServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SessionServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SessionServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SessionService_ServiceDesc is the grpc.ServiceDesc for SessionService.
var SessionService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unary(MethodRegister, SessionServiceServer.Register)},
		{MethodName: "Login", Handler: unary(MethodLogin, SessionServiceServer.Login)},
		{MethodName: "Refresh", Handler: unary(MethodRefresh, SessionServiceServer.Refresh)},
		{MethodName: "Logout", Handler: unary(MethodLogout, SessionServiceServer.Logout)},
		{MethodName: "LogoutAll", Handler: unary(MethodLogoutAll, SessionServiceServer.LogoutAll)},
		{MethodName: "ChangePassword", Handler: unary(MethodChangePassword, SessionServiceServer.ChangePassword)},
		{MethodName: "WhoAmI", Handler: unary(MethodWhoAmI, SessionServiceServer.WhoAmI)},
		{MethodName: "Sessions", Handler: unary(MethodSessions, SessionServiceServer.Sessions)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sessionkeeper/v1/session.proto",
}

func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&SessionService_ServiceDesc, srv)
}

// SessionServiceClient is the client API for SessionService.
type SessionServiceClient interface {
	Register(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error)
	Login(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Refresh(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	Logout(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	LogoutAll(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error)
	ChangePassword(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	WhoAmI(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error)
	Sessions(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
}

type sessionServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSessionServiceClient(cc grpc.ClientConnInterface) SessionServiceClient {
	return &sessionServiceClient{cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sessionServiceClient) Register(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error) {
	return invoke[wrapperspb.Int64Value](ctx, c.cc, MethodRegister, in, opts)
}

func (c *sessionServiceClient) Login(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, MethodLogin, in, opts)
}

func (c *sessionServiceClient) Refresh(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, MethodRefresh, in, opts)
}

func (c *sessionServiceClient) Logout(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, MethodLogout, in, opts)
}

func (c *sessionServiceClient) LogoutAll(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error) {
	return invoke[wrapperspb.Int64Value](ctx, c.cc, MethodLogoutAll, in, opts)
}

func (c *sessionServiceClient) ChangePassword(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, MethodChangePassword, in, opts)
}

func (c *sessionServiceClient) WhoAmI(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error) {
	return invoke[wrapperspb.Int64Value](ctx, c.cc, MethodWhoAmI, in, opts)
}

func (c *sessionServiceClient) Sessions(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, MethodSessions, in, opts)
}
