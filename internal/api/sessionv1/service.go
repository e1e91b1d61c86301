// Package sessionv1 declares the sessionkeeper.v1.SessionIssuer gRPC service.
//
// The schema lives in proto/sessionkeeper/v1/session.proto. Messages are
// google.protobuf.Struct values; field names are listed below and
// mapped to domain types in internal/convert.
package sessionv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "sessionkeeper.v1.SessionIssuer"

// Full method names.
const (
	MethodIssue   = "/" + ServiceName + "/Issue"
	MethodRefresh = "/" + ServiceName + "/Refresh"
	MethodRevoke  = "/" + ServiceName + "/Revoke"
	MethodProfile = "/" + ServiceName + "/Profile"
)

// Message field names.
const (
	FieldMethod           = "method"
	FieldPhoneNumber      = "phone_number"
	FieldEmail            = "email"
	FieldName             = "name"
	FieldIDToken          = "id_token"
	FieldAccessToken      = "access_token"
	FieldRefreshToken     = "refresh_token"
	FieldTokenType        = "token_type"
	FieldIssuedAt         = "issued_at_ms"
	FieldExpiresAt        = "expires_at_ms"
	FieldProfile          = "profile"
	FieldID               = "id"
	FieldPhone            = "phone"
	FieldDefaultAddressID = "default_address_id"
)

// SessionIssuerServer is the server API.
type SessionIssuerServer interface {
	// Issue logs a user in: {method, phone_number?, email?, name?, id_token?} -> credentials + profile.
	Issue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Refresh rotates a refresh token: {refresh_token} -> credentials.
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Revoke invalidates every refresh token of the owning account: {refresh_token} -> {}.
	Revoke(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Profile returns the caller's profile; requires a bearer access token.
	Profile(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterSessionIssuerServer registers srv on s.
func RegisterSessionIssuerServer(s grpc.ServiceRegistrar, srv SessionIssuerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler(fullMethod string, call func(SessionIssuerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SessionIssuerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SessionIssuerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionIssuerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Issue", Handler: unaryHandler(MethodIssue, SessionIssuerServer.Issue)},
		{MethodName: "Refresh", Handler: unaryHandler(MethodRefresh, SessionIssuerServer.Refresh)},
		{MethodName: "Revoke", Handler: unaryHandler(MethodRevoke, SessionIssuerServer.Revoke)},
		{MethodName: "Profile", Handler: unaryHandler(MethodProfile, SessionIssuerServer.Profile)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sessionkeeper/v1/session.proto",
}

// SessionIssuerClient is the client API.
type SessionIssuerClient interface {
	Issue(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Refresh(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Revoke(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Profile(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type sessionIssuerClient struct {
	cc grpc.ClientConnInterface
}

// NewSessionIssuerClient wraps cc.
func NewSessionIssuerClient(cc grpc.ClientConnInterface) SessionIssuerClient {
	return &sessionIssuerClient{cc: cc}
}

func (c *sessionIssuerClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *sessionIssuerClient) Issue(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodIssue, in, opts)
}

func (c *sessionIssuerClient) Refresh(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRefresh, in, opts)
}

func (c *sessionIssuerClient) Revoke(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRevoke, in, opts)
}

func (c *sessionIssuerClient) Profile(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodProfile, in, opts)
}
