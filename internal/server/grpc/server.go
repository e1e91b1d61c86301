// Package grpcserver exposes the session issuer gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	v1 "github.com/shopease/sessionkeeper/internal/api/sessionv1"
	"github.com/shopease/sessionkeeper/internal/convert"
	"github.com/shopease/sessionkeeper/internal/errs"
	"github.com/shopease/sessionkeeper/internal/service"
)

// Server wires the session service into gRPC handlers.
type Server struct {
	sessions service.SessionService
	log      *zap.Logger
}

var _ v1.SessionIssuerServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(sessions service.SessionService, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{sessions: sessions, log: log}
}

// remoteIP returns the caller host without the port, so reconnects share limiter state.
func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Issue authenticates a user and returns credentials and profile.
func (s *Server) Issue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	method, data, err := convert.FromIssueRequest(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	creds, prof, err := s.sessions.Issue(ctx, method, data, remoteIP(ctx))
	if err != nil {
		return nil, s.toStatus("issue", err)
	}
	return convert.ToIssueResponse(creds, prof), nil
}

// Refresh rotates a refresh token.
func (s *Server) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rt, err := convert.FromTokenRequest(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	creds, err := s.sessions.Refresh(ctx, rt)
	if err != nil {
		return nil, s.toStatus("refresh", err)
	}
	return convert.ToProtoCredentials(creds), nil
}

// Revoke invalidates the refresh token family.
func (s *Server) Revoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rt, err := convert.FromTokenRequest(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	if err := s.sessions.Revoke(ctx, rt); err != nil {
		return nil, s.toStatus("revoke", err)
	}
	return &structpb.Struct{}, nil
}

// Profile returns the profile of the bearer. AuthUnary must run first.
func (s *Server) Profile(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	p, ok := PrincipalFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	prof, err := s.sessions.Profile(ctx, p.AccountID)
	if err != nil {
		return nil, s.toStatus("profile", err)
	}
	return convert.ToProtoProfile(prof), nil
}

func (s *Server) toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrInvalidInput), errors.Is(err, errs.ErrUnsupportedMethod):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, op)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, op)
	}
	s.log.Error(op+" failed", zap.Error(err))
	return status.Errorf(codes.Internal, "%s: internal error", op)
}
