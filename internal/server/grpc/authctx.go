package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// clockSkew tolerated between the issuer and devices presenting its tokens.
const clockSkew = 30 * time.Second

var (
	errNoBearer   = errors.New("no bearer token")
	errBadToken   = errors.New("invalid or expired token")
	errBadSubject = errors.New("token subject is not an account id")
)

// Principal is the caller proven by a verified access token.
type Principal struct {
	AccountID uuid.UUID
	TokenID   string
	ExpiresAt time.Time
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromCtx returns the principal stored by AuthUnary.
func PrincipalFromCtx(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.AccountID != uuid.Nil
}

// AuthUnary verifies the bearer access token on the listed methods only.
func AuthUnary(signKey []byte, methods ...string) grpc.UnaryServerInterceptor {
	protected := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		protected[m] = struct{}{}
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if _, ok := protected[info.FullMethod]; !ok {
			return next(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		raw, err := bearerToken(md)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "no auth")
		}
		p, err := verifyAccess(raw, signKey)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "no auth")
		}
		return next(WithPrincipal(ctx, p), req)
	}
}

func verifyAccess(raw string, signKey []byte) (Principal, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return signKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", errBadToken, err)
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return Principal{}, errBadSubject
	}
	return Principal{AccountID: id, TokenID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// bearerToken returns the first non-empty bearer credential in md.
func bearerToken(md metadata.MD) (string, error) {
	for _, v := range md.Get("authorization") {
		scheme, tok, ok := strings.Cut(strings.TrimSpace(v), " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			continue
		}
		if tok = strings.TrimSpace(tok); tok != "" {
			return tok, nil
		}
	}
	return "", errNoBearer
}
