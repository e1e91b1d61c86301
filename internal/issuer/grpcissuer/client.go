// Package grpcissuer implements issuer.Issuer against the sessionkeeper.v1 gRPC service.
package grpcissuer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	v1 "github.com/shopease/sessionkeeper/internal/api/sessionv1"
	"github.com/shopease/sessionkeeper/internal/convert"
	"github.com/shopease/sessionkeeper/internal/errs"
	"github.com/shopease/sessionkeeper/internal/issuer"
	"github.com/shopease/sessionkeeper/internal/model"
)

// Client talks to a remote issuer.
type Client struct {
	cc  *grpc.ClientConn
	api v1.SessionIssuerClient

	// refuse to attach bearer tokens to plaintext connections
	requireTLS bool
}

var (
	_ issuer.Issuer  = (*Client)(nil)
	_ issuer.Revoker = (*Client)(nil)
)

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

// LoadTLS builds transport credentials from a CA file, the system pool, or skip-verify.
func LoadTLS(caPath string, insecure bool) (credentials.TransportCredentials, error) {
	if insecure {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // dev only
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// Dial connects to addr over TLS.
func Dial(addr, caPath string, insecure bool, opts ...grpc.DialOption) (*Client, error) {
	creds, err := LoadTLS(caPath, insecure)
	if err != nil {
		return nil, err
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	c := New(cc)
	c.requireTLS = true
	return c, nil
}

// New wraps an existing connection.
func New(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc, api: v1.NewSessionIssuerClient(cc)}
}

// Close releases the connection.
func (c *Client) Close() error { return c.cc.Close() }

func (c *Client) Issue(ctx context.Context, method model.AuthMethod, data model.LoginData) (model.Credentials, model.Profile, error) {
	out, err := c.api.Issue(ctx, convert.ToIssueRequest(method, data))
	if err != nil {
		return model.Credentials{}, model.Profile{}, mapStatus("issue", err)
	}
	return convert.FromIssueResponse(out)
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (model.Credentials, error) {
	out, err := c.api.Refresh(ctx, convert.ToTokenRequest(refreshToken))
	if err != nil {
		return model.Credentials{}, mapStatus("refresh", err)
	}
	return convert.FromProtoCredentials(out)
}

func (c *Client) Revoke(ctx context.Context, refreshToken string) error {
	if _, err := c.api.Revoke(ctx, convert.ToTokenRequest(refreshToken)); err != nil {
		return mapStatus("revoke", err)
	}
	return nil
}

// Profile fetches the caller's profile with the given access token.
func (c *Client) Profile(ctx context.Context, accessToken string) (model.Profile, error) {
	creds := bearerCreds{token: accessToken, secure: c.requireTLS}
	out, err := c.api.Profile(ctx, &structpb.Struct{}, grpc.PerRPCCredentials(creds))
	if err != nil {
		return model.Profile{}, mapStatus("profile", err)
	}
	return convert.FromProtoProfile(out)
}

// mapStatus turns well-known codes back into sentinels.
func mapStatus(op string, err error) error {
	switch status.Code(err) {
	case codes.Unauthenticated:
		return fmt.Errorf("%s: %w", op, errs.ErrUnauthorized)
	case codes.ResourceExhausted:
		return fmt.Errorf("%s: %w", op, errs.ErrRateLimited)
	case codes.NotFound:
		return fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: invalid argument: %s", op, status.Convert(err).Message())
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
