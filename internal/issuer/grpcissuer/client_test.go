package grpcissuer

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	v1 "github.com/shopease/sessionkeeper/internal/api/sessionv1"
	"github.com/shopease/sessionkeeper/internal/convert"
	"github.com/shopease/sessionkeeper/internal/errs"
	"github.com/shopease/sessionkeeper/internal/model"
)

type fakeIssuerServer struct {
	issueErr   error
	refreshErr error
	revoked    []string
	lastAuth   string
	now        time.Time
}

func (f *fakeIssuerServer) Issue(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	m, d, err := convert.FromIssueRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	p := model.Profile{ID: "acc-1", Phone: d.PhoneNumber}
	if m != model.MethodPhone {
		p.Email = "user@" + string(m) + ".com"
	}
	return convert.ToIssueResponse(model.NewCredentials("h.p.s", "rt-1", f.now), p), nil
}

func (f *fakeIssuerServer) Refresh(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	rt, err := convert.FromTokenRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return convert.ToProtoCredentials(model.NewCredentials("h.p2.s", rt+"-next", f.now.Add(time.Hour))), nil
}

func (f *fakeIssuerServer) Revoke(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	rt, _ := convert.FromTokenRequest(in)
	f.revoked = append(f.revoked, rt)
	return &structpb.Struct{}, nil
}

func (f *fakeIssuerServer) Profile(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if v := md.Get("authorization"); len(v) > 0 {
		f.lastAuth = v[0]
	}
	if f.lastAuth != "Bearer h.p.s" {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	return convert.ToProtoProfile(model.Profile{ID: "acc-1", Name: "Jane"}), nil
}

func startFake(t *testing.T, srv v1.SessionIssuerServer) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	v1.RegisterSessionIssuerServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	c := New(cc)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_IssueRefreshRevoke(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	fake := &fakeIssuerServer{now: now}
	c := startFake(t, fake)
	ctx := context.Background()

	creds, p, err := c.Issue(ctx, model.MethodPhone, model.LoginData{PhoneNumber: "+15550001234"})
	require.NoError(t, err)
	require.Equal(t, "h.p.s", creds.AccessToken)
	require.True(t, creds.ExpiresAt.Equal(now.Add(model.AccessTokenLifetime)))
	require.Equal(t, "+15550001234", p.Phone)
	require.Empty(t, p.Email)

	next, err := c.Refresh(ctx, creds.RefreshToken)
	require.NoError(t, err)
	require.True(t, next.ExpiresAt.After(creds.ExpiresAt))
	require.Equal(t, "rt-1-next", next.RefreshToken)

	require.NoError(t, c.Revoke(ctx, next.RefreshToken))
	require.Equal(t, []string{"rt-1-next"}, fake.revoked)
}

func TestClient_Profile_SendsBearer(t *testing.T) {
	fake := &fakeIssuerServer{now: time.Now()}
	c := startFake(t, fake)

	p, err := c.Profile(context.Background(), "h.p.s")
	require.NoError(t, err)
	require.Equal(t, "Jane", p.Name)
	require.Equal(t, "Bearer h.p.s", fake.lastAuth)

	_, err = c.Profile(context.Background(), "other")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestClient_MapsStatusCodes(t *testing.T) {
	fake := &fakeIssuerServer{
		issueErr:   status.Error(codes.ResourceExhausted, "rate limited"),
		refreshErr: status.Error(codes.Unauthenticated, "bad refresh token"),
	}
	c := startFake(t, fake)
	ctx := context.Background()

	_, _, err := c.Issue(ctx, model.MethodGoogle, model.LoginData{})
	require.ErrorIs(t, err, errs.ErrRateLimited)

	_, err = c.Refresh(ctx, "rt")
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	fake.refreshErr = status.Error(codes.Unavailable, "down")
	_, err = c.Refresh(ctx, "rt")
	require.Error(t, err)
	require.False(t, errors.Is(err, errs.ErrUnauthorized))
	require.Equal(t, codes.Unavailable, status.Code(errors.Unwrap(err)))
}

func TestLoadTLS(t *testing.T) {
	creds, err := LoadTLS("", true)
	require.NoError(t, err)
	require.Equal(t, "tls", creds.Info().SecurityProtocol)

	_, err = LoadTLS("/nonexistent/ca.pem", false)
	require.Error(t, err)

	creds, err = LoadTLS("", false)
	require.NoError(t, err)
	require.NotNil(t, creds)
}
