// Package identity verifies federated (Apple, Google) ID tokens presented at login.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/shopease/sessionkeeper/internal/errs"
)

// Well-known issuers.
const (
	AppleIssuer  = "https://appleid.apple.com"
	GoogleIssuer = "https://accounts.google.com"
)

// Claims is the subset of ID token claims the issuer keeps.
type Claims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Verifier checks a raw ID token.
type Verifier interface {
	Verify(ctx context.Context, rawIDToken string) (Claims, error)
}

// OIDC verifies tokens of a single provider and audience.
type OIDC struct {
	v *oidc.IDTokenVerifier
}

var _ Verifier = (*OIDC)(nil)

// Discover fetches the provider's discovery document and JWKS.
func Discover(ctx context.Context, issuer, clientID string) (*OIDC, error) {
	if clientID == "" {
		return nil, errors.New("identity: empty client id")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("identity: discover %s: %w", issuer, err)
	}
	return &OIDC{v: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// NewStatic builds a verifier over a fixed key set. now may be nil.
func NewStatic(issuer, clientID string, keys oidc.KeySet, now func() time.Time) *OIDC {
	return &OIDC{v: oidc.NewVerifier(issuer, keys, &oidc.Config{ClientID: clientID, Now: now})}
}

func (o *OIDC) Verify(ctx context.Context, raw string) (Claims, error) {
	if raw == "" {
		return Claims{}, fmt.Errorf("%w: missing id token", errs.ErrUnauthorized)
	}
	tok, err := o.v.Verify(ctx, raw)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	var c struct {
		Email         string `json:"email"`
		EmailVerified any    `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := tok.Claims(&c); err != nil {
		return Claims{}, fmt.Errorf("%w: claims: %v", errs.ErrUnauthorized, err)
	}
	return Claims{
		Subject:       tok.Subject,
		Email:         c.Email,
		EmailVerified: truthy(c.EmailVerified),
		Name:          c.Name,
	}, nil
}

// truthy accepts both JSON booleans and Apple's "true"/"false" strings.
func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x == "true"
	default:
		return false
	}
}
