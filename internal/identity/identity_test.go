package identity

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/shopease/sessionkeeper/internal/errs"
)

const (
	testIssuer   = "https://accounts.example.test"
	testClientID = "shopease-ios"
)

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func newTestVerifier(t *testing.T) (*OIDC, *rsa.PrivateKey, time.Time) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa: %v", err)
	}
	now := time.Now().Truncate(time.Second)
	ks := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	return NewStatic(testIssuer, testClientID, ks, func() time.Time { return now }), key, now
}

func TestOIDC_Verify_OK(t *testing.T) {
	t.Parallel()
	v, key, now := newTestVerifier(t)

	raw := signIDToken(t, key, jwt.MapClaims{
		"iss":            testIssuer,
		"aud":            testClientID,
		"sub":            "001234.abcd",
		"email":          "jane@privaterelay.appleid.com",
		"email_verified": "true",
		"iat":            now.Unix(),
		"exp":            now.Add(10 * time.Minute).Unix(),
	})

	c, err := v.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.Subject != "001234.abcd" || c.Email != "jane@privaterelay.appleid.com" || !c.EmailVerified {
		t.Fatalf("claims: %+v", c)
	}
}

func TestOIDC_Verify_Rejects(t *testing.T) {
	t.Parallel()
	v, key, now := newTestVerifier(t)
	other, _ := rsa.GenerateKey(rand.Reader, 2048)

	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"iss": testIssuer, "aud": testClientID, "sub": "s",
			"iat": now.Unix(), "exp": now.Add(time.Minute).Unix(),
		}
	}
	wrongAud := base()
	wrongAud["aud"] = "someone-else"
	wrongIss := base()
	wrongIss["iss"] = "https://evil.test"
	expired := base()
	expired["exp"] = now.Add(-time.Minute).Unix()

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not-a-jwt",
		"wrong audience": signIDToken(t, key, wrongAud),
		"wrong issuer":   signIDToken(t, key, wrongIss),
		"expired":        signIDToken(t, key, expired),
		"foreign key":    signIDToken(t, other, base()),
	}
	for name, raw := range cases {
		if _, err := v.Verify(context.Background(), raw); !errors.Is(err, errs.ErrUnauthorized) {
			t.Fatalf("%s: want ErrUnauthorized, got %v", name, err)
		}
	}
}

func TestTruthy(t *testing.T) {
	t.Parallel()
	if !truthy(true) || !truthy("true") || truthy("false") || truthy(nil) || truthy(1) {
		t.Fatalf("truthy mismatch")
	}
}
