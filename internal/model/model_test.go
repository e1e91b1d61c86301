package model

import (
	"testing"
	"time"
)

func TestCredentials_ValidUntilExactlyExpiresAt(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_700_000_000_000)
	c := NewCredentials("a.b.c", "r", now)

	if !c.ExpiresAt.After(c.IssuedAt) {
		t.Fatalf("expiresAt must be after issuedAt: %v vs %v", c.ExpiresAt, c.IssuedAt)
	}
	if c.ExpiresAt.Sub(now) != AccessTokenLifetime {
		t.Fatalf("lifetime=%v, want %v", c.ExpiresAt.Sub(now), AccessTokenLifetime)
	}
	if c.TokenType != TokenTypeBearer {
		t.Fatalf("token type=%q", c.TokenType)
	}
	if !c.Valid(now) || !c.Valid(c.ExpiresAt.Add(-time.Millisecond)) {
		t.Fatalf("must be valid before expiry")
	}
	if c.Valid(c.ExpiresAt) {
		t.Fatalf("must be invalid at expiry")
	}
	if c.Valid(c.ExpiresAt.Add(time.Second)) {
		t.Fatalf("must be invalid after expiry")
	}
}

func TestCredentials_Validate(t *testing.T) {
	t.Parallel()

	if err := (Credentials{AccessToken: "x"}).Validate(); err == nil {
		t.Fatalf("want error for missing expiry")
	}
	if err := (Credentials{ExpiresAt: time.Now()}).Validate(); err == nil {
		t.Fatalf("want error for empty access token")
	}
	if err := NewCredentials("x", "y", time.Now()).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	now := time.Now()
	for name, exp := range map[string]time.Time{
		"expires before issue": now.Add(-time.Minute),
		"expires at issue":     now,
	} {
		c := Credentials{AccessToken: "a.b.c", IssuedAt: now, ExpiresAt: exp}
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: want error", name)
		}
	}
	if err := (Credentials{AccessToken: "a.b.c", ExpiresAt: now}).Validate(); err != nil {
		t.Fatalf("unknown issuance must not be compared: %v", err)
	}
}

func TestParseAuthMethod(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"phone", "apple", "google", " Google "} {
		if _, err := ParseAuthMethod(in); err != nil {
			t.Fatalf("ParseAuthMethod(%q): %v", in, err)
		}
	}
	for _, in := range []string{"", "email", "facebook"} {
		if _, err := ParseAuthMethod(in); err == nil {
			t.Fatalf("ParseAuthMethod(%q): want error", in)
		}
	}
	if AuthMethod("sms").Valid() {
		t.Fatalf("sms must not be valid")
	}
}

func TestStatus_String(t *testing.T) {
	t.Parallel()

	cases := map[Status]string{
		StatusUnknown:         "unknown",
		StatusChecking:        "checking",
		StatusAuthenticated:   "authenticated",
		StatusUnauthenticated: "unauthenticated",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Fatalf("%d.String()=%q, want %q", s, s.String(), want)
		}
	}
}
