// Package model defines domain entities shared by the session client and the issuer service.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// AccessTokenLifetime is the fixed lifetime of an issued access token.
const AccessTokenLifetime = time.Hour

// TokenTypeBearer is echoed verbatim into Authorization headers.
const TokenTypeBearer = "Bearer"

// Credentials is the single active token record of an installation.
type Credentials struct {
	AccessToken  string
	RefreshToken string    // stored in its own ungated slot
	TokenType    string    // fixed scheme label, "Bearer"
	IssuedAt     time.Time // issuance instant
	ExpiresAt    time.Time // access token expiry
}

// NewCredentials builds a record expiring AccessTokenLifetime after now.
func NewCredentials(access, refresh string, now time.Time) Credentials {
	return Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    TokenTypeBearer,
		IssuedAt:     now,
		ExpiresAt:    now.Add(AccessTokenLifetime),
	}
}

// Validate reports whether the record may be persisted.
func (c Credentials) Validate() error {
	if c.AccessToken == "" {
		return fmt.Errorf("empty access token")
	}
	if c.ExpiresAt.IsZero() {
		return fmt.Errorf("missing expiry")
	}
	if !c.IssuedAt.IsZero() && !c.ExpiresAt.After(c.IssuedAt) {
		return fmt.Errorf("expiry %s not after issuance %s", c.ExpiresAt.Format(time.RFC3339), c.IssuedAt.Format(time.RFC3339))
	}
	return nil
}

// Valid reports whether the access token is still fresh at now.
func (c Credentials) Valid(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}

// Profile is the signed-in user. Either Email or Phone is set depending on the login method.
type Profile struct {
	ID               string `json:"id"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Name             string `json:"name,omitempty"`
	DefaultAddressID string `json:"defaultAddressId,omitempty"` // lookup only
}

// AuthMethod is the closed set of supported login methods.
type AuthMethod string

const (
	MethodPhone  AuthMethod = "phone"
	MethodApple  AuthMethod = "apple"
	MethodGoogle AuthMethod = "google"
)

// ParseAuthMethod validates s against the supported methods.
func ParseAuthMethod(s string) (AuthMethod, error) {
	switch m := AuthMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodPhone, MethodApple, MethodGoogle:
		return m, nil
	default:
		return "", fmt.Errorf("unknown method %q", s)
	}
}

// Valid reports whether m belongs to the supported set.
func (m AuthMethod) Valid() bool {
	_, err := ParseAuthMethod(string(m))
	return err == nil
}

// LoginData carries method-specific login input.
type LoginData struct {
	PhoneNumber string
	Email       string
	Name        string
	IDToken     string // OIDC ID token for apple/google
}

// Account represents an issuer-side account keyed by (Method, Subject).
type Account struct {
	ID        uuid.UUID
	Method    AuthMethod
	Subject   string // phone number or OIDC subject
	Email     string
	Phone     string
	Name      string
	CreatedAt time.Time
}

// Profile projects the account into the client-facing profile.
func (a Account) Profile() Profile {
	return Profile{ID: a.ID.String(), Email: a.Email, Phone: a.Phone, Name: a.Name}
}

// RefreshToken is the issuer-side record of an outstanding refresh token. Only the hash is stored.
type RefreshToken struct {
	TokenHash []byte
	AccountID uuid.UUID
	ExpiresAt time.Time
	RevokedAt *time.Time
}
