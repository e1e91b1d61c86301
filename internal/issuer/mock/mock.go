// Package mock is an in-process issuer with simulated latency, used for demos and tests.
package mock

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/shopease/sessionkeeper/internal/crypto"
	"github.com/shopease/sessionkeeper/internal/errs"
	"github.com/shopease/sessionkeeper/internal/issuer"
	"github.com/shopease/sessionkeeper/internal/model"
)

// DefaultDelay mimics a network round trip.
const DefaultDelay = time.Second

// DefaultName is used when the login input carries no name.
const DefaultName = "John Doe"

// Issuer signs JWT-shaped access tokens with a process-local key.
// Refresh tokens it has rotated out (or revoked) are rejected; others are accepted.
type Issuer struct {
	delay   time.Duration
	signKey []byte
	now     func() time.Time

	mu       sync.Mutex
	consumed map[string]struct{}
	subjects map[string]string // refresh token -> account id
}

var (
	_ issuer.Issuer  = (*Issuer)(nil)
	_ issuer.Revoker = (*Issuer)(nil)
)

// Option customises the mock.
type Option func(*Issuer)

// WithDelay sets the simulated latency. Zero disables it.
func WithDelay(d time.Duration) Option { return func(i *Issuer) { i.delay = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(i *Issuer) { i.now = now } }

// New builds a mock issuer.
func New(opts ...Option) (*Issuer, error) {
	key, err := crypto.RandBytes(32)
	if err != nil {
		return nil, err
	}
	i := &Issuer{
		delay:    DefaultDelay,
		signKey:  key,
		now:      time.Now,
		consumed: map[string]struct{}{},
		subjects: map[string]string{},
	}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

func (i *Issuer) wait(ctx context.Context) error {
	if i.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(i.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (i *Issuer) Issue(ctx context.Context, method model.AuthMethod, data model.LoginData) (model.Credentials, model.Profile, error) {
	if err := i.wait(ctx); err != nil {
		return model.Credentials{}, model.Profile{}, err
	}
	if !method.Valid() {
		return model.Credentials{}, model.Profile{}, fmt.Errorf("%w: %q", errs.ErrUnsupportedMethod, method)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return model.Credentials{}, model.Profile{}, err
	}
	p := model.Profile{ID: "user_" + id.String(), Name: data.Name}
	if p.Name == "" {
		p.Name = DefaultName
	}
	if method == model.MethodPhone {
		if strings.TrimSpace(data.PhoneNumber) == "" {
			return model.Credentials{}, model.Profile{}, fmt.Errorf("phone number required")
		}
		p.Phone = data.PhoneNumber
	} else {
		p.Email = data.Email
		if p.Email == "" {
			p.Email = fmt.Sprintf("user@%s.com", method)
		}
	}

	creds, err := i.mint(p.ID)
	if err != nil {
		return model.Credentials{}, model.Profile{}, err
	}
	return creds, p, nil
}

func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (model.Credentials, error) {
	if err := i.wait(ctx); err != nil {
		return model.Credentials{}, err
	}
	if refreshToken == "" {
		return model.Credentials{}, errs.ErrUnauthorized
	}

	i.mu.Lock()
	if _, used := i.consumed[refreshToken]; used {
		i.mu.Unlock()
		return model.Credentials{}, errs.ErrUnauthorized
	}
	i.consumed[refreshToken] = struct{}{}
	subject := i.subjects[refreshToken]
	delete(i.subjects, refreshToken)
	i.mu.Unlock()

	if subject == "" {
		subject = "user_restored"
	}
	return i.mint(subject)
}

// Revoke marks the token as unusable.
func (i *Issuer) Revoke(ctx context.Context, refreshToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	i.consumed[refreshToken] = struct{}{}
	delete(i.subjects, refreshToken)
	i.mu.Unlock()
	return nil
}

func (i *Issuer) mint(subject string) (model.Credentials, error) {
	now := i.now()
	jti, err := uuid.NewV4()
	if err != nil {
		return model.Credentials{}, err
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        jti.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(model.AccessTokenLifetime)),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signKey)
	if err != nil {
		return model.Credentials{}, err
	}
	raw, err := crypto.RandBytes(32)
	if err != nil {
		return model.Credentials{}, err
	}
	refresh := hex.EncodeToString(raw)

	i.mu.Lock()
	i.subjects[refresh] = subject
	i.mu.Unlock()

	return model.NewCredentials(access, refresh, now), nil
}

// Verify parses an access token minted by this issuer.
func (i *Issuer) Verify(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.signKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	return claims, nil
}
