// Package service contains the issuer's application services.
package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/shopease/sessionkeeper/internal/crypto"
	"github.com/shopease/sessionkeeper/internal/errs"
	"github.com/shopease/sessionkeeper/internal/identity"
	"github.com/shopease/sessionkeeper/internal/limiter"
	"github.com/shopease/sessionkeeper/internal/metrics"
	"github.com/shopease/sessionkeeper/internal/model"
	"github.com/shopease/sessionkeeper/internal/repository"
)

// DefaultRefreshTTL is how long an unused refresh token stays redeemable.
const DefaultRefreshTTL = 30 * 24 * time.Hour

// refreshTokenLen is the number of random bytes behind a refresh token.
const refreshTokenLen = 32

var e164 = regexp.MustCompile(`^\+\d{7,15}$`)

// SessionService issues, rotates and revokes sessions.
type SessionService interface {
	// Issue logs a user in with one of the supported methods. ip is the caller address
	// used for rate limiting.
	Issue(ctx context.Context, method model.AuthMethod, data model.LoginData, ip string) (model.Credentials, model.Profile, error)
	// Refresh consumes a refresh token and returns a rotated pair.
	Refresh(ctx context.Context, refreshToken string) (model.Credentials, error)
	// Revoke invalidates every outstanding refresh token of the token's account.
	Revoke(ctx context.Context, refreshToken string) error
	// Profile returns the account projection for an authenticated caller.
	Profile(ctx context.Context, accountID uuid.UUID) (model.Profile, error)
}

type SessionServiceImpl struct {
	accounts   repository.AccountRepository
	tokens     repository.RefreshTokenRepository
	lim        limiter.Limiter
	verifiers  map[model.AuthMethod]identity.Verifier
	signKey    []byte
	refreshTTL time.Duration
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
}

var _ SessionService = (*SessionServiceImpl)(nil)

// Option configures SessionServiceImpl.
type Option func(*SessionServiceImpl)

// WithVerifier requires a verified ID token for method.
func WithVerifier(method model.AuthMethod, v identity.Verifier) Option {
	return func(s *SessionServiceImpl) { s.verifiers[method] = v }
}

// WithRefreshTTL overrides DefaultRefreshTTL.
func WithRefreshTTL(d time.Duration) Option {
	return func(s *SessionServiceImpl) {
		if d > 0 {
			s.refreshTTL = d
		}
	}
}

// WithMetrics attaches issuer counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *SessionServiceImpl) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SessionServiceImpl) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *SessionServiceImpl) { s.now = now }
}

// NewSessionService constructs SessionService with required dependencies.
func NewSessionService(accounts repository.AccountRepository, tokens repository.RefreshTokenRepository,
	lim limiter.Limiter, signKey []byte, opts ...Option) *SessionServiceImpl {
	s := &SessionServiceImpl{
		accounts:   accounts,
		tokens:     tokens,
		lim:        lim,
		verifiers:  map[model.AuthMethod]identity.Verifier{},
		signKey:    signKey,
		refreshTTL: DefaultRefreshTTL,
		log:        zap.NewNop(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Issue authenticates the caller and opens a new session, rate limited by (method+identifier, ip).
func (s *SessionServiceImpl) Issue(ctx context.Context, method model.AuthMethod, data model.LoginData, ip string) (model.Credentials, model.Profile, error) {
	if !method.Valid() {
		return model.Credentials{}, model.Profile{}, fmt.Errorf("%w: %q", errs.ErrUnsupportedMethod, method)
	}
	if method == model.MethodPhone && !e164.MatchString(data.PhoneNumber) {
		return model.Credentials{}, model.Profile{}, fmt.Errorf("%w: phone number must be E.164", errs.ErrInvalidInput)
	}

	key := limiterKey(method, data)
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, key, ipHash)
	if err != nil {
		return model.Credentials{}, model.Profile{}, err
	}
	if !allowed {
		s.metrics.RateLimited()
		return model.Credentials{}, model.Profile{}, errs.ErrRateLimited
	}

	acc, err := s.resolve(ctx, method, data)
	if err != nil {
		if blocked, _, ferr := s.lim.Failure(ctx, key, ipHash); ferr == nil && blocked {
			s.metrics.RateLimited()
			return model.Credentials{}, model.Profile{}, errs.ErrRateLimited
		}
		return model.Credentials{}, model.Profile{}, err
	}

	// Success: reset counters (best-effort).
	_ = s.lim.Success(ctx, key, ipHash)

	stored, err := s.accounts.GetOrCreate(ctx, acc)
	if err != nil {
		return model.Credentials{}, model.Profile{}, fmt.Errorf("account: %w", err)
	}

	creds, err := s.open(ctx, stored.ID)
	if err != nil {
		return model.Credentials{}, model.Profile{}, err
	}

	s.metrics.Issued(string(method))
	s.log.Info("session issued", zap.String("method", string(method)), zap.Stringer("account", stored.ID))
	return creds, stored.Profile(), nil
}

// resolve turns login input into the account to get-or-create.
func (s *SessionServiceImpl) resolve(ctx context.Context, method model.AuthMethod, data model.LoginData) (*model.Account, error) {
	if method == model.MethodPhone {
		return &model.Account{Method: method, Subject: data.PhoneNumber, Phone: data.PhoneNumber, Name: data.Name}, nil
	}

	v, ok := s.verifiers[method]
	if !ok {
		// No verifier configured: trust the claimed identity.
		email := data.Email
		if email == "" {
			email = "user@" + string(method) + ".com"
		}
		return &model.Account{Method: method, Subject: email, Email: email, Name: data.Name}, nil
	}

	claims, err := v.Verify(ctx, data.IDToken)
	if err != nil {
		s.log.Info("id token rejected", zap.String("method", string(method)), zap.Error(err))
		if errors.Is(err, errs.ErrUnauthorized) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	name := claims.Name
	if name == "" {
		name = data.Name
	}
	email := claims.Email
	if !claims.EmailVerified {
		email = ""
	}
	return &model.Account{Method: method, Subject: claims.Subject, Email: email, Name: name}, nil
}

func limiterKey(method model.AuthMethod, data model.LoginData) string {
	switch {
	case method == model.MethodPhone:
		return string(method) + ":" + data.PhoneNumber
	case data.Email != "":
		return string(method) + ":" + data.Email
	default:
		return string(method)
	}
}

// Refresh consumes refreshToken and opens a new pair for the same account.
func (s *SessionServiceImpl) Refresh(ctx context.Context, refreshToken string) (model.Credentials, error) {
	if refreshToken == "" {
		s.metrics.Refreshed(false)
		return model.Credentials{}, errs.ErrUnauthorized
	}
	old, err := s.tokens.Consume(ctx, pkgcrypto.HashToken(refreshToken), s.now())
	if err != nil {
		s.metrics.Refreshed(false)
		return model.Credentials{}, err
	}
	creds, err := s.open(ctx, old.AccountID)
	if err != nil {
		s.metrics.Refreshed(false)
		return model.Credentials{}, err
	}
	s.metrics.Refreshed(true)
	return creds, nil
}

// Revoke is idempotent: unknown tokens are not an error.
func (s *SessionServiceImpl) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return fmt.Errorf("%w: empty refresh token", errs.ErrInvalidInput)
	}
	acc, n, err := s.tokens.RevokeFamily(ctx, pkgcrypto.HashToken(refreshToken), s.now())
	if err != nil {
		return err
	}
	s.metrics.Revoked(n)
	if acc != uuid.Nil {
		s.log.Info("refresh tokens revoked", zap.Stringer("account", acc), zap.Int64("count", n))
	}
	return nil
}

// Profile loads the caller's account.
func (s *SessionServiceImpl) Profile(ctx context.Context, accountID uuid.UUID) (model.Profile, error) {
	if accountID == uuid.Nil {
		return model.Profile{}, errs.ErrUnauthorized
	}
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return model.Profile{}, err
	}
	return acc.Profile(), nil
}

// open mints an access token and stores a fresh refresh token for accountID.
func (s *SessionServiceImpl) open(ctx context.Context, accountID uuid.UUID) (model.Credentials, error) {
	now := s.now()
	access, exp, err := s.issueAccessToken(accountID, now)
	if err != nil {
		return model.Credentials{}, err
	}
	raw, err := pkgcrypto.RandBytes(refreshTokenLen)
	if err != nil {
		return model.Credentials{}, err
	}
	refresh := hex.EncodeToString(raw)

	rec := &model.RefreshToken{
		TokenHash: pkgcrypto.HashToken(refresh),
		AccountID: accountID,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if err := s.tokens.Create(ctx, rec); err != nil {
		return model.Credentials{}, fmt.Errorf("refresh token: %w", err)
	}

	return model.Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    model.TokenTypeBearer,
		IssuedAt:     now,
		ExpiresAt:    exp,
	}, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *SessionServiceImpl) issueAccessToken(accountID uuid.UUID, now time.Time) (string, time.Time, error) {
	jti, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, err
	}
	exp := now.Add(model.AccessTokenLifetime)
	claims := jwt.RegisteredClaims{
		Subject:   accountID.String(),
		ID:        jti.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}
