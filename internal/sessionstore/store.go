// Package sessionstore maps the session record onto the fixed secure-store slots.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/shopease/sessionkeeper/internal/errs"
	"github.com/shopease/sessionkeeper/internal/guard"
	"github.com/shopease/sessionkeeper/internal/model"
	"github.com/shopease/sessionkeeper/internal/securestore"
)

// Slot keys.
const (
	AccessTokenKey  = "secure_access_token"
	RefreshTokenKey = "secure_refresh_token"
	UserDataKey     = "secure_user_data"
	BiometricKey    = "biometric_enabled"
	SaltKey         = guard.SaltKey
)

// SavePrompt is shown by platforms that confirm presence when the access slot is written.
const SavePrompt = "Authenticate to save your login"

// Challenger runs a single user-presence challenge.
type Challenger interface {
	Challenge(ctx context.Context) bool
}

// storedCredentials is the persisted form of the access slot. The refresh token lives in its own slot.
type storedCredentials struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	IssuedAt    int64  `json:"issuedAt"`
	ExpiresAt   int64  `json:"expiresAt"`
}

// Store is the session view over a securestore.Store.
type Store struct {
	kv    securestore.Store
	guard *guard.Guard
	gate  Challenger
	log   *zap.Logger
	now   func() time.Time
}

// New constructs a Store. gate is consulted on access-slot reads while the biometric flag is set.
func New(kv securestore.Store, gate Challenger, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{kv: kv, guard: guard.New(kv, log), gate: gate, log: log, now: time.Now}
}

// Guard exposes the credential guard bound to this store.
func (s *Store) Guard() *guard.Guard { return s.guard }

// StoreTokens persists creds. The access slot and the refresh slot are two independent writes.
func (s *Store) StoreTokens(ctx context.Context, creds model.Credentials) error {
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidCredentials, err)
	}
	tokenType := creds.TokenType
	if tokenType == "" {
		tokenType = model.TokenTypeBearer
	}
	payload, err := json.Marshal(storedCredentials{
		AccessToken: creds.AccessToken,
		TokenType:   tokenType,
		IssuedAt:    creds.IssuedAt.UnixMilli(),
		ExpiresAt:   creds.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return err
	}
	sealed := s.guard.Seal(ctx, AccessTokenKey, payload)
	if err := s.kv.Set(ctx, AccessTokenKey, sealed, securestore.RequireAuth(SavePrompt)); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if err := s.kv.Set(ctx, RefreshTokenKey, []byte(creds.RefreshToken)); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

// GetTokens reads the credentials record, challenging the user first when the biometric flag is set.
func (s *Store) GetTokens(ctx context.Context) (model.Credentials, error) {
	gated, err := s.IsBiometricEnabled(ctx)
	if err != nil {
		return model.Credentials{}, err
	}
	if gated && !s.gate.Challenge(ctx) {
		return model.Credentials{}, errs.ErrBiometricRejected
	}

	raw, err := s.kv.Get(ctx, AccessTokenKey)
	if err != nil {
		return model.Credentials{}, fmt.Errorf("read access token: %w", err)
	}
	payload, err := s.guard.Open(ctx, AccessTokenKey, raw)
	if err != nil {
		return model.Credentials{}, err
	}
	var sc storedCredentials
	if err := json.Unmarshal(payload, &sc); err != nil {
		return model.Credentials{}, fmt.Errorf("%w: access token record: %v", errs.ErrCorrupted, err)
	}

	refresh, err := s.RefreshToken(ctx)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Credentials{}, err
	}
	return model.Credentials{
		AccessToken:  sc.AccessToken,
		RefreshToken: refresh,
		TokenType:    sc.TokenType,
		IssuedAt:     time.UnixMilli(sc.IssuedAt),
		ExpiresAt:    time.UnixMilli(sc.ExpiresAt),
	}, nil
}

// IsTokenValid reports whether a fresh access token is stored. Any failure is false.
func (s *Store) IsTokenValid(ctx context.Context) bool {
	creds, err := s.GetTokens(ctx)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			s.log.Debug("token validity check failed", zap.Error(err))
		}
		return false
	}
	return creds.Valid(s.now())
}

// RefreshToken returns the raw refresh token without a challenge.
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	raw, err := s.kv.Get(ctx, RefreshTokenKey)
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}
	if len(raw) == 0 {
		return "", errs.ErrNotFound
	}
	return string(raw), nil
}

// StoreUserData persists the profile, sealed and ungated.
func (s *Store) StoreUserData(ctx context.Context, p model.Profile) error {
	if p.ID == "" {
		return errors.New("profile without id")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, UserDataKey, s.guard.Seal(ctx, UserDataKey, payload)); err != nil {
		return fmt.Errorf("store user data: %w", err)
	}
	return nil
}

// GetUserData returns the stored profile or errs.ErrNotFound.
func (s *Store) GetUserData(ctx context.Context) (model.Profile, error) {
	raw, err := s.kv.Get(ctx, UserDataKey)
	if err != nil {
		return model.Profile{}, fmt.Errorf("read user data: %w", err)
	}
	payload, err := s.guard.Open(ctx, UserDataKey, raw)
	if err != nil {
		return model.Profile{}, err
	}
	var p model.Profile
	if err := json.Unmarshal(payload, &p); err != nil {
		return model.Profile{}, fmt.Errorf("%w: user data: %v", errs.ErrCorrupted, err)
	}
	return p, nil
}

// SetBiometricEnabled persists the user's biometric preference.
func (s *Store) SetBiometricEnabled(ctx context.Context, enabled bool) error {
	v := "false"
	if enabled {
		v = "true"
	}
	if err := s.kv.Set(ctx, BiometricKey, []byte(v)); err != nil {
		return fmt.Errorf("store biometric flag: %w", err)
	}
	return nil
}

// IsBiometricEnabled reports the persisted preference. A missing slot is false.
func (s *Store) IsBiometricEnabled(ctx context.Context) (bool, error) {
	raw, err := s.kv.Get(ctx, BiometricKey)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read biometric flag: %w", err)
	}
	return string(raw) == "true", nil
}

// AuthHeaders returns request headers for the stored access token.
func (s *Store) AuthHeaders(ctx context.Context) (map[string]string, error) {
	creds, err := s.GetTokens(ctx)
	if err != nil {
		return nil, err
	}
	if !creds.Valid(s.now()) {
		return nil, errs.ErrTokenExpired
	}
	if !validTokenFormat(creds.AccessToken) {
		return nil, errs.ErrMalformedToken
	}
	return map[string]string{
		"Authorization": creds.TokenType + " " + creds.AccessToken,
		"Content-Type":  "application/json",
	}, nil
}

// validTokenFormat checks the three-segment JWT shape.
func validTokenFormat(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

// Logout deletes every session slot concurrently. All deletes are attempted;
// the combined error is informational. The guard cache is always dropped.
func (s *Store) Logout(ctx context.Context) error {
	defer s.guard.Forget()
	return s.deleteAll(ctx, AccessTokenKey, RefreshTokenKey, UserDataKey, BiometricKey, SaltKey)
}

// DiscardSession removes whatever a partially persisted login left behind.
func (s *Store) DiscardSession(ctx context.Context) error {
	return s.deleteAll(ctx, AccessTokenKey, RefreshTokenKey, UserDataKey)
}

func (s *Store) deleteAll(ctx context.Context, keys ...string) error {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		err error
	)
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			if derr := s.kv.Delete(ctx, key); derr != nil {
				mu.Lock()
				err = multierr.Append(err, fmt.Errorf("delete %s: %w", key, derr))
				mu.Unlock()
			}
		}(key)
	}
	wg.Wait()
	return err
}
