package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/shopease/sessionkeeper/internal/errs"
	"github.com/shopease/sessionkeeper/internal/model"
	"github.com/shopease/sessionkeeper/internal/securestore"
)

type fakeGate struct {
	mu     sync.Mutex
	result bool
	calls  int
}

func (g *fakeGate) Challenge(context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.result
}

// flakyKV fails the configured operations.
type flakyKV struct {
	*securestore.Memory
	mu        sync.Mutex
	failGet   map[string]error
	failSet   map[string]error
	failAllRm error
	deleted   []string
}

func newFlakyKV() *flakyKV {
	return &flakyKV{Memory: securestore.NewMemory(), failGet: map[string]error{}, failSet: map[string]error{}}
}

func (f *flakyKV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.failGet[key]; err != nil {
		return nil, err
	}
	return f.Memory.Get(ctx, key)
}

func (f *flakyKV) Set(ctx context.Context, key string, v []byte, opts ...securestore.SetOption) error {
	if err := f.failSet[key]; err != nil {
		return err
	}
	return f.Memory.Set(ctx, key, v, opts...)
}

func (f *flakyKV) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, key)
	f.mu.Unlock()
	if f.failAllRm != nil {
		return f.failAllRm
	}
	return f.Memory.Delete(ctx, key)
}

const jwtLike = "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.c2ln"

func newStore(t *testing.T, kv securestore.Store, gate *fakeGate) *Store {
	t.Helper()
	if gate == nil {
		gate = &fakeGate{result: true}
	}
	return New(kv, gate, zaptest.NewLogger(t))
}

func TestStoreTokens_RoundtripAndLayout(t *testing.T) {
	kv := securestore.NewMemory()
	s := newStore(t, kv, nil)
	ctx := context.Background()
	issued := time.UnixMilli(time.Now().UnixMilli())
	creds := model.NewCredentials(jwtLike, "refresh-1", issued)

	require.NoError(t, s.StoreTokens(ctx, creds))

	require.True(t, kv.RequiresAuth(AccessTokenKey))
	require.False(t, kv.RequiresAuth(RefreshTokenKey))
	raw, err := kv.Get(ctx, RefreshTokenKey)
	require.NoError(t, err)
	require.Equal(t, "refresh-1", string(raw))

	sealed, err := kv.Get(ctx, AccessTokenKey)
	require.NoError(t, err)
	require.NotContains(t, string(sealed), jwtLike)
	require.NotContains(t, string(sealed), "refresh-1")

	got, err := s.GetTokens(ctx)
	require.NoError(t, err)
	require.Equal(t, creds.AccessToken, got.AccessToken)
	require.Equal(t, creds.RefreshToken, got.RefreshToken)
	require.Equal(t, model.TokenTypeBearer, got.TokenType)
	require.True(t, creds.ExpiresAt.Equal(got.ExpiresAt))
	require.True(t, creds.IssuedAt.Equal(got.IssuedAt))
	require.True(t, s.IsTokenValid(ctx))
}

func TestStoreTokens_RejectsMissingExpiry(t *testing.T) {
	kv := securestore.NewMemory()
	s := newStore(t, kv, nil)

	err := s.StoreTokens(context.Background(), model.Credentials{AccessToken: jwtLike, RefreshToken: "r"})
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)
	require.Equal(t, 0, kv.Len())
}

func TestStoreTokens_RejectsExpiryNotAfterIssue(t *testing.T) {
	kv := securestore.NewMemory()
	s := newStore(t, kv, nil)
	now := time.Now()

	err := s.StoreTokens(context.Background(), model.Credentials{
		AccessToken:  jwtLike,
		RefreshToken: "r",
		IssuedAt:     now,
		ExpiresAt:    now.Add(-time.Minute),
	})
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)
	require.Equal(t, 0, kv.Len())
}

func TestStoreTokens_RefreshWriteFailureKeepsAccessSlot(t *testing.T) {
	kv := newFlakyKV()
	kv.failSet[RefreshTokenKey] = errors.New("disk full")
	s := newStore(t, kv, nil)
	ctx := context.Background()

	err := s.StoreTokens(ctx, model.NewCredentials(jwtLike, "r", time.Now()))
	require.Error(t, err)
	_, err = kv.Memory.Get(ctx, AccessTokenKey)
	require.NoError(t, err, "writes are independent")
}

func TestGetTokens_Absent(t *testing.T) {
	s := newStore(t, securestore.NewMemory(), nil)

	_, err := s.GetTokens(context.Background())
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.False(t, s.IsTokenValid(context.Background()))
}

func TestGetTokens_BiometricGate(t *testing.T) {
	ctx := context.Background()
	kv := securestore.NewMemory()
	gate := &fakeGate{result: false}
	s := newStore(t, kv, gate)
	require.NoError(t, s.StoreTokens(ctx, model.NewCredentials(jwtLike, "r", time.Now())))

	// flag unset: no challenge
	_, err := s.GetTokens(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, gate.calls)

	require.NoError(t, s.SetBiometricEnabled(ctx, true))
	_, err = s.GetTokens(ctx)
	require.ErrorIs(t, err, errs.ErrBiometricRejected)
	require.Equal(t, 1, gate.calls)
	require.False(t, s.IsTokenValid(ctx))

	gate.result = true
	_, err = s.GetTokens(ctx)
	require.NoError(t, err)

	// the refresh slot is never gated
	calls := gate.calls
	rt, err := s.RefreshToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "r", rt)
	require.Equal(t, calls, gate.calls)
}

func TestIsTokenValid_Boundary(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, securestore.NewMemory(), nil)
	issued := time.UnixMilli(1_700_000_000_000)
	creds := model.NewCredentials(jwtLike, "r", issued)
	require.NoError(t, s.StoreTokens(ctx, creds))

	s.now = func() time.Time { return creds.ExpiresAt.Add(-time.Millisecond) }
	require.True(t, s.IsTokenValid(ctx))
	s.now = func() time.Time { return creds.ExpiresAt }
	require.False(t, s.IsTokenValid(ctx))
	s.now = func() time.Time { return creds.ExpiresAt.Add(time.Minute) }
	require.False(t, s.IsTokenValid(ctx))
}

func TestGetTokens_CorruptedSlot(t *testing.T) {
	ctx := context.Background()
	kv := securestore.NewMemory()
	s := newStore(t, kv, nil)
	require.NoError(t, s.StoreTokens(ctx, model.NewCredentials(jwtLike, "r", time.Now())))
	require.NoError(t, kv.Set(ctx, AccessTokenKey, []byte("garbage")))

	_, err := s.GetTokens(ctx)
	require.ErrorIs(t, err, errs.ErrCorrupted)
}

func TestUserData_Roundtrip(t *testing.T) {
	ctx := context.Background()
	kv := securestore.NewMemory()
	s := newStore(t, kv, &fakeGate{})
	require.NoError(t, s.SetBiometricEnabled(ctx, true))

	p := model.Profile{ID: "u1", Phone: "+15550001234", Name: "Jane", DefaultAddressID: "addr-9"}
	require.NoError(t, s.StoreUserData(ctx, p))
	require.False(t, kv.RequiresAuth(UserDataKey))

	got, err := s.GetUserData(ctx)
	require.NoError(t, err, "profile slot is not gated")
	require.Equal(t, p, got)

	sealed, _ := kv.Get(ctx, UserDataKey)
	require.NotContains(t, string(sealed), "+15550001234")

	require.Error(t, s.StoreUserData(ctx, model.Profile{Email: "x@y.z"}))
}

func TestGetUserData_Absent(t *testing.T) {
	s := newStore(t, securestore.NewMemory(), nil)
	_, err := s.GetUserData(context.Background())
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestBiometricFlag(t *testing.T) {
	ctx := context.Background()
	kv := securestore.NewMemory()
	s := newStore(t, kv, nil)

	on, err := s.IsBiometricEnabled(ctx)
	require.NoError(t, err)
	require.False(t, on)

	require.NoError(t, s.SetBiometricEnabled(ctx, true))
	raw, _ := kv.Get(ctx, BiometricKey)
	require.Equal(t, "true", string(raw))
	on, _ = s.IsBiometricEnabled(ctx)
	require.True(t, on)

	require.NoError(t, s.SetBiometricEnabled(ctx, false))
	raw, _ = kv.Get(ctx, BiometricKey)
	require.Equal(t, "false", string(raw))
}

func TestAuthHeaders(t *testing.T) {
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		s := newStore(t, securestore.NewMemory(), nil)
		require.NoError(t, s.StoreTokens(ctx, model.NewCredentials(jwtLike, "r", time.Now())))

		h, err := s.AuthHeaders(ctx)
		require.NoError(t, err)
		require.Equal(t, map[string]string{
			"Authorization": "Bearer " + jwtLike,
			"Content-Type":  "application/json",
		}, h)
	})

	t.Run("missing", func(t *testing.T) {
		s := newStore(t, securestore.NewMemory(), nil)
		_, err := s.AuthHeaders(ctx)
		require.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("expired", func(t *testing.T) {
		s := newStore(t, securestore.NewMemory(), nil)
		require.NoError(t, s.StoreTokens(ctx, model.NewCredentials(jwtLike, "r", time.Now().Add(-2*time.Hour))))
		_, err := s.AuthHeaders(ctx)
		require.ErrorIs(t, err, errs.ErrTokenExpired)
	})

	t.Run("malformed", func(t *testing.T) {
		s := newStore(t, securestore.NewMemory(), nil)
		for _, tok := range []string{"opaque", "a.b", "a..c", "a.b.c.d"} {
			require.NoError(t, s.StoreTokens(ctx, model.NewCredentials(tok, "r", time.Now())))
			_, err := s.AuthHeaders(ctx)
			require.ErrorIs(t, err, errs.ErrMalformedToken, tok)
		}
	})
}

func TestLogout_ClearsEverySlot(t *testing.T) {
	ctx := context.Background()
	kv := securestore.NewMemory()
	s := newStore(t, kv, nil)
	require.NoError(t, s.StoreTokens(ctx, model.NewCredentials(jwtLike, "r", time.Now())))
	require.NoError(t, s.StoreUserData(ctx, model.Profile{ID: "u1"}))
	require.NoError(t, s.SetBiometricEnabled(ctx, true))
	require.NoError(t, kv.Set(ctx, "device_passcode", []byte("v")))
	salt, err := s.Guard().Salt(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Logout(ctx))

	for _, k := range []string{AccessTokenKey, RefreshTokenKey, UserDataKey, BiometricKey, SaltKey} {
		_, err := kv.Get(ctx, k)
		require.ErrorIs(t, err, errs.ErrNotFound, k)
	}
	_, err = kv.Get(ctx, "device_passcode")
	require.NoError(t, err, "device state survives logout")

	fresh, err := s.Guard().Salt(ctx)
	require.NoError(t, err)
	require.NotEqual(t, salt, fresh)
}

func TestLogout_AllDeletesFail(t *testing.T) {
	ctx := context.Background()
	kv := newFlakyKV()
	kv.failAllRm = errors.New("keystore unavailable")
	s := newStore(t, kv, nil)

	err := s.Logout(ctx)
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 5)
	require.ElementsMatch(t,
		[]string{AccessTokenKey, RefreshTokenKey, UserDataKey, BiometricKey, SaltKey},
		kv.deleted)
}

func TestDiscardSession(t *testing.T) {
	ctx := context.Background()
	kv := securestore.NewMemory()
	s := newStore(t, kv, nil)
	require.NoError(t, s.StoreTokens(ctx, model.NewCredentials(jwtLike, "r", time.Now())))
	require.NoError(t, s.SetBiometricEnabled(ctx, true))

	require.NoError(t, s.DiscardSession(ctx))

	_, err := kv.Get(ctx, AccessTokenKey)
	require.ErrorIs(t, err, errs.ErrNotFound)
	on, _ := s.IsBiometricEnabled(ctx)
	require.True(t, on, "preference is kept")
}

func TestStoredCredentials_EpochMillis(t *testing.T) {
	ctx := context.Background()
	kv := securestore.NewMemory()
	s := newStore(t, kv, nil)
	issued := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, s.StoreTokens(ctx, model.NewCredentials(jwtLike, "r", issued)))

	raw, _ := kv.Get(ctx, AccessTokenKey)
	payload, err := s.Guard().Open(ctx, AccessTokenKey, raw)
	require.NoError(t, err)
	var sc map[string]any
	require.NoError(t, json.Unmarshal(payload, &sc))
	require.EqualValues(t, 1_700_000_000_000, sc["issuedAt"])
	require.EqualValues(t, 1_700_003_600_000, sc["expiresAt"])
	require.False(t, strings.Contains(string(payload), "refresh"))
}
