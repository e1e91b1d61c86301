// Package session drives the authentication state machine on top of the session store,
// the biometric gate and an issuer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shopease/sessionkeeper/internal/errs"
	"github.com/shopease/sessionkeeper/internal/issuer"
	"github.com/shopease/sessionkeeper/internal/model"
)

// DefaultIssuerTimeout bounds a single issuer call.
const DefaultIssuerTimeout = 10 * time.Second

// Store is the subset of the session store the manager depends on.
type Store interface {
	StoreTokens(ctx context.Context, creds model.Credentials) error
	GetTokens(ctx context.Context) (model.Credentials, error)
	RefreshToken(ctx context.Context) (string, error)
	StoreUserData(ctx context.Context, p model.Profile) error
	GetUserData(ctx context.Context) (model.Profile, error)
	SetBiometricEnabled(ctx context.Context, enabled bool) error
	AuthHeaders(ctx context.Context) (map[string]string, error)
	Logout(ctx context.Context) error
	DiscardSession(ctx context.Context) error
}

// Gate is the biometric capability probe and challenge.
type Gate interface {
	IsAvailable(ctx context.Context) bool
	Challenge(ctx context.Context) bool
}

// Manager owns the observable session state. Public operations are serialised.
type Manager struct {
	store  Store
	gate   Gate
	issuer issuer.Issuer
	log    *zap.Logger

	issuerTimeout time.Duration
	now           func() time.Time

	opMu sync.Mutex

	stateMu sync.Mutex
	state   model.State
	subs    map[int]chan model.State
	nextSub int
}

// Option customises a Manager.
type Option func(*Manager)

// WithIssuerTimeout bounds each issuer call. Zero disables the bound.
func WithIssuerTimeout(d time.Duration) Option { return func(m *Manager) { m.issuerTimeout = d } }

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// New constructs a Manager in the unknown state.
func New(store Store, gate Gate, iss issuer.Issuer, log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		store:         store,
		gate:          gate,
		issuer:        iss,
		log:           log,
		issuerTimeout: DefaultIssuerTimeout,
		now:           time.Now,
		state:         model.State{Status: model.StatusUnknown, IsLoading: true},
		subs:          map[int]chan model.State{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start runs the initial status check.
func (m *Manager) Start(ctx context.Context) {
	m.CheckStatus(ctx)
}

// State returns the current snapshot.
func (m *Manager) State() model.State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// Subscribe returns a channel that receives the current state and every later change.
// A slow receiver only sees the latest state. cancel closes the channel.
func (m *Manager) Subscribe() (<-chan model.State, func()) {
	ch := make(chan model.State, 1)
	m.stateMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.state
	m.stateMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.stateMu.Lock()
			delete(m.subs, id)
			close(ch)
			m.stateMu.Unlock()
		})
	}
}

func (m *Manager) setState(s model.State) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.state = s
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (m *Manager) setChecking() {
	m.stateMu.Lock()
	s := m.state
	m.stateMu.Unlock()
	s.Status = model.StatusChecking
	s.IsLoading = true
	s.Error = ""
	m.setState(s)
}

func (m *Manager) setAuthenticated(user *model.Profile) {
	m.setState(model.State{Status: model.StatusAuthenticated, IsAuthenticated: true, User: user})
}

func (m *Manager) setUnauthenticated(errMsg string) {
	m.setState(model.State{Status: model.StatusUnauthenticated, Error: errMsg})
}

func (m *Manager) issuerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.issuerTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.issuerTimeout)
}

// CheckStatus re-derives the session state from storage, refreshing an expired token when possible.
func (m *Manager) CheckStatus(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.checkStatus(ctx)
}

// RefreshAuth is CheckStatus under the name UI layers use for pull-to-refresh.
func (m *Manager) RefreshAuth(ctx context.Context) { m.CheckStatus(ctx) }

func (m *Manager) checkStatus(ctx context.Context) {
	m.setChecking()

	creds, err := m.store.GetTokens(ctx)
	switch {
	case err == nil && creds.Valid(m.now()):
		m.finishAuthenticated(ctx)
		return
	case errors.Is(err, errs.ErrBiometricRejected):
		// declined challenge must not fall through to a silent refresh
		m.setUnauthenticated("")
		return
	case err != nil && !errors.Is(err, errs.ErrNotFound):
		m.log.Info("stored token unreadable, trying refresh", zap.Error(err))
	}

	rt, err := m.store.RefreshToken(ctx)
	if errors.Is(err, errs.ErrNotFound) {
		m.setUnauthenticated("")
		return
	}
	if err != nil {
		m.log.Error("read refresh token", zap.Error(err))
		m.setUnauthenticated(err.Error())
		return
	}

	ictx, cancel := m.issuerCtx(ctx)
	next, err := m.issuer.Refresh(ictx, rt)
	cancel()
	if err != nil {
		m.log.Info("token refresh failed", zap.Error(err))
		m.setUnauthenticated("")
		return
	}
	if err := m.store.StoreTokens(ctx, next); err != nil {
		m.log.Error("persist refreshed tokens", zap.Error(err))
		m.setUnauthenticated(err.Error())
		return
	}
	m.finishAuthenticated(ctx)
}

func (m *Manager) finishAuthenticated(ctx context.Context) {
	p, err := m.store.GetUserData(ctx)
	switch {
	case err == nil:
		m.setAuthenticated(&p)
	case errors.Is(err, errs.ErrNotFound):
		m.setAuthenticated(nil)
	default:
		m.log.Error("read user data", zap.Error(err))
		m.setUnauthenticated(err.Error())
	}
}

// Login issues a session for method and persists it. It reports success; failures land in State().Error.
func (m *Manager) Login(ctx context.Context, method model.AuthMethod, data model.LoginData) bool {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.setChecking()
	if !method.Valid() {
		m.setUnauthenticated(fmt.Sprintf("%v: %q", errs.ErrUnsupportedMethod, method))
		return false
	}

	ictx, cancel := m.issuerCtx(ctx)
	creds, profile, err := m.issuer.Issue(ictx, method, data)
	cancel()
	if err != nil {
		m.log.Info("login failed", zap.String("method", string(method)), zap.Error(err))
		m.setUnauthenticated(fmt.Sprintf("login failed: %v", err))
		return false
	}

	if err := m.persistLogin(ctx, creds, profile); err != nil {
		m.log.Error("persist login", zap.String("method", string(method)), zap.Error(err))
		if derr := m.store.DiscardSession(ctx); derr != nil {
			m.log.Warn("discard partial session", zap.Error(derr))
		}
		m.setUnauthenticated(err.Error())
		return false
	}

	m.log.Info("logged in", zap.String("method", string(method)), zap.String("user", profile.ID))
	m.setAuthenticated(&profile)
	return true
}

func (m *Manager) persistLogin(ctx context.Context, creds model.Credentials, p model.Profile) error {
	if err := m.store.StoreTokens(ctx, creds); err != nil {
		return fmt.Errorf("failed to store authentication tokens securely: %w", err)
	}
	if err := m.store.StoreUserData(ctx, p); err != nil {
		return fmt.Errorf("failed to store user data securely: %w", err)
	}
	return nil
}

// Logout revokes the refresh token when the issuer supports it, erases local state
// and always ends unauthenticated.
func (m *Manager) Logout(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.setChecking()

	if rv, ok := m.issuer.(issuer.Revoker); ok {
		if rt, err := m.store.RefreshToken(ctx); err == nil {
			ictx, cancel := m.issuerCtx(ctx)
			if err := rv.Revoke(ictx, rt); err != nil {
				m.log.Warn("revoke refresh token", zap.Error(err))
			}
			cancel()
		}
	}

	if err := m.store.Logout(ctx); err != nil {
		m.log.Warn("logout left secure items behind", zap.Error(err))
	}
	m.setUnauthenticated("")
}

// EnableBiometric challenges the user and, on success, gates future token reads.
func (m *Manager) EnableBiometric(ctx context.Context) (bool, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if !m.gate.IsAvailable(ctx) {
		return false, errs.ErrBiometricUnavailable
	}
	if !m.gate.Challenge(ctx) {
		return false, nil
	}
	if err := m.store.SetBiometricEnabled(ctx, true); err != nil {
		return false, err
	}
	return true, nil
}

// AuthHeaders returns request headers. On failure it re-checks the session once
// and returns the original error.
func (m *Manager) AuthHeaders(ctx context.Context) (map[string]string, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	h, err := m.store.AuthHeaders(ctx)
	if err != nil {
		m.log.Info("auth headers unavailable", zap.Error(err))
		m.checkStatus(ctx)
		return nil, err
	}
	return h, nil
}
