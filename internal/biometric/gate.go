// Package biometric probes the platform authenticator and runs single user-presence challenges.
package biometric

import (
	"context"

	"go.uber.org/zap"
)

// Prompt is the wording shown by the platform during a challenge.
type Prompt struct {
	Message       string
	FallbackLabel string
	CancelLabel   string
}

// DefaultPrompt returns the storefront wording.
func DefaultPrompt() Prompt {
	return Prompt{
		Message:       "Authenticate to access your account",
		FallbackLabel: "Use passcode",
		CancelLabel:   "Cancel",
	}
}

// Authenticator is the platform capability behind the gate.
type Authenticator interface {
	// HasHardware reports whether the device can run a challenge at all.
	HasHardware(ctx context.Context) (bool, error)
	// IsEnrolled reports whether a credential (fingerprint, face, passcode) is registered.
	IsEnrolled(ctx context.Context) (bool, error)
	// Authenticate runs one challenge. Cancellation is (false, nil).
	Authenticate(ctx context.Context, p Prompt) (bool, error)
}

// Gate wraps an Authenticator. Neither method ever returns an error.
type Gate struct {
	auth   Authenticator
	log    *zap.Logger
	prompt Prompt
}

// NewGate constructs a Gate with the default prompt.
func NewGate(auth Authenticator, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{auth: auth, log: log, prompt: DefaultPrompt()}
}

// WithPrompt overrides the challenge wording.
func (g *Gate) WithPrompt(p Prompt) *Gate {
	g.prompt = p
	return g
}

// IsAvailable reports hardware && enrolled. It is probed on every call.
func (g *Gate) IsAvailable(ctx context.Context) bool {
	hw, err := g.auth.HasHardware(ctx)
	if err != nil {
		g.log.Debug("biometric hardware probe failed", zap.Error(err))
		return false
	}
	if !hw {
		return false
	}
	enrolled, err := g.auth.IsEnrolled(ctx)
	if err != nil {
		g.log.Debug("biometric enrollment probe failed", zap.Error(err))
		return false
	}
	return enrolled
}

// Challenge returns true only on an explicit success.
func (g *Gate) Challenge(ctx context.Context) bool {
	ok, err := g.auth.Authenticate(ctx, g.prompt)
	if err != nil {
		g.log.Info("biometric challenge failed", zap.Error(err))
		return false
	}
	return ok
}
