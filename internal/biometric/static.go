package biometric

import (
	"context"
	"sync"
)

// Static is an Authenticator with fixed answers. Used in tests and headless runs.
type Static struct {
	Hardware bool
	Enrolled bool
	Result   bool
	Err      error

	mu       sync.Mutex
	calls    int
	lastSeen Prompt
}

var _ Authenticator = (*Static)(nil)

func (s *Static) HasHardware(context.Context) (bool, error) { return s.Hardware, nil }

func (s *Static) IsEnrolled(context.Context) (bool, error) { return s.Enrolled, nil }

func (s *Static) Authenticate(ctx context.Context, p Prompt) (bool, error) {
	s.mu.Lock()
	s.calls++
	s.lastSeen = p
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.Result, s.Err
}

// Calls returns how many challenges were run.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LastPrompt returns the prompt of the most recent challenge.
func (s *Static) LastPrompt() Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}
