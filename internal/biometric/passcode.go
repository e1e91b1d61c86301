package biometric

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/shopease/sessionkeeper/internal/crypto"
	"github.com/shopease/sessionkeeper/internal/errs"
	"github.com/shopease/sessionkeeper/internal/securestore"
)

// PasscodeKey is the secure-store slot holding the passcode verifier.
// It is device state and survives logout.
const PasscodeKey = "device_passcode"

// MaxAttempts bounds passcode tries per challenge; exhausting them is a lockout.
const MaxAttempts = 3

// MinPasscodeLen is the shortest accepted passcode.
const MinPasscodeLen = 4

// PasscodeAuthenticator is the terminal stand-in for a biometric sensor:
// the device passcode entered without echo.
type PasscodeAuthenticator struct {
	kv  securestore.Store
	out io.Writer
	fd  int

	isTerminal   func(fd int) bool
	readPassword func(fd int) ([]byte, error)
}

var _ Authenticator = (*PasscodeAuthenticator)(nil)

// NewPasscode reads from stdin and writes prompts to out.
func NewPasscode(kv securestore.Store, out io.Writer) *PasscodeAuthenticator {
	if out == nil {
		out = os.Stderr
	}
	return &PasscodeAuthenticator{
		kv:           kv,
		out:          out,
		fd:           int(os.Stdin.Fd()),
		isTerminal:   term.IsTerminal,
		readPassword: term.ReadPassword,
	}
}

// HasHardware is true when stdin is an interactive terminal.
func (p *PasscodeAuthenticator) HasHardware(context.Context) (bool, error) {
	return p.isTerminal(p.fd), nil
}

// IsEnrolled is true when a verifier has been stored.
func (p *PasscodeAuthenticator) IsEnrolled(ctx context.Context) (bool, error) {
	_, err := p.kv.Get(ctx, PasscodeKey)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errs.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Enroll replaces the stored verifier.
func (p *PasscodeAuthenticator) Enroll(ctx context.Context, passcode []byte) error {
	if len(passcode) < MinPasscodeLen {
		return fmt.Errorf("passcode must be at least %d characters", MinPasscodeLen)
	}
	v, err := crypto.NewVerifier(passcode)
	if err != nil {
		return err
	}
	return p.kv.Set(ctx, PasscodeKey, v)
}

// Authenticate prompts up to MaxAttempts times. An empty entry cancels.
func (p *PasscodeAuthenticator) Authenticate(ctx context.Context, pr Prompt) (bool, error) {
	verifier, err := p.kv.Get(ctx, PasscodeKey)
	if err != nil {
		return false, fmt.Errorf("load passcode verifier: %w", err)
	}

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		fmt.Fprintf(p.out, "%s\n%s (empty to %s): ", pr.Message, pr.FallbackLabel, pr.CancelLabel)
		in, err := p.readPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return false, fmt.Errorf("read passcode: %w", err)
		}
		in = bytes.TrimSpace(in)
		if len(in) == 0 {
			return false, nil
		}
		if crypto.CheckVerifier(in, verifier) {
			return true, nil
		}
		if attempt < MaxAttempts {
			fmt.Fprintf(p.out, "wrong passcode, %d attempt(s) left\n", MaxAttempts-attempt)
		}
	}
	return false, errors.New("too many failed attempts")
}
