// Package securestore defines the key/value contract of the platform secure store
// and an in-memory implementation.
package securestore

import "context"

// Store persists opaque values under fixed logical keys.
//
// Get returns errs.ErrNotFound for absent keys. Delete is idempotent.
// Implementations serialise single-key access; there are no cross-key transactions.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, opts ...SetOption) error
	Delete(ctx context.Context, key string) error
}

// SetOptions carries per-write access policy.
type SetOptions struct {
	// RequireAuth asks the platform to demand user presence before the value is read.
	RequireAuth bool
	// Prompt is shown by platforms that confirm presence at write time.
	Prompt string
}

// SetOption customises a Set call.
type SetOption func(*SetOptions)

// RequireAuth marks the slot as gated behind user presence.
func RequireAuth(prompt string) SetOption {
	return func(o *SetOptions) {
		o.RequireAuth = true
		o.Prompt = prompt
	}
}

// Apply folds opts into a SetOptions value.
func Apply(opts ...SetOption) SetOptions {
	var o SetOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
