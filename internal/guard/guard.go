// Package guard derives the per-install salt and protects payloads before they reach the secure store.
//
// Transform is a one-way digest: values passed through it can be compared but never recovered.
// Seal/Open wrap a payload in an authenticated envelope so it can be read back; the digest rides
// along as an integrity check.
package guard

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/shopease/sessionkeeper/internal/crypto/clientcrypto"
	"github.com/shopease/sessionkeeper/internal/errs"
	"github.com/shopease/sessionkeeper/internal/securestore"
)

// SaltKey is the secure-store slot holding the install salt.
const SaltKey = "token_salt"

const (
	saltLen         = 32
	envelopeVersion = 1

	algSealed = "xchacha20poly1305"
	algPlain  = "plain"
)

type envelope struct {
	V      int    `json:"v"`
	Alg    string `json:"alg"`
	Data   []byte `json:"data"`
	Digest string `json:"digest,omitempty"`
}

// Guard caches the install salt and seals slot payloads with keys derived from it.
type Guard struct {
	kv  securestore.Store
	log *zap.Logger

	// overridable in tests
	randFn func(n int) ([]byte, error)

	mu   sync.Mutex
	salt string
}

// New constructs a Guard over kv.
func New(kv securestore.Store, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{kv: kv, log: log, randFn: clientcrypto.Rand}
}

// Salt returns the persisted install salt, creating it from a CSPRNG on first use.
func (g *Guard) Salt(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.salt != "" {
		return g.salt, nil
	}

	raw, err := g.kv.Get(ctx, SaltKey)
	switch {
	case err == nil && len(raw) > 0:
		g.salt = string(raw)
		return g.salt, nil
	case err != nil && !errors.Is(err, errs.ErrNotFound):
		return "", fmt.Errorf("read salt: %w", err)
	}

	b, err := g.randFn(saltLen)
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	salt := hex.EncodeToString(b)
	if err := g.kv.Set(ctx, SaltKey, []byte(salt)); err != nil {
		return "", fmt.Errorf("persist salt: %w", err)
	}
	g.salt = salt
	return salt, nil
}

// Forget drops the cached salt so the next call re-reads (or regenerates) it.
func (g *Guard) Forget() {
	g.mu.Lock()
	g.salt = ""
	g.mu.Unlock()
}

// Transform returns the salted one-way digest of plaintext.
func (g *Guard) Transform(ctx context.Context, plaintext []byte) (string, error) {
	salt, err := g.Salt(ctx)
	if err != nil {
		return "", err
	}
	return clientcrypto.Digest(salt, plaintext), nil
}

// Seal wraps plaintext for slot. When sealing is impossible the payload is stored
// as plaintext and the degradation is logged; the write itself never fails here.
func (g *Guard) Seal(ctx context.Context, slot string, plaintext []byte) []byte {
	env, err := g.seal(ctx, slot, plaintext)
	if err != nil {
		g.log.Warn("sealing failed, storing plaintext", zap.String("slot", slot), zap.Error(err))
		env = envelope{V: envelopeVersion, Alg: algPlain, Data: plaintext}
	}
	out, _ := json.Marshal(env)
	return out
}

func (g *Guard) seal(ctx context.Context, slot string, plaintext []byte) (envelope, error) {
	salt, err := g.Salt(ctx)
	if err != nil {
		return envelope{}, err
	}
	key, err := clientcrypto.DeriveSlotKey([]byte(salt), slot)
	if err != nil {
		return envelope{}, err
	}
	ct, err := clientcrypto.Seal(key, slot, plaintext)
	if err != nil {
		return envelope{}, err
	}
	digest, err := g.Transform(ctx, plaintext)
	if err != nil {
		return envelope{}, err
	}
	return envelope{
		V:      envelopeVersion,
		Alg:    algSealed,
		Data:   ct,
		Digest: digest,
	}, nil
}

// Open reverses Seal for slot.
func (g *Guard) Open(ctx context.Context, slot string, sealed []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(sealed, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", errs.ErrCorrupted, err)
	}
	switch env.Alg {
	case algPlain:
		return env.Data, nil
	case algSealed:
	default:
		return nil, fmt.Errorf("%w: unknown alg %q", errs.ErrCorrupted, env.Alg)
	}

	salt, err := g.Salt(ctx)
	if err != nil {
		return nil, err
	}
	key, err := clientcrypto.DeriveSlotKey([]byte(salt), slot)
	if err != nil {
		return nil, err
	}
	pt, err := clientcrypto.Open(key, slot, env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCorrupted, err)
	}
	digest, err := g.Transform(ctx, pt)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(digest), []byte(env.Digest)) != 1 {
		return nil, fmt.Errorf("%w: digest mismatch", errs.ErrCorrupted)
	}
	return pt, nil
}
