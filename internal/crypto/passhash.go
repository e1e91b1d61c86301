// Package crypto implements passcode verifiers and token fingerprints.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for device passcode verifiers.
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	// SaltLen is the per-verifier salt length.
	SaltLen = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPasscode returns the Argon2id hash of passcode under salt.
func HashPasscode(passcode, salt []byte) []byte {
	return argon2.IDKey(passcode, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// NewVerifier hashes passcode under a fresh salt and returns salt||hash.
func NewVerifier(passcode []byte) ([]byte, error) {
	if len(passcode) == 0 {
		return nil, errors.New("empty passcode")
	}
	salt, err := RandBytes(SaltLen)
	if err != nil {
		return nil, err
	}
	return append(salt, HashPasscode(passcode, salt)...), nil
}

// CheckVerifier reports whether passcode matches a verifier produced by NewVerifier.
func CheckVerifier(passcode, verifier []byte) bool {
	if len(verifier) != SaltLen+int(argonKeyLen) {
		return false
	}
	salt, expected := verifier[:SaltLen], verifier[SaltLen:]
	return subtle.ConstantTimeCompare(HashPasscode(passcode, salt), expected) == 1
}

// HashToken returns the SHA-256 fingerprint under which opaque tokens are stored.
func HashToken(token string) []byte {
	h := sha256.Sum256([]byte(token))
	return h[:]
}
