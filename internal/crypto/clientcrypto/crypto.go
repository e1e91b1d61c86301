// Package clientcrypto contains client-side primitives for slot keys, AEAD and digests.
package clientcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeyLen is the slot key length (XChaCha20-Poly1305).
const KeyLen = chacha20poly1305.KeySize

func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveSlotKey derives a per-slot key via HKDF-SHA256 using slot as info.
func DeriveSlotKey(secret []byte, slot string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty secret")
	}
	r := hkdf.New(sha256.New, secret, nil, []byte(slot))
	key := make([]byte, KeyLen)
	_, err := r.Read(key)
	return key, err
}

// Seal encrypts plaintext with AAD = slot and a random nonce prepended to the output.
func Seal(key []byte, slot string, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, []byte(slot))...)
	return out, nil
}

// Open decrypts a blob produced by Seal for the same slot.
func Open(key []byte, slot string, blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("blob too short")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ct := blob[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, []byte(slot))
}

// Digest returns hex(SHA-256(salt + ":" + plaintext)). It is one-way.
func Digest(salt string, plaintext []byte) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte{':'})
	h.Write(plaintext)
	return hex.EncodeToString(h.Sum(nil))
}
