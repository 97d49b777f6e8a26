// Package session mints and verifies signed, self-contained session tokens.
package session

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keyInfo = "session-signing-key"

// Keyring holds the HS256 signing key. It is built once at boot and never mutated;
// rotating the secret invalidates every outstanding token.
type Keyring struct {
	key []byte
}

// NewKeyring derives a 32-byte signing key from secret with HKDF-SHA256.
func NewKeyring(secret []byte) (Keyring, error) {
	if len(secret) < 16 {
		return Keyring{}, errors.New("session secret must be at least 16 bytes")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return Keyring{}, err
	}
	return Keyring{key: key}, nil
}

func (k Keyring) signingKey() []byte { return k.key }
