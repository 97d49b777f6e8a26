// Package keyseal encrypts small secrets, such as wallet private keys, under a passphrase.
//
// Sealed layout: magic | salt | nonce | ciphertext. The key-encryption key is
// derived with Argon2id and the payload is sealed with XChaCha20-Poly1305.
package keyseal

import (
	"bytes"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	saltLen = 16
	kekLen  = chacha20poly1305.KeySize

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

var magic = []byte("idks1:")

// ErrBadPassphrase is returned when a sealed secret does not open.
var ErrBadPassphrase = errors.New("keyseal: wrong passphrase or corrupted data")

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

func deriveKEK(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, kekLen)
}

// IsSealed reports whether b carries the sealed layout.
func IsSealed(b []byte) bool { return bytes.HasPrefix(b, magic) }

// Seal encrypts secret under passphrase. label is authenticated but not encrypted
// and must be presented again to Open.
func Seal(passphrase, label, secret []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("keyseal: empty passphrase")
	}
	salt, err := randBytes(saltLen)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(deriveKEK(passphrase, salt))
	if err != nil {
		return nil, err
	}
	nonce, err := randBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(magic)+saltLen+len(nonce)+len(secret)+aead.Overhead())
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, secret, label), nil
}

// Open decrypts a value produced by Seal.
func Open(passphrase, label, sealed []byte) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, errors.New("keyseal: not a sealed value")
	}
	body := sealed[len(magic):]
	if len(body) < saltLen+chacha20poly1305.NonceSizeX {
		return nil, errors.New("keyseal: sealed value too short")
	}
	salt := body[:saltLen]
	nonce := body[saltLen : saltLen+chacha20poly1305.NonceSizeX]
	ct := body[saltLen+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(deriveKEK(passphrase, salt))
	if err != nil {
		return nil, err
	}
	out, err := aead.Open(nil, nonce, ct, label)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return out, nil
}
