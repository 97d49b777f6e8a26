package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Kinds the wallet can sign for.
const (
	kindLightning = "lightning"
	kindSlashtags = "slashtags"
)

// signer signs a k1 challenge with a locally stored key.
type signer interface {
	// PubkeyHex is the identity presented to the server.
	PubkeyHex() string
	// SignHex signs the raw k1 bytes and returns the hex signature.
	SignHex(k1 []byte) string
}

type lnurlSigner struct{ priv *secp256k1.PrivateKey }

func (s lnurlSigner) PubkeyHex() string {
	return hex.EncodeToString(s.priv.PubKey().SerializeCompressed())
}

// SignHex returns a DER-encoded ECDSA signature as LNURL-auth wallets do.
func (s lnurlSigner) SignHex(k1 []byte) string {
	return hex.EncodeToString(ecdsa.Sign(s.priv, k1).Serialize())
}

type slashtagsSigner struct{ priv ed25519.PrivateKey }

func (s slashtagsSigner) PubkeyHex() string {
	return hex.EncodeToString(s.priv.Public().(ed25519.PublicKey))
}

func (s slashtagsSigner) SignHex(k1 []byte) string {
	return hex.EncodeToString(ed25519.Sign(s.priv, k1))
}

// generateKey creates a fresh private key for kind and returns its raw bytes.
func generateKey(kind string) ([]byte, error) {
	switch kind {
	case kindLightning:
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		return priv.Serialize(), nil
	case kindSlashtags:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return priv.Seed(), nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

// newSigner restores a signer from raw key bytes produced by generateKey.
func newSigner(kind string, raw []byte) (signer, error) {
	switch kind {
	case kindLightning:
		if len(raw) != secp256k1.PrivKeyBytesLen {
			return nil, fmt.Errorf("bad lightning key length %d", len(raw))
		}
		return lnurlSigner{priv: secp256k1.PrivKeyFromBytes(raw)}, nil
	case kindSlashtags:
		if len(raw) != ed25519.SeedSize {
			return nil, fmt.Errorf("bad slashtags key length %d", len(raw))
		}
		return slashtagsSigner{priv: ed25519.NewKeyFromSeed(raw)}, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}
