// Package sigcheck verifies wallet signatures over k1 challenges before the
// signer key is bound to the challenge.
package sigcheck

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/and161185/idcore/internal/errs"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Checker verifies that sigHex is a signature by keyHex over the decoded k1.
type Checker interface {
	Check(k1Hex, sigHex, keyHex string) error
}

// LNURL checks LNURL-auth signatures: DER-encoded secp256k1 ECDSA over the
// 32 raw k1 bytes, with a compressed public key.
type LNURL struct{}

// Check implements Checker.
func (LNURL) Check(k1Hex, sigHex, keyHex string) error {
	k1, sig, key, err := decode(k1Hex, sigHex, keyHex)
	if err != nil {
		return err
	}
	if len(k1) != 32 {
		return fmt.Errorf("%w: k1 must be 32 bytes", errs.ErrMalformedCredential)
	}
	// one encoding per key, so a wallet cannot claim a second identity
	if len(key) != secp256k1.PubKeyBytesLenCompressed {
		return fmt.Errorf("%w: key must be a %d-byte compressed point", errs.ErrMalformedCredential, secp256k1.PubKeyBytesLenCompressed)
	}
	pub, err := secp256k1.ParsePubKey(key)
	if err != nil {
		return fmt.Errorf("%w: key: %v", errs.ErrMalformedCredential, err)
	}
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: sig: %v", errs.ErrMalformedCredential, err)
	}
	if !s.Verify(k1, pub) {
		return errs.ErrProviderVerificationFailed
	}
	return nil
}

// Slashtags checks ed25519 signatures over the raw k1 bytes.
type Slashtags struct{}

// Check implements Checker.
func (Slashtags) Check(k1Hex, sigHex, keyHex string) error {
	k1, sig, key, err := decode(k1Hex, sigHex, keyHex)
	if err != nil {
		return err
	}
	if len(key) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: bad ed25519 key or signature size", errs.ErrMalformedCredential)
	}
	if !ed25519.Verify(ed25519.PublicKey(key), k1, sig) {
		return errs.ErrProviderVerificationFailed
	}
	return nil
}

func decode(k1Hex, sigHex, keyHex string) (k1, sig, key []byte, err error) {
	if k1, err = hex.DecodeString(k1Hex); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: k1 is not hex", errs.ErrMalformedCredential)
	}
	if sig, err = hex.DecodeString(sigHex); err != nil || len(sig) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: sig is not hex", errs.ErrMalformedCredential)
	}
	if key, err = hex.DecodeString(keyHex); err != nil || len(key) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: key is not hex", errs.ErrMalformedCredential)
	}
	return k1, sig, key, nil
}
