// Package verifier turns presented credentials into verified external identities.
package verifier

import "github.com/and161185/idcore/internal/model"

// Credential is a closed set of presentable credentials. Only types in this
// package implement it.
type Credential interface {
	credential()
}

// LightningCredential answers a k1 challenge with a secp256k1 public key (LNURL-auth).
type LightningCredential struct {
	K1     string
	Pubkey string
}

// SlashtagsCredential answers a k1 challenge with an ed25519 public key.
type SlashtagsCredential struct {
	K1     string
	Pubkey string
}

// OAuthCredential carries a profile already fetched from the provider's verified callback.
type OAuthCredential struct {
	Profile model.ProviderProfile
}

// EmailCredential carries a plaintext magic-link token.
type EmailCredential struct {
	Token string
}

func (LightningCredential) credential() {}
func (SlashtagsCredential) credential() {}
func (OAuthCredential) credential()     {}
func (EmailCredential) credential()     {}
