// Package model defines domain entities used by services and repositories.
package model

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Kind names a credential namespace. (Kind, ExternalID) is globally unique.
type Kind string

// Known credential kinds. OAuth kinds are per provider so that an account can
// hold one identity for each provider without ambiguity.
const (
	KindLightning    Kind = "lightning"
	KindSlashtags    Kind = "slashtags"
	KindEmail        Kind = "email"
	KindOAuthGitHub  Kind = "oauth:github"
	KindOAuthTwitter Kind = "oauth:twitter"
)

// OAuthKind returns the per-provider kind for provider (e.g. "oauth:github").
func OAuthKind(provider string) Kind {
	return Kind("oauth:" + strings.ToLower(provider))
}

// IsPubkey reports whether the kind is answered by a k1 challenge.
func (k Kind) IsPubkey() bool {
	return k == KindLightning || k == KindSlashtags
}

// IsOAuth reports whether the kind belongs to a delegated provider.
func (k Kind) IsOAuth() bool {
	return strings.HasPrefix(string(k), "oauth:")
}

// Tokens collects an issued session token and its expiry.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Account is the canonical internal identity. IDs are never reused.
type Account struct {
	ID          uuid.UUID
	DisplayName string
	CreatedAt   time.Time
}

// ExternalIdentity maps a credential namespace entry onto an account.
type ExternalIdentity struct {
	Kind       Kind
	ExternalID string
	AccountID  uuid.UUID
	CreatedAt  time.Time
}

// Profile carries account fields chosen at creation time.
type Profile struct {
	DisplayName string
}

// Challenge is a pending k1. Kind and Pubkey are empty until a signer binds it.
type Challenge struct {
	K1        string
	Kind      Kind
	Pubkey    string
	CreatedAt time.Time
}

// Bound reports whether a signer has attached a key to the challenge.
func (c Challenge) Bound() bool { return c.Pubkey != "" }

// EmailToken is a pending magic link. Only the hash of the token is stored.
// RequestedBy is the account whose session asked for the link, if any.
type EmailToken struct {
	TokenHash   string
	Email       string
	RequestedBy uuid.NullUUID
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// VerifiedIdentity is the output of credential verification.
// DisplayNameHint and Email are optional. RequestedBy is set for magic links
// requested from a signed-in session; only that session may link the identity.
type VerifiedIdentity struct {
	Kind            Kind
	ExternalID      string
	DisplayNameHint string
	Email           string
	RequestedBy     uuid.NullUUID
}

// ProviderProfile is the subset of a delegated provider's user profile used for sign-in.
type ProviderProfile struct {
	Provider string
	ID       string
	Login    string
	Name     string
	Email    string
}
