package verifier

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/and161185/idcore/internal/errs"
	"github.com/and161185/idcore/internal/model"
)

// ChallengeConsumer atomically consumes a k1.
type ChallengeConsumer interface {
	Consume(ctx context.Context, k1 string) (model.Challenge, bool, error)
}

// EmailTokenConsumer atomically consumes a magic-link token and returns its record.
type EmailTokenConsumer interface {
	Consume(ctx context.Context, token string) (model.EmailToken, bool, error)
}

// Verifier validates credentials against their challenge or provider response.
type Verifier struct {
	challenges ChallengeConsumer
	emails     EmailTokenConsumer
}

// New constructs a Verifier.
func New(challenges ChallengeConsumer, emails EmailTokenConsumer) *Verifier {
	return &Verifier{challenges: challenges, emails: emails}
}

// Verify validates cred and returns the identity it proves.
func (v *Verifier) Verify(ctx context.Context, cred Credential) (model.VerifiedIdentity, error) {
	switch c := cred.(type) {
	case LightningCredential:
		return v.verifyPubkey(ctx, model.KindLightning, c.K1, c.Pubkey)
	case SlashtagsCredential:
		return v.verifyPubkey(ctx, model.KindSlashtags, c.K1, c.Pubkey)
	case OAuthCredential:
		return normalizeProfile(c.Profile)
	case EmailCredential:
		return v.verifyEmail(ctx, c.Token)
	default:
		return model.VerifiedIdentity{}, fmt.Errorf("%w: unsupported credential %T", errs.ErrMalformedCredential, cred)
	}
}

// verifyPubkey consumes the k1 before looking at anything else, so a captured
// (k1, pubkey) pair is usable at most once whatever the outcome.
func (v *Verifier) verifyPubkey(ctx context.Context, kind model.Kind, k1, pubkey string) (model.VerifiedIdentity, error) {
	if strings.TrimSpace(k1) == "" {
		return model.VerifiedIdentity{}, fmt.Errorf("%w: empty k1", errs.ErrMalformedCredential)
	}

	ch, found, err := v.challenges.Consume(ctx, k1)
	if err != nil {
		return model.VerifiedIdentity{}, err
	}
	if !found {
		return model.VerifiedIdentity{}, errs.ErrChallengeExpiredOrReused
	}

	key, err := NormalizePubkey(pubkey)
	if err != nil {
		return model.VerifiedIdentity{}, err
	}
	if !ch.Bound() {
		return model.VerifiedIdentity{}, fmt.Errorf("%w: challenge was never signed", errs.ErrProviderVerificationFailed)
	}
	if ch.Kind != kind || ch.Pubkey != key {
		return model.VerifiedIdentity{}, fmt.Errorf("%w: challenge not signed by %s key", errs.ErrProviderVerificationFailed, kind)
	}
	return model.VerifiedIdentity{Kind: kind, ExternalID: key}, nil
}

func (v *Verifier) verifyEmail(ctx context.Context, token string) (model.VerifiedIdentity, error) {
	if strings.TrimSpace(token) == "" {
		return model.VerifiedIdentity{}, fmt.Errorf("%w: empty token", errs.ErrMalformedCredential)
	}
	rec, found, err := v.emails.Consume(ctx, token)
	if err != nil {
		return model.VerifiedIdentity{}, err
	}
	if !found {
		return model.VerifiedIdentity{}, errs.ErrChallengeExpiredOrReused
	}
	addr := strings.ToLower(strings.TrimSpace(rec.Email))
	return model.VerifiedIdentity{Kind: model.KindEmail, ExternalID: addr, Email: addr, RequestedBy: rec.RequestedBy}, nil
}

func normalizeProfile(p model.ProviderProfile) (model.VerifiedIdentity, error) {
	provider := strings.TrimSpace(p.Provider)
	if provider == "" {
		return model.VerifiedIdentity{}, fmt.Errorf("%w: empty provider", errs.ErrMalformedCredential)
	}
	if strings.TrimSpace(p.ID) == "" {
		return model.VerifiedIdentity{}, fmt.Errorf("%w: %s profile without id", errs.ErrProviderVerificationFailed, provider)
	}
	hint := p.Login
	if hint == "" {
		hint = p.Name
	}
	return model.VerifiedIdentity{
		Kind:            model.OAuthKind(provider),
		ExternalID:      strings.TrimSpace(p.ID),
		DisplayNameHint: hint,
		Email:           strings.ToLower(strings.TrimSpace(p.Email)),
	}, nil
}

// NormalizePubkey lower-cases a hex public key and rejects empty or non-hex input.
func NormalizePubkey(pubkey string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(pubkey))
	if key == "" {
		return "", fmt.Errorf("%w: empty pubkey", errs.ErrMalformedCredential)
	}
	if _, err := hex.DecodeString(key); err != nil {
		return "", fmt.Errorf("%w: pubkey is not hex", errs.ErrMalformedCredential)
	}
	return key, nil
}
