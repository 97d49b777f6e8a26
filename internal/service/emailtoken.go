package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/and161185/idcore/internal/errs"
	"github.com/and161185/idcore/internal/model"
	"github.com/and161185/idcore/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// DefaultEmailTokenTTL is the magic-link lifetime.
const DefaultEmailTokenTTL = 15 * time.Minute

// Mailer delivers magic links.
type Mailer interface {
	SendMagicLink(ctx context.Context, to, link string) error
}

// LogMailer logs links instead of sending them. Development only.
type LogMailer struct{ Log *zap.Logger }

// SendMagicLink implements Mailer.
func (m LogMailer) SendMagicLink(_ context.Context, to, link string) error {
	m.Log.Info("magic link", zap.String("to", to), zap.String("link", link))
	return nil
}

// EmailTokens issues and consumes magic-link tokens. Only token hashes are stored.
type EmailTokens struct {
	repo    repository.EmailTokenRepository
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

// NewEmailTokens constructs EmailTokens.
func NewEmailTokens(repo repository.EmailTokenRepository, ttl, timeout time.Duration) *EmailTokens {
	if ttl <= 0 {
		ttl = DefaultEmailTokenTTL
	}
	return &EmailTokens{repo: repo, ttl: ttl, timeout: timeout, now: time.Now}
}

// NormalizeEmail validates and lower-cases an address.
func NormalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: email: %v", errs.ErrMalformedCredential, err)
	}
	return strings.ToLower(addr.Address), nil
}

// Issue stores a new token for email and returns its plaintext. requestedBy
// is the signed-in account asking for the link, or a null UUID.
func (t *EmailTokens) Issue(ctx context.Context, email string, requestedBy uuid.NullUUID) (string, error) {
	addr, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(b)
	now := t.now()
	rec := model.EmailToken{
		TokenHash:   hashToken(token),
		Email:       addr,
		RequestedBy: requestedBy,
		ExpiresAt:   now.Add(t.ttl),
		CreatedAt:   now,
	}
	if err := withTimeout(ctx, t.timeout, func(ctx context.Context) error {
		return t.repo.Create(ctx, rec)
	}); err != nil {
		return "", err
	}
	return token, nil
}

// Consume atomically removes a live token and returns it.
func (t *EmailTokens) Consume(ctx context.Context, token string) (model.EmailToken, bool, error) {
	var (
		rec   model.EmailToken
		found bool
	)
	err := withTimeout(ctx, t.timeout, func(ctx context.Context) error {
		var err error
		rec, found, err = t.repo.Consume(ctx, hashToken(token))
		return err
	})
	return rec, found, err
}

// Sweep evicts expired tokens.
func (t *EmailTokens) Sweep(ctx context.Context) (int64, error) {
	var n int64
	err := withTimeout(ctx, t.timeout, func(ctx context.Context) error {
		var err error
		n, err = t.repo.DeleteExpired(ctx)
		return err
	})
	return n, err
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
