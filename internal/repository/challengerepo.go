package repository

import (
	"context"
	"time"

	"github.com/and161185/idcore/internal/model"
)

// ChallengeRepository persists k1 challenges. Consume must be a single atomic
// storage primitive: of N concurrent callers with the same k1 exactly one wins.
type ChallengeRepository interface {
	// Create stores a fresh, unbound challenge.
	Create(ctx context.Context, c model.Challenge) error
	// Bind attaches a verified signer key to a live, unbound challenge.
	// Returns errs.ErrNotFound when the k1 is unknown, expired or bound to another key.
	Bind(ctx context.Context, k1 string, kind model.Kind, pubkey string, ttl time.Duration) error
	// Consume atomically deletes and returns a live challenge.
	// found is false when the k1 is unknown, expired or already consumed.
	Consume(ctx context.Context, k1 string, ttl time.Duration) (c model.Challenge, found bool, err error)
	// DeleteExpired evicts challenges older than ttl and returns the count.
	DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)
}

// EmailTokenRepository persists magic-link tokens in their own namespace.
type EmailTokenRepository interface {
	// Create stores a pending token.
	Create(ctx context.Context, t model.EmailToken) error
	// Consume atomically deletes a live token and returns it.
	Consume(ctx context.Context, tokenHash string) (t model.EmailToken, found bool, err error)
	// DeleteExpired evicts expired tokens and returns the count.
	DeleteExpired(ctx context.Context) (int64, error)
}
