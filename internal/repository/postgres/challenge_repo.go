package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/idcore/internal/errs"
	"github.com/and161185/idcore/internal/model"
	"github.com/jackc/pgx/v5"
)

// ChallengeRepo implements ChallengeRepository using PostgreSQL.
type ChallengeRepo struct{ db *DB }

// NewChallengeRepo constructs a challenge repository.
func NewChallengeRepo(db *DB) *ChallengeRepo { return &ChallengeRepo{db: db} }

// Create inserts an unbound challenge.
func (r *ChallengeRepo) Create(ctx context.Context, c model.Challenge) error {
	const q = `INSERT INTO challenges (k1, created_at) VALUES ($1, $2)`
	_, err := r.db.Pool.Exec(ctx, q, c.K1, c.CreatedAt)
	return mapErr("insert challenge", err)
}

// Bind attaches a signer key to a live challenge. Binding the same key twice
// is idempotent so wallets may retry the callback.
func (r *ChallengeRepo) Bind(ctx context.Context, k1 string, kind model.Kind, pubkey string, ttl time.Duration) error {
	const q = `
UPDATE challenges
SET kind=$2, pubkey=$3
WHERE k1=$1 AND created_at > $4 AND (pubkey IS NULL OR (pubkey=$3 AND kind=$2))`
	tag, err := r.db.Pool.Exec(ctx, q, k1, string(kind), pubkey, time.Now().Add(-ttl))
	if err != nil {
		return mapErr("bind challenge", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Consume deletes the live challenge and returns it in one statement.
func (r *ChallengeRepo) Consume(ctx context.Context, k1 string, ttl time.Duration) (model.Challenge, bool, error) {
	const q = `
DELETE FROM challenges
WHERE k1=$1 AND created_at > $2
RETURNING k1, COALESCE(kind, ''), COALESCE(pubkey, ''), created_at`
	var (
		c    model.Challenge
		kind string
	)
	err := r.db.Pool.QueryRow(ctx, q, k1, time.Now().Add(-ttl)).Scan(&c.K1, &kind, &c.Pubkey, &c.CreatedAt)
	switch {
	case err == nil:
		c.Kind = model.Kind(kind)
		return c, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return model.Challenge{}, false, nil
	default:
		return model.Challenge{}, false, mapErr("consume challenge", err)
	}
}

// DeleteExpired evicts challenges created before now-ttl.
func (r *ChallengeRepo) DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM challenges WHERE created_at <= $1`, time.Now().Add(-ttl))
	if err != nil {
		return 0, mapErr("delete expired challenges", err)
	}
	return tag.RowsAffected(), nil
}
