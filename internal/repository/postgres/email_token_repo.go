package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/idcore/internal/model"
	"github.com/jackc/pgx/v5"
)

// EmailTokenRepo implements EmailTokenRepository using PostgreSQL.
type EmailTokenRepo struct{ db *DB }

// NewEmailTokenRepo constructs a magic-link token repository.
func NewEmailTokenRepo(db *DB) *EmailTokenRepo { return &EmailTokenRepo{db: db} }

// Create inserts a pending token hash.
func (r *EmailTokenRepo) Create(ctx context.Context, t model.EmailToken) error {
	const q = `
INSERT INTO email_tokens (token_hash, email, requested_by, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, q, t.TokenHash, t.Email, t.RequestedBy, t.ExpiresAt, t.CreatedAt)
	return mapErr("insert email token", err)
}

// Consume deletes a live token and returns it in one statement.
func (r *EmailTokenRepo) Consume(ctx context.Context, tokenHash string) (model.EmailToken, bool, error) {
	const q = `
DELETE FROM email_tokens
WHERE token_hash=$1 AND expires_at > $2
RETURNING token_hash, email, requested_by, expires_at, created_at`
	var t model.EmailToken
	err := r.db.Pool.QueryRow(ctx, q, tokenHash, time.Now()).
		Scan(&t.TokenHash, &t.Email, &t.RequestedBy, &t.ExpiresAt, &t.CreatedAt)
	switch {
	case err == nil:
		return t, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return model.EmailToken{}, false, nil
	default:
		return model.EmailToken{}, false, mapErr("consume email token", err)
	}
}

// DeleteExpired evicts tokens past their expiry.
func (r *EmailTokenRepo) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM email_tokens WHERE expires_at <= $1`, time.Now())
	if err != nil {
		return 0, mapErr("delete expired email tokens", err)
	}
	return tag.RowsAffected(), nil
}
