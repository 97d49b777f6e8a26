package postgres

import (
	"context"
	"time"

	"github.com/and161185/idcore/internal/errs"
	"github.com/and161185/idcore/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// FindAccountByIdentity selects the account that owns (kind, externalID).
func (r *AccountRepo) FindAccountByIdentity(ctx context.Context, kind model.Kind, externalID string) (*model.Account, error) {
	const q = `
SELECT a.id, a.display_name, a.created_at
FROM external_identities ei
JOIN accounts a ON a.id = ei.account_id
WHERE ei.kind=$1 AND ei.external_id=$2`
	var a model.Account
	if err := r.db.Pool.QueryRow(ctx, q, string(kind), externalID).Scan(&a.ID, &a.DisplayName, &a.CreatedAt); err != nil {
		return nil, mapErr("find account by identity", err)
	}
	return &a, nil
}

// CreateAccountWithIdentity inserts the account and its identity in one transaction.
func (r *AccountRepo) CreateAccountWithIdentity(
	ctx context.Context, profile model.Profile, kind model.Kind, externalID string,
) (acc *model.Account, err error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, mapErr("begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			acc, err = nil, mapErr("commit", e)
		}
	}()

	const insAcc = `INSERT INTO accounts (id, display_name) VALUES ($1, $2) RETURNING created_at`
	const insID = `INSERT INTO external_identities (kind, external_id, account_id) VALUES ($1, $2, $3)`

	var createdAt time.Time
	if err = tx.QueryRow(ctx, insAcc, id, profile.DisplayName).Scan(&createdAt); err != nil {
		return nil, mapErr("insert account", err)
	}
	if _, err = tx.Exec(ctx, insID, string(kind), externalID, id); err != nil {
		return nil, mapErr("insert identity", err)
	}
	return &model.Account{ID: id, DisplayName: profile.DisplayName, CreatedAt: createdAt}, nil
}

// AttachIdentity upserts the account's identity of the given kind.
// A conflict on (kind, external_id) is not handled by ON CONFLICT and surfaces as a
// uniqueness violation.
func (r *AccountRepo) AttachIdentity(ctx context.Context, accountID uuid.UUID, kind model.Kind, externalID string) error {
	const q = `
INSERT INTO external_identities (kind, external_id, account_id)
VALUES ($1, $2, $3)
ON CONFLICT (account_id, kind)
DO UPDATE SET external_id = EXCLUDED.external_id, created_at = now()`
	_, err := r.db.Pool.Exec(ctx, q, string(kind), externalID, accountID)
	return mapErr("attach identity", err)
}

// GetAccount selects an account by ID.
func (r *AccountRepo) GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	const q = `SELECT id, display_name, created_at FROM accounts WHERE id=$1`
	var a model.Account
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&a.ID, &a.DisplayName, &a.CreatedAt); err != nil {
		return nil, mapErr("get account", err)
	}
	return &a, nil
}

// ListIdentities returns an account's identities ordered by kind.
func (r *AccountRepo) ListIdentities(ctx context.Context, accountID uuid.UUID) ([]model.ExternalIdentity, error) {
	const q = `
SELECT kind, external_id, account_id, created_at
FROM external_identities
WHERE account_id=$1
ORDER BY kind ASC`
	rows, err := r.db.Pool.Query(ctx, q, accountID)
	if err != nil {
		return nil, mapErr("list identities", err)
	}
	defer rows.Close()

	var out []model.ExternalIdentity
	for rows.Next() {
		var (
			ei   model.ExternalIdentity
			kind string
		)
		if err := rows.Scan(&kind, &ei.ExternalID, &ei.AccountID, &ei.CreatedAt); err != nil {
			return nil, mapErr("scan identity", err)
		}
		ei.Kind = model.Kind(kind)
		out = append(out, ei)
	}
	return out, mapErr("iterate identities", rows.Err())
}

// DeleteAccount deletes an account; identities cascade.
func (r *AccountRepo) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM accounts WHERE id=$1`, id)
	if err != nil {
		return mapErr("delete account", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
