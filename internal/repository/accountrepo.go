// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/idcore/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AccountRepository is the durable account and identity-mapping store.
type AccountRepository interface {
	// FindAccountByIdentity returns the account owning (kind, externalID) or errs.ErrNotFound.
	FindAccountByIdentity(ctx context.Context, kind model.Kind, externalID string) (*model.Account, error)
	// CreateAccountWithIdentity atomically inserts a new account and its first identity.
	// Returns errs.ErrUniquenessViolation when (kind, externalID) is already claimed.
	CreateAccountWithIdentity(ctx context.Context, profile model.Profile, kind model.Kind, externalID string) (*model.Account, error)
	// AttachIdentity links (kind, externalID) to accountID, replacing the account's
	// previous identity of the same kind. Returns errs.ErrUniquenessViolation when
	// another account owns (kind, externalID), errs.ErrNotFound when the account is gone.
	AttachIdentity(ctx context.Context, accountID uuid.UUID, kind model.Kind, externalID string) error
	// GetAccount loads an account by ID.
	GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// ListIdentities returns all identities owned by an account.
	ListIdentities(ctx context.Context, accountID uuid.UUID) ([]model.ExternalIdentity, error)
	// DeleteAccount removes an account; its identities are detached with it.
	DeleteAccount(ctx context.Context, id uuid.UUID) error
}
