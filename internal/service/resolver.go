package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/and161185/idcore/internal/errs"
	"github.com/and161185/idcore/internal/model"
	"github.com/and161185/idcore/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Outcome says which resolution path was taken.
type Outcome string

// Resolution outcomes.
const (
	OutcomeAuthenticated Outcome = "authenticated"
	OutcomeNoop          Outcome = "noop"
	OutcomeCreated       Outcome = "created"
	OutcomeLinked        Outcome = "linked"
)

// Resolution is the account a verified identity resolved to.
type Resolution struct {
	Account model.Account
	Outcome Outcome
}

// Resolver maps a verified identity plus an optional signed-in account onto
// exactly one canonical account.
//
//	claimed | signed in | result
//	yes     | no        | authenticate as owner
//	yes     | same      | no-op
//	yes     | other     | ErrAccountNotLinked
//	no      | no        | create account with identity
//	no      | yes       | link identity to signed-in account
type Resolver struct {
	accounts repository.AccountRepository
	log      *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(accounts repository.AccountRepository, log *zap.Logger) *Resolver {
	return &Resolver{accounts: accounts, log: log}
}

// Resolve runs the decision. A uniqueness violation on create or link means a
// concurrent request claimed the identity first; the decision is re-run once.
func (r *Resolver) Resolve(ctx context.Context, id model.VerifiedIdentity, current *uuid.UUID) (Resolution, error) {
	res, err := r.resolve(ctx, id, current)
	if errors.Is(err, errs.ErrUniquenessViolation) {
		r.log.Debug("identity claimed concurrently, re-resolving",
			zap.String("kind", string(id.Kind)), zap.String("external_id", id.ExternalID))
		res, err = r.resolve(ctx, id, current)
	}
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, id model.VerifiedIdentity, current *uuid.UUID) (Resolution, error) {
	owner, err := r.accounts.FindAccountByIdentity(ctx, id.Kind, id.ExternalID)
	switch {
	case err == nil:
		return r.claimed(*owner, current)
	case errors.Is(err, errs.ErrNotFound):
		return r.unclaimed(ctx, id, current)
	default:
		return Resolution{}, err
	}
}

func (r *Resolver) claimed(owner model.Account, current *uuid.UUID) (Resolution, error) {
	switch {
	case current == nil:
		return Resolution{Account: owner, Outcome: OutcomeAuthenticated}, nil
	case *current == owner.ID:
		return Resolution{Account: owner, Outcome: OutcomeNoop}, nil
	default:
		return Resolution{}, errs.ErrAccountNotLinked
	}
}

func (r *Resolver) unclaimed(ctx context.Context, id model.VerifiedIdentity, current *uuid.UUID) (Resolution, error) {
	if current == nil {
		acc, err := r.accounts.CreateAccountWithIdentity(ctx, model.Profile{DisplayName: DisplayName(id)}, id.Kind, id.ExternalID)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Account: *acc, Outcome: OutcomeCreated}, nil
	}

	err := r.accounts.AttachIdentity(ctx, *current, id.Kind, id.ExternalID)
	if errors.Is(err, errs.ErrNotFound) {
		return Resolution{}, fmt.Errorf("%w: signed-in account no longer exists", errs.ErrInvalidSession)
	}
	if err != nil {
		return Resolution{}, err
	}
	acc, err := r.accounts.GetAccount(ctx, *current)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Account: *acc, Outcome: OutcomeLinked}, nil
}

// DisplayName derives the initial name of an account created from id.
func DisplayName(id model.VerifiedIdentity) string {
	switch {
	case id.Kind.IsPubkey():
		return prefix(id.ExternalID, 10)
	case id.Kind.IsOAuth() && id.DisplayNameHint != "":
		return id.DisplayNameHint
	case id.Kind == model.KindEmail:
		if local, _, ok := strings.Cut(id.ExternalID, "@"); ok && local != "" {
			return local
		}
	}
	return prefix(id.ExternalID, 10)
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
