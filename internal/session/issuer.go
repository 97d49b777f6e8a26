package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/idcore/internal/errs"
	"github.com/and161185/idcore/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

const leeway = 30 * time.Second

// AccountGetter loads current account state for renewal.
type AccountGetter interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error)
}

// Claims are the session token claims.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens.
type Issuer struct {
	keys     Keyring
	ttl      time.Duration
	accounts AccountGetter
	now      func() time.Time
}

// NewIssuer constructs an Issuer. accounts is only used by Renew.
func NewIssuer(keys Keyring, ttl time.Duration, accounts AccountGetter) *Issuer {
	return &Issuer{keys: keys, ttl: ttl, accounts: accounts, now: time.Now}
}

// Issue creates a signed HS256 token for the account.
func (i *Issuer) Issue(acc model.Account) (model.Tokens, error) {
	if acc.ID == uuid.Nil {
		return model.Tokens{}, errors.New("issue session: nil account id")
	}
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		Name: acc.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acc.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.keys.signingKey())
	if err != nil {
		return model.Tokens{}, fmt.Errorf("sign session: %w", err)
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, nil
}

// Parse validates signature, algorithm and expiry and returns the claims.
// It never consults storage, so tokens of deleted accounts remain valid here.
func (i *Issuer) Parse(token string) (*Claims, uuid.UUID, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.keys.signingKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("%w: %v", errs.ErrInvalidSession, err)
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return nil, uuid.Nil, fmt.Errorf("%w: bad subject", errs.ErrInvalidSession)
	}
	return &claims, id, nil
}

// Verify returns the account id embedded in a valid token.
func (i *Issuer) Verify(token string) (uuid.UUID, error) {
	_, id, err := i.Parse(token)
	return id, err
}

// Renew verifies token, reloads the account and issues a fresh token from its
// current state. A deleted account yields ErrInvalidSession.
func (i *Issuer) Renew(ctx context.Context, token string) (model.Tokens, error) {
	id, err := i.Verify(token)
	if err != nil {
		return model.Tokens{}, err
	}
	acc, err := i.accounts.GetAccount(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, fmt.Errorf("%w: account gone", errs.ErrInvalidSession)
	}
	if err != nil {
		return model.Tokens{}, err
	}
	return i.Issue(*acc)
}
