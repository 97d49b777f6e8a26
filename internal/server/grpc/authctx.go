package grpcserver

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

type ctxKey string

const (
	accountIDKey ctxKey = "idcore.accountID"
	tokenKey     ctxKey = "idcore.token"
)

// WithAccountID stores the authenticated account ID and its bearer token in context.
func WithAccountID(ctx context.Context, id uuid.UUID, token string) context.Context {
	ctx = context.WithValue(ctx, accountIDKey, id)
	return context.WithValue(ctx, tokenKey, token)
}

// AccountIDFromCtx fetches the account ID from context.
func AccountIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	v := ctx.Value(accountIDKey)
	if v == nil {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// TokenFromCtx fetches the bearer token that authenticated the call.
func TokenFromCtx(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(tokenKey).(string)
	return tok, ok && tok != ""
}
