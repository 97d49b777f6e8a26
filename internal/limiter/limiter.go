// Package limiter defines the rate-limit hook consulted before authentication attempts.
package limiter

import (
	"context"
	"time"
)

// Limiter tracks failed attempts per (scope, client) and places temporary lockouts.
// Scope names the guarded operation, e.g. "challenge" or "login".
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and an optional retry-after.
	Allow(ctx context.Context, scope string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful attempt.
	Success(ctx context.Context, scope string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, scope string, ipHash []byte) (bool, time.Duration, error)
}

// Nop allows everything.
type Nop struct{}

// Allow always allows.
func (Nop) Allow(context.Context, string, []byte) (bool, time.Duration, error) { return true, 0, nil }

// Success does nothing.
func (Nop) Success(context.Context, string, []byte) error { return nil }

// Failure never blocks.
func (Nop) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	return false, 0, nil
}
