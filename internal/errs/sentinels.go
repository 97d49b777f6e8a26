// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrChallengeExpiredOrReused indicates the k1 (or magic-link token) is unknown,
	// expired or already consumed. The flow must be restarted with a fresh challenge.
	ErrChallengeExpiredOrReused = errors.New("challenge expired or reused")

	// ErrAccountNotLinked indicates the presented identity belongs to a different
	// account than the one currently signed in.
	ErrAccountNotLinked = errors.New("account not linked")

	// ErrProviderVerificationFailed indicates the credential did not check out
	// against its challenge binding or provider response.
	ErrProviderVerificationFailed = errors.New("provider verification failed")

	// ErrMalformedCredential indicates a structurally invalid credential.
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrUniquenessViolation indicates (kind, external_id) was claimed concurrently.
	ErrUniquenessViolation = errors.New("uniqueness violation")

	// ErrStorageTimeout indicates a storage call exceeded its deadline. Retryable.
	ErrStorageTimeout = errors.New("storage timeout")

	// ErrInvalidSession indicates a session token that failed signature or expiry checks.
	ErrInvalidSession = errors.New("invalid session")

	// ErrRateLimited indicates temporary lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")
)
