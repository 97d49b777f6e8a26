// Package service contains the authentication application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/and161185/idcore/internal/errs"
	"github.com/and161185/idcore/internal/events"
	"github.com/and161185/idcore/internal/limiter"
	"github.com/and161185/idcore/internal/metrics"
	"github.com/and161185/idcore/internal/model"
	"github.com/and161185/idcore/internal/repository"
	"github.com/and161185/idcore/internal/session"
	"github.com/and161185/idcore/internal/sigcheck"
	"github.com/and161185/idcore/internal/verifier"
	"github.com/gofrs/uuid/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// createdAtSkew tolerates clock drift between this process and the database
// when matching an account's created_at against a request.
const createdAtSkew = time.Second

// Limiter scopes.
const (
	ScopeLogin = "login"
	ScopeEmail = "email"
)

// AuthService defines the sign-in flows and session operations.
type AuthService interface {
	// IssueChallenge creates a k1 for a pubkey sign-in.
	IssueChallenge(ctx context.Context, ip string) (model.Challenge, error)
	// AnswerChallenge checks a wallet signature over k1 and binds the signer key to it.
	AnswerChallenge(ctx context.Context, kind model.Kind, k1, sig, key string) error
	// StartEmail issues a magic link and hands it to the mailer. A valid
	// sessionToken ties the link to that account so it may be linked.
	StartEmail(ctx context.Context, email, ip, sessionToken string) error
	// Authenticate verifies a credential, resolves the account and mints a session.
	Authenticate(ctx context.Context, req AuthRequest) (AuthResult, error)
	// WhoAmI loads the account behind a session token.
	WhoAmI(ctx context.Context, token string) (model.Account, []model.ExternalIdentity, error)
	// Renew reissues a session from current account state.
	Renew(ctx context.Context, token string) (model.Tokens, error)
	// Session validates a token without touching storage.
	Session(token string) (*session.Claims, uuid.UUID, error)
	// DeleteAccount removes the signed-in account and its identities.
	DeleteAccount(ctx context.Context, token string) error
}

// AuthRequest is one sign-in attempt.
type AuthRequest struct {
	Credential verifier.Credential
	// SessionToken is the caller's current session, if any. Invalid tokens are ignored.
	SessionToken string
	IP           string
	// Referrer is forwarded on the account-created event.
	Referrer string
}

// AuthResult is a successful sign-in.
type AuthResult struct {
	Account model.Account
	Outcome Outcome
	Tokens  model.Tokens
}

// AuthDeps groups the collaborators of AuthServiceImpl.
type AuthDeps struct {
	Challenges *ChallengeStore
	Emails     *EmailTokens
	Mailer     Mailer
	Accounts   repository.AccountRepository
	Sessions   *session.Issuer
	Limiter    limiter.Limiter
	Events     events.Publisher
	Log        *zap.Logger

	// EmailBaseURL is the public origin used to build magic links.
	EmailBaseURL string
	// StorageTimeout bounds each storage round trip.
	StorageTimeout time.Duration
	// ResolveAttempts caps resolution attempts on storage timeouts.
	ResolveAttempts uint64
}

type AuthServiceImpl struct {
	challenges *ChallengeStore
	emails     *EmailTokens
	mailer     Mailer
	accounts   repository.AccountRepository
	verifier   *verifier.Verifier
	resolver   *Resolver
	sessions   *session.Issuer
	lim        limiter.Limiter
	events     events.Publisher
	checkers   map[model.Kind]sigcheck.Checker
	log        *zap.Logger

	emailBase string
	timeout   time.Duration
	attempts  uint64
	backoff   time.Duration
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(d AuthDeps) *AuthServiceImpl {
	if d.Limiter == nil {
		d.Limiter = limiter.Nop{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.ResolveAttempts == 0 {
		d.ResolveAttempts = 3
	}
	return &AuthServiceImpl{
		challenges: d.Challenges,
		emails:     d.Emails,
		mailer:     d.Mailer,
		accounts:   d.Accounts,
		verifier:   verifier.New(d.Challenges, d.Emails),
		resolver:   NewResolver(d.Accounts, d.Log),
		sessions:   d.Sessions,
		lim:        d.Limiter,
		events:     d.Events,
		checkers: map[model.Kind]sigcheck.Checker{
			model.KindLightning: sigcheck.LNURL{},
			model.KindSlashtags: sigcheck.Slashtags{},
		},
		log:       d.Log,
		emailBase: d.EmailBaseURL,
		timeout:   d.StorageTimeout,
		attempts:  d.ResolveAttempts,
		backoff:   50 * time.Millisecond,
	}
}

// IssueChallenge rejects clients under lockout and issues a fresh k1.
func (s *AuthServiceImpl) IssueChallenge(ctx context.Context, ip string) (model.Challenge, error) {
	if err := s.allow(ctx, ScopeLogin, ip); err != nil {
		return model.Challenge{}, err
	}
	return s.challenges.Issue(ctx)
}

// AnswerChallenge verifies sig by key over k1 and binds key to the challenge.
func (s *AuthServiceImpl) AnswerChallenge(ctx context.Context, kind model.Kind, k1, sig, key string) error {
	checker, ok := s.checkers[kind]
	if !ok {
		return fmt.Errorf("%w: %q is not a pubkey kind", errs.ErrMalformedCredential, kind)
	}
	pub, err := verifier.NormalizePubkey(key)
	if err != nil {
		return err
	}
	if err := checker.Check(k1, sig, pub); err != nil {
		s.log.Info("challenge signature rejected", zap.String("kind", string(kind)), zap.Error(err))
		return err
	}
	return s.challenges.Bind(ctx, k1, kind, pub)
}

// StartEmail issues a magic link for email.
func (s *AuthServiceImpl) StartEmail(ctx context.Context, email, ip, sessionToken string) error {
	if err := s.allow(ctx, ScopeEmail, ip); err != nil {
		return err
	}
	var requestedBy uuid.NullUUID
	if sessionToken != "" {
		if id, err := s.sessions.Verify(sessionToken); err == nil {
			requestedBy = uuid.NullUUID{UUID: id, Valid: true}
		}
	}
	token, err := s.emails.Issue(ctx, email, requestedBy)
	if err != nil {
		return err
	}
	addr, _ := NormalizeEmail(email)
	link := s.emailBase + "/auth/email/callback?token=" + url.QueryEscape(token)
	return withTimeout(ctx, s.timeout, func(ctx context.Context) error {
		return s.mailer.SendMagicLink(ctx, addr, link)
	})
}

// Authenticate runs verify, resolve and issue. Credential consumption is never
// retried; resolution is retried with backoff on storage timeouts.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, req AuthRequest) (AuthResult, error) {
	start := time.Now()
	kind := credentialKind(req.Credential)

	res, err := s.authenticate(ctx, req)
	if err != nil {
		metrics.RecordAuth(kind, resultLabel(err), time.Since(start))
		return AuthResult{}, err
	}
	metrics.RecordAuth(kind, string(res.Outcome), time.Since(start))
	return res, nil
}

func (s *AuthServiceImpl) authenticate(ctx context.Context, req AuthRequest) (AuthResult, error) {
	if err := s.allow(ctx, ScopeLogin, req.IP); err != nil {
		return AuthResult{}, err
	}
	ipHash := limiter.HashIP(req.IP)

	var current *uuid.UUID
	if req.SessionToken != "" {
		if id, err := s.sessions.Verify(req.SessionToken); err == nil {
			current = &id
		}
	}

	identity, err := s.verifier.Verify(ctx, req.Credential)
	if err != nil {
		if isCredentialFailure(err) {
			if blocked, _, ferr := s.lim.Failure(ctx, ScopeLogin, ipHash); ferr == nil && blocked {
				s.log.Info("client locked out", zap.String("scope", ScopeLogin))
			}
		}
		return AuthResult{}, err
	}
	if identity.Kind == model.KindEmail && current != nil &&
		(!identity.RequestedBy.Valid || identity.RequestedBy.UUID != *current) {
		s.log.Info("magic link not requested by this session, signing in without linking",
			zap.Stringer("current", current))
		current = nil
	}

	res, err := s.resolve(ctx, identity, current)
	if err != nil {
		if errors.Is(err, errs.ErrAccountNotLinked) {
			s.log.Info("identity owned by another account",
				zap.String("kind", string(identity.Kind)), zap.Stringer("current", current))
		}
		return AuthResult{}, err
	}
	_ = s.lim.Success(ctx, ScopeLogin, ipHash)

	tokens, err := s.sessions.Issue(res.Account)
	if err != nil {
		return AuthResult{}, err
	}

	if res.Outcome == OutcomeCreated && s.events != nil {
		s.events.Publish(events.AccountCreated{
			AccountID:   res.Account.ID.String(),
			Kind:        string(identity.Kind),
			DisplayName: res.Account.DisplayName,
			Email:       identity.Email,
			Referrer:    req.Referrer,
			CreatedAt:   res.Account.CreatedAt,
		})
	}
	s.log.Debug("authenticated",
		zap.String("account_id", res.Account.ID.String()),
		zap.String("kind", string(identity.Kind)),
		zap.String("outcome", string(res.Outcome)))
	return AuthResult{Account: res.Account, Outcome: res.Outcome, Tokens: tokens}, nil
}

// resolve retries resolution on storage timeouts. A timed-out attempt may
// still have committed its create; a retry that then finds an account created
// since the first attempt started reports it as created.
func (s *AuthServiceImpl) resolve(ctx context.Context, id model.VerifiedIdentity, current *uuid.UUID) (Resolution, error) {
	var (
		res      Resolution
		timedOut bool
	)
	since := time.Now().Add(-createdAtSkew)
	b := retry.WithMaxRetries(s.attempts-1, retry.NewExponential(s.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := withTimeout(ctx, s.timeout, func(ctx context.Context) error {
			var err error
			res, err = s.resolver.Resolve(ctx, id, current)
			return err
		})
		if errors.Is(err, errs.ErrStorageTimeout) {
			timedOut = true
			s.log.Warn("resolve timed out, retrying", zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil && timedOut && current == nil && res.Outcome == OutcomeAuthenticated &&
		!res.Account.CreatedAt.Before(since) {
		s.log.Info("account committed by a timed-out attempt",
			zap.String("account_id", res.Account.ID.String()))
		res.Outcome = OutcomeCreated
	}
	return res, err
}

// WhoAmI returns the account behind token. A deleted account yields ErrInvalidSession.
func (s *AuthServiceImpl) WhoAmI(ctx context.Context, token string) (model.Account, []model.ExternalIdentity, error) {
	id, err := s.sessions.Verify(token)
	if err != nil {
		return model.Account{}, nil, err
	}
	var (
		acc *model.Account
		ids []model.ExternalIdentity
	)
	err = withTimeout(ctx, s.timeout, func(ctx context.Context) error {
		var err error
		if acc, err = s.accounts.GetAccount(ctx, id); err != nil {
			return err
		}
		ids, err = s.accounts.ListIdentities(ctx, id)
		return err
	})
	if errors.Is(err, errs.ErrNotFound) {
		return model.Account{}, nil, fmt.Errorf("%w: account gone", errs.ErrInvalidSession)
	}
	if err != nil {
		return model.Account{}, nil, err
	}
	return *acc, ids, nil
}

// Renew reissues token from stored account state.
func (s *AuthServiceImpl) Renew(ctx context.Context, token string) (model.Tokens, error) {
	var tokens model.Tokens
	err := withTimeout(ctx, s.timeout, func(ctx context.Context) error {
		var err error
		tokens, err = s.sessions.Renew(ctx, token)
		return err
	})
	return tokens, err
}

// Session validates token statelessly.
func (s *AuthServiceImpl) Session(token string) (*session.Claims, uuid.UUID, error) {
	return s.sessions.Parse(token)
}

// DeleteAccount removes the account behind token.
func (s *AuthServiceImpl) DeleteAccount(ctx context.Context, token string) error {
	id, err := s.sessions.Verify(token)
	if err != nil {
		return err
	}
	return withTimeout(ctx, s.timeout, func(ctx context.Context) error {
		return s.accounts.DeleteAccount(ctx, id)
	})
}

// allow consults the limiter. Limiter errors fail open.
func (s *AuthServiceImpl) allow(ctx context.Context, scope, ip string) error {
	ok, retryAfter, err := s.lim.Allow(ctx, scope, limiter.HashIP(ip))
	if err != nil {
		s.log.Warn("limiter unavailable", zap.String("scope", scope), zap.Error(err))
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: retry after %s", errs.ErrRateLimited, retryAfter.Round(time.Second))
	}
	return nil
}

func isCredentialFailure(err error) bool {
	return errors.Is(err, errs.ErrProviderVerificationFailed) ||
		errors.Is(err, errs.ErrMalformedCredential) ||
		errors.Is(err, errs.ErrChallengeExpiredOrReused)
}

func credentialKind(c verifier.Credential) string {
	switch c := c.(type) {
	case verifier.LightningCredential:
		return string(model.KindLightning)
	case verifier.SlashtagsCredential:
		return string(model.KindSlashtags)
	case verifier.OAuthCredential:
		return string(model.OAuthKind(c.Profile.Provider))
	case verifier.EmailCredential:
		return string(model.KindEmail)
	default:
		return "unknown"
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, errs.ErrChallengeExpiredOrReused):
		return metrics.ResultExpired
	case errors.Is(err, errs.ErrAccountNotLinked):
		return metrics.ResultNotLinked
	case errors.Is(err, errs.ErrProviderVerificationFailed):
		return metrics.ResultRejected
	case errors.Is(err, errs.ErrMalformedCredential):
		return metrics.ResultMalformed
	case errors.Is(err, errs.ErrRateLimited):
		return metrics.ResultRateLimited
	case errors.Is(err, errs.ErrStorageTimeout):
		return metrics.ResultTimeout
	default:
		return metrics.ResultError
	}
}

var _ AuthService = (*AuthServiceImpl)(nil)
