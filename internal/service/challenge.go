package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/and161185/idcore/internal/errs"
	"github.com/and161185/idcore/internal/metrics"
	"github.com/and161185/idcore/internal/model"
	"github.com/and161185/idcore/internal/repository"
	"go.uber.org/zap"
)

// DefaultChallengeTTL is how long an issued k1 stays answerable.
const DefaultChallengeTTL = 5 * time.Minute

// ChallengeStore issues and consumes single-use k1 challenges.
type ChallengeStore struct {
	repo    repository.ChallengeRepository
	ttl     time.Duration
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
}

// NewChallengeStore constructs a ChallengeStore over repo.
func NewChallengeStore(repo repository.ChallengeRepository, ttl, timeout time.Duration, log *zap.Logger) *ChallengeStore {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &ChallengeStore{repo: repo, ttl: ttl, timeout: timeout, log: log, now: time.Now}
}

// TTL returns the challenge lifetime.
func (s *ChallengeStore) TTL() time.Duration { return s.ttl }

// Issue creates a fresh 32-byte k1.
func (s *ChallengeStore) Issue(ctx context.Context) (model.Challenge, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return model.Challenge{}, err
	}
	c := model.Challenge{K1: hex.EncodeToString(b), CreatedAt: s.now()}
	if err := withTimeout(ctx, s.timeout, func(ctx context.Context) error {
		return s.repo.Create(ctx, c)
	}); err != nil {
		return model.Challenge{}, err
	}
	metrics.ChallengesIssued.Inc()
	return c, nil
}

// Bind records which key signed k1. The signature itself is checked by the caller.
func (s *ChallengeStore) Bind(ctx context.Context, k1 string, kind model.Kind, pubkey string) error {
	err := withTimeout(ctx, s.timeout, func(ctx context.Context) error {
		return s.repo.Bind(ctx, k1, kind, pubkey, s.ttl)
	})
	if errors.Is(err, errs.ErrNotFound) {
		return errs.ErrChallengeExpiredOrReused
	}
	return err
}

// Consume atomically removes k1 and returns it. found is false for unknown,
// expired or already consumed challenges. Never retried.
func (s *ChallengeStore) Consume(ctx context.Context, k1 string) (model.Challenge, bool, error) {
	var (
		c     model.Challenge
		found bool
	)
	err := withTimeout(ctx, s.timeout, func(ctx context.Context) error {
		var err error
		c, found, err = s.repo.Consume(ctx, k1, s.ttl)
		return err
	})
	return c, found, err
}

// Sweep evicts expired challenges.
func (s *ChallengeStore) Sweep(ctx context.Context) (int64, error) {
	var n int64
	err := withTimeout(ctx, s.timeout, func(ctx context.Context) error {
		var err error
		n, err = s.repo.DeleteExpired(ctx, s.ttl)
		return err
	})
	return n, err
}

// Sweeper is anything with expired rows to evict.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// RunSweeper calls each sweeper every interval until ctx is done.
func RunSweeper(ctx context.Context, log *zap.Logger, every time.Duration, sweepers ...Sweeper) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, sw := range sweepers {
				n, err := sw.Sweep(ctx)
				if err != nil {
					log.Warn("sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					metrics.ChallengesSwept.Add(float64(n))
					log.Debug("swept expired rows", zap.Int64("count", n))
				}
			}
		}
	}
}
