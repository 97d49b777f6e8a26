// Package redis contains a Redis implementation of the challenge repository.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/and161185/idcore/internal/errs"
	"github.com/and161185/idcore/internal/model"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "idcore:k1:"

// bindScript sets kind and pubkey on a live hash unless another key already holds it.
var bindScript = redis.NewScript(`
local pk = redis.call('HGET', KEYS[1], 'pubkey')
if not pk then return 0 end
if pk ~= '' and (pk ~= ARGV[2] or redis.call('HGET', KEYS[1], 'kind') ~= ARGV[1]) then return 0 end
redis.call('HSET', KEYS[1], 'kind', ARGV[1], 'pubkey', ARGV[2])
return 1
`)

// ChallengeRepo stores challenges as hashes that expire with the challenge TTL.
type ChallengeRepo struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewChallengeRepo constructs a Redis challenge repository. Keys expire after ttl.
func NewChallengeRepo(rdb redis.UniversalClient, ttl time.Duration) *ChallengeRepo {
	return &ChallengeRepo{rdb: rdb, ttl: ttl}
}

// NewClient parses url, connects and pings.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", mapErr(err))
	}
	return client, nil
}

// Create stores an unbound challenge.
func (r *ChallengeRepo) Create(ctx context.Context, c model.Challenge) error {
	key := keyPrefix + c.K1
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "kind", "", "pubkey", "", "created_at", strconv.FormatInt(c.CreatedAt.UnixNano(), 10))
		p.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create challenge: %w", mapErr(err))
	}
	return nil
}

// Bind attaches a signer key to a live challenge. Rebinding the same key is a no-op.
func (r *ChallengeRepo) Bind(ctx context.Context, k1 string, kind model.Kind, pubkey string, _ time.Duration) error {
	n, err := bindScript.Run(ctx, r.rdb, []string{keyPrefix + k1}, string(kind), pubkey).Int()
	if err != nil {
		return fmt.Errorf("bind challenge: %w", mapErr(err))
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Consume reads and deletes the hash in one MULTI/EXEC block.
func (r *ChallengeRepo) Consume(ctx context.Context, k1 string, ttl time.Duration) (model.Challenge, bool, error) {
	key := keyPrefix + k1
	var get *redis.MapStringStringCmd
	var del *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		get = p.HGetAll(ctx, key)
		del = p.Del(ctx, key)
		return nil
	})
	if err != nil {
		return model.Challenge{}, false, fmt.Errorf("consume challenge: %w", mapErr(err))
	}
	if del.Val() == 0 {
		return model.Challenge{}, false, nil
	}

	fields := get.Val()
	nanos, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return model.Challenge{}, false, fmt.Errorf("consume challenge: bad created_at: %w", err)
	}
	c := model.Challenge{
		K1:        k1,
		Kind:      model.Kind(fields["kind"]),
		Pubkey:    fields["pubkey"],
		CreatedAt: time.Unix(0, nanos),
	}
	if ttl > 0 && time.Since(c.CreatedAt) >= ttl {
		return model.Challenge{}, false, nil
	}
	return c, true, nil
}

// DeleteExpired is a no-op; Redis evicts keys on expiry.
func (r *ChallengeRepo) DeleteExpired(context.Context, time.Duration) (int64, error) { return 0, nil }

func mapErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", errs.ErrStorageTimeout, err)
	}
	return err
}
