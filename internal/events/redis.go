package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStreamSink appends events to a Redis stream as a single JSON field.
type RedisStreamSink struct {
	rdb    redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisStreamSink constructs a sink writing to stream, trimmed approximately to maxLen.
func NewRedisStreamSink(rdb redis.UniversalClient, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{rdb: rdb, stream: stream, maxLen: maxLen}
}

// Handle implements Sink.
func (s *RedisStreamSink) Handle(ctx context.Context, ev AccountCreated) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"type": "account_created", "payload": string(payload)},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
