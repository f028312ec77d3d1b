package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis keeps one sorted set per key, scored by failure time in
// microseconds, so every instance sharing the server sees the same counts.
type Redis struct {
	client redis.UniversalClient
	prefix string
	cfg    Config
	now    func() time.Time
}

func NewRedis(client redis.UniversalClient, prefix string, cfg Config) *Redis {
	if prefix == "" {
		prefix = "garagedesk:rl:"
	}
	return &Redis{client: client, prefix: prefix, cfg: cfg.withDefaults(), now: time.Now}
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Allow(ctx context.Context, key string) (Result, error) {
	now := r.now()
	cutoff := now.Add(-r.cfg.Window).UnixMicro()
	k := r.key(key)

	var (
		card   *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff, 10))
		card = pipe.ZCard(ctx, k)
		oldest = pipe.ZRangeWithScores(ctx, k, 0, 0)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check: %w", err)
	}

	var first time.Time
	if zs := oldest.Val(); len(zs) > 0 {
		first = time.UnixMicro(int64(zs[0].Score))
	}
	return result(r.cfg.Limit, int(card.Val()), first, r.cfg.Window, now), nil
}

func (r *Redis) RecordFailure(ctx context.Context, key string) error {
	now := r.now()
	k := r.key(key)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, k, redis.Z{
			Score:  float64(now.UnixMicro()),
			Member: strconv.FormatInt(now.UnixNano(), 36) + "-" + uuid.NewString(),
		})
		pipe.PExpire(ctx, k, r.cfg.Window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rate limit record: %w", err)
	}
	return nil
}

func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("rate limit reset: %w", err)
	}
	return nil
}
