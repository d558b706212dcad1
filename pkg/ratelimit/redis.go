package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window counter shared by every instance using the same Redis.
type Redis struct {
	client redis.Cmdable
	prefix string
	limit  int
	window time.Duration
}

// NewRedis creates a limiter admitting cfg.Burst requests per cfg.Window().
func NewRedis(client redis.Cmdable, prefix string, cfg Config) (*Redis, error) {
	if client == nil {
		return nil, ErrStoreRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	window := cfg.Window()
	if window <= 0 {
		return nil, ErrInvalidInterval
	}
	return &Redis{
		client: client,
		prefix: prefix + "ratelimit:",
		limit:  cfg.Burst,
		window: window,
	}, nil
}

func (l *Redis) Allow(ctx context.Context, key string) (*Result, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}
	k := l.prefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		ttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis: %w", err)
	}

	remainingTTL := ttl.Val()
	if remainingTTL < 0 {
		if err := l.client.PExpire(ctx, k, l.window).Err(); err != nil {
			return nil, fmt.Errorf("ratelimit: redis expire: %w", err)
		}
		remainingTTL = l.window
	}

	count := int(incr.Val())
	res := &Result{
		Allowed: count <= l.limit,
		Limit:   l.limit,
		ResetAt: time.Now().Add(remainingTTL),
	}
	if res.Allowed {
		res.Remaining = l.limit - count
	}
	return res, nil
}
