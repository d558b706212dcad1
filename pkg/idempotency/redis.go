package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger stores processed ids as keys with an expiry, shared by every
// instance of the service.
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisLedger(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLedger {
	if client == nil {
		panic("idempotency: redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLedger{client: client, prefix: prefix + "webhook:event:", ttl: ttl}
}

func (l *RedisLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, ErrEmptyEventID
	}
	n, err := l.client.Exists(ctx, l.prefix+eventID).Result()
	if err != nil {
		return false, errors.Join(ErrLedgerUnavailable, err)
	}
	return n > 0, nil
}

func (l *RedisLedger) Mark(ctx context.Context, eventID string) error {
	if eventID == "" {
		return ErrEmptyEventID
	}
	err := l.client.SetNX(ctx, l.prefix+eventID, time.Now().UTC().Format(time.RFC3339), l.ttl).Err()
	if err != nil {
		return errors.Join(ErrLedgerUnavailable, err)
	}
	return nil
}

var _ Ledger = (*RedisLedger)(nil)
