package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/tokengate/pkg/httpserver"
	"github.com/dmitrymomot/tokengate/pkg/retry"
)

var (
	ErrEmptyConnectionURL = errors.New("redis: connection URL is empty")
	ErrInvalidURL         = errors.New("redis: invalid connection URL")
	ErrNotReady           = errors.New("redis: server did not answer before the connect timeout")
	ErrUnhealthy          = errors.New("redis: ping failed")
)

// Connect parses cfg.ConnectionURL and pings the server until it answers,
// up to cfg.RetryAttempts times within cfg.ConnectTimeout.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyConnectionURL
	}

	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrInvalidURL, err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var client *redis.Client
	err = retry.Do(ctx, retry.Config{Attempts: max(cfg.RetryAttempts, 1), Interval: cfg.RetryInterval},
		func(ctx context.Context) error {
			c := redis.NewClient(opts)
			if err := c.Ping(ctx).Err(); err != nil {
				_ = c.Close()
				return err
			}
			client = c
			return nil
		})
	if err != nil {
		return nil, errors.Join(ErrNotReady, err)
	}
	return client, nil
}

// Check is the readiness probe for client.
func Check(client redis.UniversalClient) httpserver.Check {
	return httpserver.Check{
		Name: "redis",
		Fn: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return errors.Join(ErrUnhealthy, err)
			}
			return nil
		},
	}
}
