package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/dmitrymomot/tokengate/pkg/httpserver"
	"github.com/dmitrymomot/tokengate/pkg/retry"
)

func clientOptions(cfg Config) *options.ClientOptions {
	return options.Client().
		ApplyURI(cfg.ConnectionURL).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize).
		SetMaxConnIdleTime(cfg.MaxConnIdleTime).
		SetRetryWrites(cfg.RetryWrites).
		SetRetryReads(cfg.RetryReads)
}

// New connects to cfg.ConnectionURL and returns once the primary answers a ping.
func New(ctx context.Context, cfg Config) (*mongo.Client, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyConnectionURL
	}
	opts := clientOptions(cfg)

	var client *mongo.Client
	attempt := func(ctx context.Context) error {
		c, err := mongo.Connect(opts)
		if err != nil {
			return err
		}
		if err := c.Ping(ctx, readpref.Primary()); err != nil {
			_ = c.Disconnect(context.WithoutCancel(ctx))
			return err
		}
		client = c
		return nil
	}
	rc := retry.Config{Attempts: max(cfg.RetryAttempts, 1), Interval: cfg.RetryInterval}
	if err := retry.Do(ctx, rc, attempt); err != nil {
		return nil, errors.Join(ErrConnect, err)
	}
	return client, nil
}

// NewWithDatabase is New followed by selecting cfg.Database.
func NewWithDatabase(ctx context.Context, cfg Config) (*mongo.Database, error) {
	client, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return client.Database(cfg.Database), nil
}

// Check is the readiness probe for client.
func Check(client *mongo.Client) httpserver.Check {
	return httpserver.Check{
		Name: "mongo",
		Fn: func(ctx context.Context) error {
			if err := client.Ping(ctx, readpref.Primary()); err != nil {
				return errors.Join(ErrUnhealthy, err)
			}
			return nil
		},
	}
}
