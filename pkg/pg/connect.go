package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/tokengate/pkg/httpserver"
	"github.com/dmitrymomot/tokengate/pkg/retry"
)

// Connect establishes a PostgreSQL connection pool, retrying until a ping succeeds.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.ConnectionString == "" {
		return nil, ErrEmptyConnectionString
	}

	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	var pool *pgxpool.Pool
	err = retry.Do(ctx, retry.Config{Attempts: max(cfg.RetryAttempts, 1), Interval: cfg.RetryInterval},
		func(ctx context.Context) error {
			p, err := pgxpool.NewWithConfig(ctx, poolCfg)
			if err != nil {
				return err
			}
			if err := p.Ping(ctx); err != nil {
				p.Close()
				return err
			}
			pool = p
			return nil
		})
	if err != nil {
		return nil, errors.Join(ErrConnect, err)
	}
	return pool, nil
}

func poolConfig(cfg Config) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, errors.Join(ErrInvalidDSN, err)
	}
	pc.MinConns = cfg.MaxIdleConns
	if cfg.MaxOpenConns > 0 {
		pc.MaxConns = cfg.MaxOpenConns
	}
	for dst, v := range map[*time.Duration]time.Duration{
		&pc.HealthCheckPeriod: cfg.HealthCheckPeriod,
		&pc.MaxConnIdleTime:   cfg.MaxConnIdleTime,
		&pc.MaxConnLifetime:   cfg.MaxConnLifetime,
	} {
		if v > 0 {
			*dst = v
		}
	}
	return pc, nil
}

// Check is the readiness probe for pool.
func Check(pool *pgxpool.Pool) httpserver.Check {
	return httpserver.Check{
		Name: "postgres",
		Fn: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return errors.Join(ErrUnhealthy, err)
			}
			return nil
		},
	}
}
