package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/tokengate/pkg/config"
	"github.com/dmitrymomot/tokengate/pkg/entitlement"
	"github.com/dmitrymomot/tokengate/pkg/entitlement/mongostore"
	"github.com/dmitrymomot/tokengate/pkg/entitlement/pgstore"
	"github.com/dmitrymomot/tokengate/pkg/fingerprint"
	"github.com/dmitrymomot/tokengate/pkg/httpserver"
	"github.com/dmitrymomot/tokengate/pkg/idempotency"
	"github.com/dmitrymomot/tokengate/pkg/logger"
	pkgmongo "github.com/dmitrymomot/tokengate/pkg/mongo"
	"github.com/dmitrymomot/tokengate/pkg/pg"
	"github.com/dmitrymomot/tokengate/pkg/redis"
	"github.com/dmitrymomot/tokengate/pkg/requestid"
)

const (
	driverMemory   = "memory"
	driverPostgres = "postgres"
	driverMongo    = "mongo"
	driverRedis    = "redis"
)

var ErrUnknownDriver = errors.New("unknown driver")

type AppConfig struct {
	Env          string        `env:"APP_ENV" envDefault:"development"`
	Name         string        `env:"APP_NAME" envDefault:"tokengate"`
	StoreDriver  string        `env:"STORE_DRIVER" envDefault:"memory"`
	LedgerDriver string        `env:"LEDGER_DRIVER" envDefault:"memory"`
	LedgerTTL    time.Duration `env:"LEDGER_TTL" envDefault:"168h"`
}

type app struct {
	cfg    AppConfig
	log    *slog.Logger
	store  entitlement.Store
	ledger idempotency.Ledger
	checks []httpserver.Check

	pool    *pgxpool.Pool
	mongoDB *mongo.Database
	redis   *goredis.Client
}

func wireApp(ctx context.Context) (*app, error) {
	var cfg AppConfig
	if err := config.Load(&cfg); err != nil {
		return nil, fmt.Errorf("load app config: %w", err)
	}

	a := &app{
		cfg: cfg,
		log: logger.New(
			logger.WithEnvironment(cfg.Env, cfg.Name),
			logger.WithOutput(os.Stderr),
			logger.WithContextExtractors(
				requestid.LoggerExtractor(),
				logger.AccountIDExtractor(),
				fingerprint.LoggerExtractor(),
			),
		),
	}

	if err := a.wireStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wireLedger(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wireStore(ctx context.Context) error {
	switch a.cfg.StoreDriver {
	case driverMemory, "":
		a.log.Warn("using in-memory entitlement store, state is lost on restart")
		a.store = entitlement.NewMemoryStore()
	case driverPostgres:
		pool, err := a.postgres(ctx)
		if err != nil {
			return err
		}
		a.store = pgstore.New(pool)
	case driverMongo:
		db, err := a.mongo(ctx)
		if err != nil {
			return err
		}
		store := mongostore.New(db)
		if err := store.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("mongo indexes: %w", err)
		}
		a.store = store
	default:
		return fmt.Errorf("%w: STORE_DRIVER=%s", ErrUnknownDriver, a.cfg.StoreDriver)
	}
	return nil
}

func (a *app) wireLedger(ctx context.Context) error {
	switch a.cfg.LedgerDriver {
	case driverMemory, "":
		a.ledger = idempotency.NewMemoryLedger(a.cfg.LedgerTTL)
	case driverRedis:
		client, err := a.redisClient(ctx)
		if err != nil {
			return err
		}
		var rcfg redis.Config
		if err := config.Load(&rcfg); err != nil {
			return fmt.Errorf("load redis config: %w", err)
		}
		a.ledger = idempotency.NewRedisLedger(client, rcfg.KeyPrefix, a.cfg.LedgerTTL)
	case driverPostgres:
		pool, err := a.postgres(ctx)
		if err != nil {
			return err
		}
		a.ledger = pgstore.NewLedger(pool, a.cfg.LedgerTTL)
	case driverMongo:
		db, err := a.mongo(ctx)
		if err != nil {
			return err
		}
		ledger := mongostore.NewLedger(db, a.cfg.LedgerTTL)
		if err := ledger.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("mongo ledger indexes: %w", err)
		}
		a.ledger = ledger
	default:
		return fmt.Errorf("%w: LEDGER_DRIVER=%s", ErrUnknownDriver, a.cfg.LedgerDriver)
	}
	return nil
}

func (a *app) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	var cfg pg.Config
	if err := config.Load(&cfg); err != nil {
		return nil, fmt.Errorf("load postgres config: %w", err)
	}
	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.checks = append(a.checks, pg.Check(pool))
	return pool, nil
}

func (a *app) mongo(ctx context.Context) (*mongo.Database, error) {
	if a.mongoDB != nil {
		return a.mongoDB, nil
	}
	var cfg pkgmongo.Config
	if err := config.Load(&cfg); err != nil {
		return nil, fmt.Errorf("load mongo config: %w", err)
	}
	db, err := pkgmongo.NewWithDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.mongoDB = db
	a.checks = append(a.checks, pkgmongo.Check(db.Client()))
	return db, nil
}

func (a *app) redisClient(ctx context.Context) (*goredis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	var cfg redis.Config
	if err := config.Load(&cfg); err != nil {
		return nil, fmt.Errorf("load redis config: %w", err)
	}
	client, err := redis.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.checks = append(a.checks, redis.Check(client))
	return client, nil
}

// Close releases every connection opened by wireApp.
func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.mongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.mongoDB.Client().Disconnect(ctx); err != nil {
			a.log.Warn("mongo disconnect failed", logger.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis close failed", logger.Error(err))
		}
	}
}
