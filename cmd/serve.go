package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/tokengate/pkg/billing"
	"github.com/dmitrymomot/tokengate/pkg/config"
	"github.com/dmitrymomot/tokengate/pkg/entitlement"
	"github.com/dmitrymomot/tokengate/pkg/generator"
	"github.com/dmitrymomot/tokengate/pkg/httpserver"
	"github.com/dmitrymomot/tokengate/pkg/identity"
	"github.com/dmitrymomot/tokengate/pkg/logger"
	"github.com/dmitrymomot/tokengate/pkg/metrics"
	"github.com/dmitrymomot/tokengate/pkg/ratelimit"
	"github.com/dmitrymomot/tokengate/pkg/redis"
	"github.com/dmitrymomot/tokengate/pkg/retry"
	"github.com/dmitrymomot/tokengate/svc/account"
	"github.com/dmitrymomot/tokengate/svc/api"
	"github.com/dmitrymomot/tokengate/svc/checkout"
	"github.com/dmitrymomot/tokengate/svc/generation"
	"github.com/dmitrymomot/tokengate/svc/metering"
	"github.com/dmitrymomot/tokengate/svc/reconciler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  withApp(runServe),
	}
}

func runServe(cmd *cobra.Command, a *app, _ []string) error {
	ctx := cmd.Context()

	var (
		policy   entitlement.Policy
		retryCfg retry.Config
		authCfg  identity.Config
		httpCfg  httpserver.Config
	)
	if err := errors.Join(
		config.Load(&policy),
		config.Load(&retryCfg),
		config.Load(&authCfg),
		config.Load(&httpCfg),
	); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := retryCfg.Validate(); err != nil {
		return err
	}

	auth, err := identity.NewJWTAuthenticator(authCfg)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	m := metrics.New()
	provider, checkoutCfg := a.billing()
	gen, err := a.generator()
	if err != nil {
		return err
	}
	limiter, limitKey, err := a.limiter(cmd)
	if err != nil {
		return err
	}

	meter := metering.NewService(a.store, policy,
		metering.WithLogger(a.log),
		metering.WithMetrics(m),
		metering.WithRetry(retryCfg),
	)

	handler := api.New(api.Deps{
		Checkout: checkout.NewIssuer(provider, checkoutCfg,
			checkout.WithLogger(a.log),
			checkout.WithMetrics(m),
		),
		Reconciler: reconciler.New(a.store, provider, a.ledger,
			reconciler.WithLogger(a.log),
			reconciler.WithMetrics(m),
			reconciler.WithRetry(retryCfg),
		),
		Accounts: account.NewService(a.store, a.log),
		Metering: meter,
		Generation: generation.NewService(meter, gen,
			generation.WithLogger(a.log),
			generation.WithMetrics(m),
		),
		Auth: auth,
	},
		api.WithLogger(a.log),
		api.WithMetrics(m),
		api.WithCheckoutLimiter(limiter, limitKey),
		api.WithHealthChecks(a.checks...),
	)

	srv := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(a.log))
	return srv.Run(ctx, handler)
}

// billing returns the payment provider, or billing.Disabled when its
// configuration is incomplete. The service still starts in that case so that
// usage endpoints keep working.
func (a *app) billing() (billing.Provider, checkout.Config) {
	var (
		paddleCfg   billing.PaddleConfig
		checkoutCfg checkout.Config
	)
	err := errors.Join(config.Load(&paddleCfg), config.Load(&checkoutCfg))
	if err == nil {
		err = errors.Join(paddleCfg.Validate(), checkoutCfg.Validate())
	}
	if err != nil {
		a.log.Warn("payment provider disabled", logger.Error(err))
		return billing.Disabled{Cause: err}, checkoutCfg
	}

	provider, err := billing.NewPaddleProvider(paddleCfg)
	if err != nil {
		a.log.Warn("payment provider disabled", logger.Error(err))
		return billing.Disabled{Cause: err}, checkoutCfg
	}
	return provider, checkoutCfg
}

func (a *app) generator() (generator.Generator, error) {
	var cfg generator.Config
	if err := config.Load(&cfg); err != nil {
		return nil, fmt.Errorf("load generator config: %w", err)
	}
	if cfg.APIKey == "" {
		a.log.Warn("GENERATOR_API_KEY is not set, serving static documents")
		return generator.Static{}, nil
	}
	return generator.NewHTTPGenerator(cfg), nil
}

func (a *app) limiter(cmd *cobra.Command) (ratelimit.Limiter, ratelimit.KeyFunc, error) {
	var cfg ratelimit.Config
	if err := config.Load(&cfg); err != nil {
		return nil, nil, fmt.Errorf("load rate limit config: %w", err)
	}
	key, err := ratelimit.ParseKey(cfg.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("RATE_LIMIT_KEY: %w", err)
	}

	var l ratelimit.Limiter
	switch cfg.Driver {
	case driverMemory, "":
		l, err = ratelimit.NewLocal(cfg)
	case driverRedis:
		client, cerr := a.redisClient(cmd.Context())
		if cerr != nil {
			return nil, nil, cerr
		}
		var rcfg redis.Config
		if err := config.Load(&rcfg); err != nil {
			return nil, nil, fmt.Errorf("load redis config: %w", err)
		}
		l, err = ratelimit.NewRedis(client, rcfg.KeyPrefix, cfg)
	default:
		return nil, nil, fmt.Errorf("%w: RATE_LIMIT_DRIVER=%s", ErrUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return nil, nil, err
	}
	return l, key, nil
}
