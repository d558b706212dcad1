package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/tokengate/handler"
	"github.com/dmitrymomot/tokengate/pkg/clientip"
	"github.com/dmitrymomot/tokengate/pkg/fingerprint"
	"github.com/dmitrymomot/tokengate/pkg/httpserver"
	"github.com/dmitrymomot/tokengate/pkg/identity"
	"github.com/dmitrymomot/tokengate/pkg/logger"
	"github.com/dmitrymomot/tokengate/pkg/metrics"
	"github.com/dmitrymomot/tokengate/pkg/ratelimit"
	"github.com/dmitrymomot/tokengate/pkg/requestid"
	"github.com/dmitrymomot/tokengate/svc/account"
	"github.com/dmitrymomot/tokengate/svc/checkout"
	"github.com/dmitrymomot/tokengate/svc/generation"
	"github.com/dmitrymomot/tokengate/svc/metering"
	"github.com/dmitrymomot/tokengate/svc/reconciler"
)

// Deps are the services behind the routes. All fields are required.
type Deps struct {
	Checkout   *checkout.Issuer
	Reconciler reconciler.Reconciler
	Accounts   *account.Service
	Metering   metering.Service
	Generation *generation.Service
	Auth       identity.Authenticator
}

type server struct {
	Deps

	log        *slog.Logger
	metrics    *metrics.Metrics
	limiter    ratelimit.Limiter
	limitKey   ratelimit.KeyFunc
	checks     []httpserver.Check
	maxBody    int64
	maxWebhook int64

	errorHandler handler.ErrorHandler
}

// New builds the router. It panics if a dependency is missing.
func New(deps Deps, opts ...Option) http.Handler {
	if deps.Checkout == nil || deps.Reconciler == nil || deps.Accounts == nil ||
		deps.Metering == nil || deps.Generation == nil || deps.Auth == nil {
		panic("api: all dependencies are required")
	}

	s := &server{
		Deps:       deps,
		log:        slog.Default(),
		limitKey:   ratelimit.ByIP(),
		maxBody:    defaultMaxBodyBytes,
		maxWebhook: defaultMaxWebhookBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("api"))
	s.errorHandler = handler.NewErrorHandler(s.log)

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(clientip.Middleware)
	r.Use(fingerprint.Middleware)
	r.Use(s.metrics.Instrument)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = handler.JSONError(handler.ErrNotFound).Render(w, r)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = handler.JSONError(handler.ErrMethodNotAllowed).Render(w, r)
	})

	r.Get("/health/live", httpserver.Live())
	r.Get("/health/ready", httpserver.Ready(s.log, s.checks...))
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(ratelimit.Middleware(s.limiter, s.limitKey,
					ratelimit.WithLogger(s.log),
					ratelimit.WithOnLimitReached(tooManyRequests),
				))
			}
			r.Post("/create-checkout-session", wrap(s, s.createCheckoutSession, s.jsonBinder(true)))
		})

		r.Post("/webhooks/payments", wrap(s, s.paymentsWebhook, rawWebhook(s.maxWebhook)))

		r.Group(func(r chi.Router) {
			r.Use(identity.Middleware(s.Auth, s.unauthorized))
			r.Get("/usage", wrap(s, s.usage, nil, requireAccount[struct{}](s)))
			r.Post("/usage/check", wrap(s, s.checkUsage, nil, requireAccount[struct{}](s)))
			r.Post("/generate", wrap(s, s.generate, s.jsonBinder(false), requireAccount[generateRequest](s)))
		})
	})

	return r
}

func wrap[R any](s *server, h handler.HandlerFunc[R], bind handler.Bind, decorators ...handler.Decorator[R]) http.HandlerFunc {
	opts := []handler.Option[R]{
		handler.WithErrorHandler[R](s.errorHandler),
		handler.WithDecorators[R](decorators...),
	}
	if bind != nil {
		opts = append(opts, handler.WithBinder[R](bind))
	}
	return handler.Wrap(h, opts...)
}
