// Package checkout issues hosted payment sessions for the subscription
// upgrade. It stores nothing; each call yields an independent session.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/dmitrymomot/tokengate/pkg/billing"
	"github.com/dmitrymomot/tokengate/pkg/entitlement"
	"github.com/dmitrymomot/tokengate/pkg/logger"
	"github.com/dmitrymomot/tokengate/pkg/metrics"
	"github.com/dmitrymomot/tokengate/pkg/validator"
)

var ErrInvalidEmail = errors.New("checkout: invalid email")

// Config holds the fixed price and redirect targets of the checkout.
type Config struct {
	PriceID    string `env:"CHECKOUT_PRICE_ID"`
	SuccessURL string `env:"CHECKOUT_SUCCESS_URL" envDefault:"http://localhost:3000/?success=true"`
	CancelURL  string `env:"CHECKOUT_CANCEL_URL" envDefault:"http://localhost:3000/?canceled=true"`
}

func (c Config) Validate() error {
	if c.PriceID == "" {
		return billing.ErrMissingPriceID
	}
	return nil
}

type Request struct {
	Email     string `json:"email"`
	AccountID string `json:"accountId,omitempty"`
}

type Option func(*Issuer)

func WithLogger(l *slog.Logger) Option {
	return func(i *Issuer) {
		if l != nil {
			i.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Issuer) { i.metrics = m }
}

type Issuer struct {
	provider billing.Provider
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewIssuer panics if provider is nil.
func NewIssuer(provider billing.Provider, cfg Config, opts ...Option) *Issuer {
	if provider == nil {
		panic("checkout: billing provider is required")
	}
	i := &Issuer{provider: provider, cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	i.log = i.log.With(logger.Component("checkout"))
	return i
}

// CreateSession validates req and asks the provider for a session. The email
// is sent lower-cased; the account id, when present, travels as correlation
// metadata for the webhook.
func (i *Issuer) CreateSession(ctx context.Context, req Request) (*billing.Session, error) {
	email := entitlement.NormalizeEmail(req.Email)
	if err := validator.Apply(
		validator.Required("email", email),
		validator.ValidEmail("email", email),
		validator.MaxLen("email", email, 254),
		validator.MaxLen("accountId", req.AccountID, 128),
	); err != nil {
		i.metrics.Checkout("invalid")
		return nil, errors.Join(ErrInvalidEmail, err)
	}

	session, err := i.provider.CreateCheckout(ctx, billing.CheckoutRequest{
		Email:      email,
		AccountID:  strings.TrimSpace(req.AccountID),
		PriceID:    i.cfg.PriceID,
		SuccessURL: i.cfg.SuccessURL,
		CancelURL:  i.cfg.CancelURL,
	})
	if err != nil {
		i.metrics.Checkout("error")
		i.log.ErrorContext(ctx, "checkout session failed",
			logger.Event("checkout_failed"),
			logger.AccountID(req.AccountID),
			logger.Error(err),
		)
		if billing.IsConfigError(err) || errors.Is(err, billing.ErrProviderError) {
			return nil, err
		}
		return nil, errors.Join(billing.ErrProviderError, err)
	}

	i.metrics.Checkout("created")
	i.log.InfoContext(ctx, "checkout session created",
		logger.Event("checkout_created"),
		logger.AccountID(req.AccountID),
		slog.String("session_id", session.ID),
	)
	return session, nil
}
