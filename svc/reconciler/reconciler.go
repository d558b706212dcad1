package reconciler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/tokengate/pkg/billing"
	"github.com/dmitrymomot/tokengate/pkg/entitlement"
	"github.com/dmitrymomot/tokengate/pkg/idempotency"
	"github.com/dmitrymomot/tokengate/pkg/logger"
	"github.com/dmitrymomot/tokengate/pkg/metrics"
	"github.com/dmitrymomot/tokengate/pkg/retry"
)

// Outcome describes what a processed event did.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeUnresolved Outcome = "unresolved"
	// OutcomeUnprocessable is an authentic delivery whose body cannot be
	// decoded. It is acknowledged so the provider stops redelivering it.
	OutcomeUnprocessable Outcome = "unprocessable"
	OutcomeRejected      Outcome = "rejected"
	OutcomeFailed        Outcome = "failed"
)

var ErrApplyFailed = errors.New("reconciler: failed to apply event")

type Reconciler interface {
	// HandleWebhook authenticates a raw delivery and applies it.
	// Signature and empty-payload errors come from the billing package.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (Outcome, error)

	// Apply processes an already authenticated event.
	Apply(ctx context.Context, ev billing.Event) (Outcome, error)
}

// Transition maps an event type to the subscription flag it sets. ok is
// false for event types that do not affect entitlement.
func Transition(t billing.EventType) (paid bool, ok bool) {
	switch t {
	case billing.EventCheckoutCompleted:
		return true, true
	case billing.EventSubscriptionDeleted:
		return false, true
	default:
		return false, false
	}
}

type Option func(*reconciler)

func WithLogger(l *slog.Logger) Option {
	return func(r *reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *reconciler) { r.metrics = m }
}

func WithRetry(cfg retry.Config) Option {
	return func(r *reconciler) {
		if cfg.Validate() == nil {
			r.retry = cfg
		}
	}
}

type reconciler struct {
	store    entitlement.Store
	provider billing.Provider
	ledger   idempotency.Ledger
	retry    retry.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// New panics if any dependency is nil.
func New(store entitlement.Store, provider billing.Provider, ledger idempotency.Ledger, opts ...Option) Reconciler {
	if store == nil {
		panic("reconciler: entitlement store is required")
	}
	if provider == nil {
		panic("reconciler: billing provider is required")
	}
	if ledger == nil {
		panic("reconciler: idempotency ledger is required")
	}

	r := &reconciler{
		store:    store,
		provider: provider,
		ledger:   ledger,
		retry:    retry.DefaultConfig,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("reconciler"))
	return r
}

func (r *reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	if len(payload) == 0 {
		r.metrics.Webhook("", string(OutcomeRejected))
		return OutcomeRejected, billing.ErrEmptyPayload
	}

	ev, err := r.provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		if billing.IsSignatureError(err) {
			r.log.WarnContext(ctx, "webhook rejected", logger.Event("webhook_rejected"), logger.Error(err))
			r.metrics.Webhook("", string(OutcomeRejected))
			return OutcomeRejected, err
		}
		if errors.Is(err, billing.ErrInvalidPayload) {
			r.log.WarnContext(ctx, "verified webhook could not be decoded",
				logger.Event("webhook_unprocessable"),
				logger.Error(err),
			)
			r.metrics.Webhook("", string(OutcomeUnprocessable))
			return OutcomeUnprocessable, nil
		}
		r.metrics.Webhook("", string(OutcomeFailed))
		return OutcomeFailed, err
	}

	r.log.InfoContext(ctx, "webhook received",
		logger.Event("webhook_received"),
		logger.EventID(ev.ID),
		logger.EventType(ev.ProviderType),
	)
	return r.Apply(ctx, *ev)
}

func (r *reconciler) Apply(ctx context.Context, ev billing.Event) (Outcome, error) {
	outcome, err := r.apply(ctx, ev)
	r.metrics.Webhook(string(ev.Type), string(outcome))
	return outcome, err
}

func (r *reconciler) apply(ctx context.Context, ev billing.Event) (Outcome, error) {
	log := r.log.With(logger.EventID(ev.ID), logger.EventType(string(ev.Type)))

	paid, ok := Transition(ev.Type)
	if !ok {
		log.InfoContext(ctx, "webhook ignored", logger.Event("webhook_ignored"))
		return OutcomeIgnored, nil
	}

	seen, err := r.ledger.Seen(ctx, ev.ID)
	if err != nil {
		log.ErrorContext(ctx, "idempotency ledger lookup failed", logger.Error(err))
		return OutcomeFailed, errors.Join(ErrApplyFailed, err)
	}
	if seen {
		log.InfoContext(ctx, "webhook already processed", logger.Event("webhook_duplicate"))
		return OutcomeDuplicate, nil
	}

	acct, err := r.resolve(ctx, ev)
	switch {
	case errors.Is(err, entitlement.ErrAccountNotFound):
		log.WarnContext(ctx, "no account for webhook event",
			logger.Event("webhook_unresolved"),
			logger.AccountID(ev.AccountID),
			logger.Email(ev.Email),
		)
		r.mark(ctx, log, ev.ID)
		return OutcomeUnresolved, nil
	case err != nil:
		log.ErrorContext(ctx, "account lookup failed", logger.Error(err))
		return OutcomeFailed, errors.Join(ErrApplyFailed, err)
	}

	err = r.withRetry(ctx, log, func(ctx context.Context) error {
		return r.store.SetPaidSubscription(ctx, acct.ID, paid)
	})
	if errors.Is(err, entitlement.ErrAccountNotFound) {
		log.WarnContext(ctx, "account disappeared before update", logger.Event("webhook_unresolved"), logger.AccountID(acct.ID))
		r.mark(ctx, log, ev.ID)
		return OutcomeUnresolved, nil
	}
	if err != nil {
		log.ErrorContext(ctx, "subscription update failed", logger.AccountID(acct.ID), logger.Error(err))
		return OutcomeFailed, errors.Join(ErrApplyFailed, err)
	}

	name := "subscription_confirmed"
	if !paid {
		name = "subscription_cancelled"
	}
	log.InfoContext(ctx, "subscription updated",
		logger.Event(name),
		logger.AccountID(acct.ID),
		slog.Bool("paid_subscription", paid),
	)

	r.mark(ctx, log, ev.ID)
	return OutcomeApplied, nil
}

// resolve finds the target account: by id when the event carries one, then
// by email. ErrAccountNotFound means neither matched.
func (r *reconciler) resolve(ctx context.Context, ev billing.Event) (*entitlement.Account, error) {
	var acct *entitlement.Account

	if ev.AccountID != "" {
		err := r.withRetry(ctx, r.log, func(ctx context.Context) error {
			a, err := r.store.GetAccount(ctx, ev.AccountID)
			acct = a
			return err
		})
		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, entitlement.ErrAccountNotFound) {
			return nil, err
		}
	}

	email := entitlement.NormalizeEmail(ev.Email)
	if email == "" {
		return nil, entitlement.ErrAccountNotFound
	}
	err := r.withRetry(ctx, r.log, func(ctx context.Context) error {
		a, err := r.store.FindAccountByEmail(ctx, email)
		acct = a
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (r *reconciler) withRetry(ctx context.Context, log *slog.Logger, fn func(context.Context) error) error {
	return retry.Do(ctx, r.retry, fn,
		retry.WithRetryable(entitlement.IsTransient),
		retry.WithOnRetry(func(attempt int, err error) {
			log.WarnContext(ctx, "store call failed, retrying", logger.Attempt(attempt), logger.Error(err))
		}),
	)
}

// mark records the event, retrying like store writes. If it still fails the
// event is acknowledged anyway and a redelivery applies it again. Should a
// newer event for the same account land in between, that redelivery wins:
// the subscription flag is last-write-wins.
func (r *reconciler) mark(ctx context.Context, log *slog.Logger, id string) {
	err := retry.Do(ctx, r.retry, func(ctx context.Context) error { return r.ledger.Mark(ctx, id) },
		retry.WithRetryable(func(err error) bool { return errors.Is(err, idempotency.ErrLedgerUnavailable) }),
		retry.WithOnRetry(func(attempt int, err error) {
			log.WarnContext(ctx, "recording processed event failed, retrying", logger.Attempt(attempt), logger.Error(err))
		}),
	)
	if err != nil {
		log.WarnContext(ctx, "failed to record processed event", logger.Error(err))
	}
}
