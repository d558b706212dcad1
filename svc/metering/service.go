package metering

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/tokengate/pkg/entitlement"
	"github.com/dmitrymomot/tokengate/pkg/logger"
	"github.com/dmitrymomot/tokengate/pkg/metrics"
	"github.com/dmitrymomot/tokengate/pkg/retry"
)

// maxBindingAttempts bounds the read/write loop that settles a device binding
// when several accounts race on one fingerprint.
const maxBindingAttempts = 5

type Service interface {
	// CheckAllowance reports whether accountID may start a generation.
	// A non-empty fingerprint is bound to the account as a side effect.
	CheckAllowance(ctx context.Context, accountID, fingerprint string) (entitlement.Decision, error)

	// CommitUsage records the cost of a completed generation and returns
	// the new total. Transient store failures are retried; once retries
	// are exhausted the error wraps ErrUsageNotRecorded.
	CommitUsage(ctx context.Context, accountID string, delta uint64) (uint64, error)

	Usage(ctx context.Context, accountID string) (*Snapshot, error)

	Policy() entitlement.Policy
}

// Snapshot is the usage summary shown to the account owner.
type Snapshot struct {
	AccountID        string               `json:"account_id"`
	TotalTokens      uint64               `json:"total_tokens"`
	TrialTokenLimit  uint64               `json:"trial_token_limit"`
	Remaining        uint64               `json:"remaining"`
	PaidSubscription bool                 `json:"paid_subscription"`
	Decision         entitlement.Decision `json:"decision"`
}

type service struct {
	store   entitlement.Store
	policy  entitlement.Policy
	retry   retry.Config
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewService panics if store is nil.
func NewService(store entitlement.Store, policy entitlement.Policy, opts ...ServiceOption) Service {
	if store == nil {
		panic("metering: entitlement store is required")
	}

	s := &service{
		store:  store,
		policy: policy,
		retry:  retry.DefaultConfig,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("metering"))
	return s
}

func (s *service) Policy() entitlement.Policy { return s.policy }

func (s *service) CheckAllowance(ctx context.Context, accountID, fingerprint string) (entitlement.Decision, error) {
	if accountID == "" {
		return entitlement.Decision{}, ErrMissingAccountID
	}

	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return entitlement.Decision{}, err
	}

	if fingerprint != "" {
		if err := s.bindDevice(ctx, accountID, fingerprint); err != nil {
			return entitlement.Decision{}, err
		}
	}

	usage, err := s.store.GetUsage(ctx, accountID)
	if err != nil {
		return entitlement.Decision{}, err
	}

	decision := entitlement.Evaluate(s.policy, *acct, usage.TotalTokens)
	s.metrics.Decision(decision.Allowed, string(decision.Reason))
	s.log.DebugContext(ctx, "allowance evaluated",
		logger.AccountID(accountID),
		logger.Tokens("total_tokens", usage.TotalTokens),
		slog.Bool("allowed", decision.Allowed),
		slog.String("reason", string(decision.Reason)),
	)
	return decision, nil
}

// bindDevice settles the binding for fingerprint. Losers of a concurrent
// create or rebind re-read the binding and try again.
func (s *service) bindDevice(ctx context.Context, accountID, fingerprint string) error {
	for range maxBindingAttempts {
		current, err := s.store.GetDeviceBinding(ctx, fingerprint)
		if err != nil && !errors.Is(err, entitlement.ErrBindingNotFound) {
			return err
		}

		switch entitlement.PlanBinding(current, accountID) {
		case entitlement.BindingKeep:
			return nil

		case entitlement.BindingCreate:
			usage, err := s.store.GetUsage(ctx, accountID)
			if err != nil {
				return err
			}
			err = s.store.CreateDeviceBinding(ctx, entitlement.DeviceBinding{
				Fingerprint:         fingerprint,
				AccountID:           accountID,
				TrialConsumedTokens: usage.TotalTokens,
			})
			if errors.Is(err, entitlement.ErrBindingExists) {
				continue
			}
			return err

		case entitlement.BindingRebind:
			seeded, err := s.seedFrom(ctx, accountID, *current)
			if err != nil {
				return err
			}
			err = s.store.RebindDevice(ctx, fingerprint, current.AccountID, entitlement.DeviceBinding{
				AccountID:           accountID,
				TrialConsumedTokens: seeded,
			})
			if errors.Is(err, entitlement.ErrBindingConflict) {
				continue
			}
			if err != nil {
				return err
			}
			s.metrics.DeviceRebound()
			s.log.InfoContext(ctx, "device rebound",
				logger.Fingerprint(fingerprint),
				logger.AccountID(accountID),
				slog.String("previous_account_id", current.AccountID),
				logger.Tokens("seeded_tokens", seeded),
			)
			return nil
		}
	}
	return ErrBindingContention
}

// seedFrom raises accountID's usage to what the previous occupant of the
// device has consumed and returns the resulting total.
func (s *service) seedFrom(ctx context.Context, accountID string, prev entitlement.DeviceBinding) (uint64, error) {
	var boundUsage uint64
	rec, err := s.store.GetUsage(ctx, prev.AccountID)
	switch {
	case err == nil:
		boundUsage = rec.TotalTokens
	case !errors.Is(err, entitlement.ErrAccountNotFound):
		return 0, err
	}
	return s.store.SeedUsage(ctx, accountID, entitlement.SeedFloor(prev, boundUsage))
}

func (s *service) CommitUsage(ctx context.Context, accountID string, delta uint64) (uint64, error) {
	if accountID == "" {
		return 0, ErrMissingAccountID
	}

	// Recording must survive the client going away.
	ctx = context.WithoutCancel(ctx)

	var total uint64
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		t, err := s.store.IncrementUsage(ctx, accountID, delta)
		if err != nil {
			return err
		}
		total = t
		return nil
	},
		retry.WithRetryable(entitlement.IsTransient),
		retry.WithOnRetry(func(attempt int, err error) {
			s.log.WarnContext(ctx, "usage commit failed, retrying",
				logger.AccountID(accountID),
				logger.Attempt(attempt),
				logger.Error(err),
			)
		}),
	)
	if err != nil {
		s.metrics.CommitFailed()
		s.log.ErrorContext(ctx, "usage not recorded",
			logger.AccountID(accountID),
			logger.Tokens("delta", delta),
			logger.Error(err),
		)
		return 0, errors.Join(ErrUsageNotRecorded, err)
	}

	s.metrics.TokensCommitted(delta)
	return total, nil
}

func (s *service) Usage(ctx context.Context, accountID string) (*Snapshot, error) {
	if accountID == "" {
		return nil, ErrMissingAccountID
	}

	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	usage, err := s.store.GetUsage(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		AccountID:        accountID,
		TotalTokens:      usage.TotalTokens,
		TrialTokenLimit:  s.policy.TrialTokenLimit,
		Remaining:        entitlement.Remaining(s.policy, usage.TotalTokens),
		PaidSubscription: acct.PaidSubscription,
		Decision:         entitlement.Evaluate(s.policy, *acct, usage.TotalTokens),
	}, nil
}
