// Package account provisions the stored account for an authenticated
// identity on first use.
package account

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/tokengate/pkg/entitlement"
	"github.com/dmitrymomot/tokengate/pkg/identity"
	"github.com/dmitrymomot/tokengate/pkg/logger"
)

var ErrInvalidIdentity = errors.New("account: identity has no account id")

type Service struct {
	store entitlement.Store
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store entitlement.Store, log *slog.Logger) *Service {
	if store == nil {
		panic("account: entitlement store is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log.With(logger.Component("account")), now: time.Now}
}

// Ensure returns the account for id, creating it with zero usage and no
// subscription when it does not exist yet. Email and id are never changed
// after creation; a verification reported by the identity provider is
// persisted.
func (s *Service) Ensure(ctx context.Context, id identity.Identity) (*entitlement.Account, error) {
	if id.AccountID == "" {
		return nil, ErrInvalidIdentity
	}

	acct, err := s.store.GetAccount(ctx, id.AccountID)
	if err == nil {
		if id.EmailVerified && !acct.EmailVerified {
			if err := s.store.MarkEmailVerified(ctx, acct.ID); err != nil {
				return nil, err
			}
			acct.EmailVerified = true
		}
		return acct, nil
	}
	if !errors.Is(err, entitlement.ErrAccountNotFound) {
		return nil, err
	}

	fresh := entitlement.NewAccount(id.AccountID, id.Email, id.EmailVerified, s.now().UTC())
	err = s.store.CreateAccount(ctx, fresh)
	switch {
	case err == nil:
		s.log.InfoContext(ctx, "account created", logger.Event("account_created"), logger.AccountID(fresh.ID))
		return &fresh, nil
	case errors.Is(err, entitlement.ErrAccountExists):
		return s.store.GetAccount(ctx, id.AccountID)
	default:
		return nil, err
	}
}
