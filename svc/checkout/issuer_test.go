package checkout_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tokengate/pkg/billing"
	"github.com/dmitrymomot/tokengate/pkg/logger"
	"github.com/dmitrymomot/tokengate/pkg/validator"
	"github.com/dmitrymomot/tokengate/svc/checkout"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.Session, error) {
	args := m.Called(ctx, req)
	s, _ := args.Get(0).(*billing.Session)
	return s, args.Error(1)
}

func (m *mockProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*billing.Event, error) {
	args := m.Called(ctx, payload, signature)
	ev, _ := args.Get(0).(*billing.Event)
	return ev, args.Error(1)
}

var cfg = checkout.Config{
	PriceID:    "pri_monthly",
	SuccessURL: "http://localhost:3000/?success=true",
	CancelURL:  "http://localhost:3000/?canceled=true",
}

func TestCreateSession(t *testing.T) {
	t.Parallel()

	t.Run("normalizes email and forwards correlation id", func(t *testing.T) {
		t.Parallel()
		p := &mockProvider{}
		p.On("CreateCheckout", mock.Anything, billing.CheckoutRequest{
			Email:      "user@example.com",
			AccountID:  "acct_1",
			PriceID:    "pri_monthly",
			SuccessURL: cfg.SuccessURL,
			CancelURL:  cfg.CancelURL,
		}).Return(&billing.Session{ID: "txn_1", URL: "https://pay.example.com/txn_1"}, nil).Once()

		issuer := checkout.NewIssuer(p, cfg, checkout.WithLogger(logger.Discard()))
		session, err := issuer.CreateSession(context.Background(), checkout.Request{Email: " User@Example.com ", AccountID: "acct_1"})
		require.NoError(t, err)
		assert.Equal(t, "txn_1", session.ID)
		p.AssertExpectations(t)
	})

	t.Run("sessions are not deduplicated", func(t *testing.T) {
		t.Parallel()
		p := &mockProvider{}
		p.On("CreateCheckout", mock.Anything, mock.Anything).Return(&billing.Session{ID: "txn_a"}, nil).Once()
		p.On("CreateCheckout", mock.Anything, mock.Anything).Return(&billing.Session{ID: "txn_b"}, nil).Once()

		issuer := checkout.NewIssuer(p, cfg, checkout.WithLogger(logger.Discard()))
		first, err := issuer.CreateSession(context.Background(), checkout.Request{Email: "user@example.com"})
		require.NoError(t, err)
		second, err := issuer.CreateSession(context.Background(), checkout.Request{Email: "user@example.com"})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("invalid email never reaches provider", func(t *testing.T) {
		t.Parallel()
		for _, email := range []string{"", "nope", "a@b", "two@@example.com"} {
			p := &mockProvider{}
			issuer := checkout.NewIssuer(p, cfg, checkout.WithLogger(logger.Discard()))

			_, err := issuer.CreateSession(context.Background(), checkout.Request{Email: email})
			require.ErrorIs(t, err, checkout.ErrInvalidEmail, email)
			assert.True(t, validator.IsValidationError(err))
			p.AssertNotCalled(t, "CreateCheckout", mock.Anything, mock.Anything)
		}
	})

	t.Run("provider failure is an upstream error", func(t *testing.T) {
		t.Parallel()
		p := &mockProvider{}
		p.On("CreateCheckout", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()

		issuer := checkout.NewIssuer(p, cfg, checkout.WithLogger(logger.Discard()))
		_, err := issuer.CreateSession(context.Background(), checkout.Request{Email: "user@example.com"})
		require.ErrorIs(t, err, billing.ErrProviderError)
	})

	t.Run("configuration errors pass through", func(t *testing.T) {
		t.Parallel()
		issuer := checkout.NewIssuer(billing.Disabled{}, cfg, checkout.WithLogger(logger.Discard()))
		_, err := issuer.CreateSession(context.Background(), checkout.Request{Email: "user@example.com"})
		require.ErrorIs(t, err, billing.ErrNotConfigured)
		assert.False(t, errors.Is(err, billing.ErrProviderError))
	})
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, cfg.Validate())
	require.ErrorIs(t, checkout.Config{}.Validate(), billing.ErrMissingPriceID)
}
