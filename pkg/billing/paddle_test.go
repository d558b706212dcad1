package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tokengate/pkg/billing"
)

type mockTransactions struct {
	mock.Mock
}

func (m *mockTransactions) CreateTransaction(ctx context.Context, req *paddle.CreateTransactionRequest) (*paddle.Transaction, error) {
	args := m.Called(ctx, req)
	tx, _ := args.Get(0).(*paddle.Transaction)
	return tx, args.Error(1)
}

// stubVerifier accepts exactly one signature and records the body it saw.
type stubVerifier struct {
	signature string
	body      []byte
}

func (v *stubVerifier) Verify(req *http.Request) (bool, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return false, err
	}
	v.body = body
	return req.Header.Get(billing.SignatureHeader) == v.signature, nil
}

func transaction(t *testing.T, raw string) *paddle.Transaction {
	t.Helper()
	var tx paddle.Transaction
	require.NoError(t, json.Unmarshal([]byte(raw), &tx))
	return &tx
}

var validConfig = billing.PaddleConfig{APIKey: "pdl_test_key", WebhookSecret: "pdl_ntfset_secret", Environment: "sandbox"}

func newProvider(t *testing.T, opts ...billing.PaddleOption) *billing.PaddleProvider {
	t.Helper()
	p, err := billing.NewPaddleProvider(validConfig, opts...)
	require.NoError(t, err)
	return p
}

func TestPaddleConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validConfig.Validate())

	err := billing.PaddleConfig{Environment: "staging"}.Validate()
	require.ErrorIs(t, err, billing.ErrMissingAPIKey)
	require.ErrorIs(t, err, billing.ErrMissingWebhookSecret)
	require.ErrorIs(t, err, billing.ErrInvalidProviderEnvironment)
	assert.True(t, billing.IsConfigError(err))

	_, err = billing.NewPaddleProvider(billing.PaddleConfig{APIKey: "k"})
	require.ErrorIs(t, err, billing.ErrMissingWebhookSecret)
}

func TestCreateCheckout(t *testing.T) {
	t.Parallel()

	t.Run("attaches correlation data", func(t *testing.T) {
		t.Parallel()
		tc := &mockTransactions{}
		tc.On("CreateTransaction", mock.Anything, mock.MatchedBy(func(req *paddle.CreateTransactionRequest) bool {
			return req.CustomData[billing.MetaAccountID] == "acct_1" &&
				req.CustomData[billing.MetaEmail] == "user@example.com" &&
				len(req.Items) == 1 &&
				req.Checkout != nil && *req.Checkout.URL == "http://localhost:3000/?success=true"
		})).Return(transaction(t, `{"id":"txn_123","checkout":{"url":"https://pay.example.com/txn_123"}}`), nil).Once()

		p := newProvider(t, billing.WithTransactions(tc))
		session, err := p.CreateCheckout(context.Background(), billing.CheckoutRequest{
			Email:      "user@example.com",
			AccountID:  "acct_1",
			PriceID:    "pri_123",
			SuccessURL: "http://localhost:3000/?success=true",
		})
		require.NoError(t, err)
		assert.Equal(t, &billing.Session{ID: "txn_123", URL: "https://pay.example.com/txn_123"}, session)
		tc.AssertExpectations(t)
	})

	t.Run("omits account id when absent", func(t *testing.T) {
		t.Parallel()
		tc := &mockTransactions{}
		tc.On("CreateTransaction", mock.Anything, mock.MatchedBy(func(req *paddle.CreateTransactionRequest) bool {
			_, hasAccount := req.CustomData[billing.MetaAccountID]
			return !hasAccount && req.Checkout == nil
		})).Return(transaction(t, `{"id":"txn_9","checkout":{"url":"https://pay.example.com/txn_9"}}`), nil).Once()

		p := newProvider(t, billing.WithTransactions(tc))
		_, err := p.CreateCheckout(context.Background(), billing.CheckoutRequest{Email: "user@example.com", PriceID: "pri_123"})
		require.NoError(t, err)
		tc.AssertExpectations(t)
	})

	t.Run("requires price and customer", func(t *testing.T) {
		t.Parallel()
		p := newProvider(t, billing.WithTransactions(&mockTransactions{}))

		_, err := p.CreateCheckout(context.Background(), billing.CheckoutRequest{Email: "user@example.com"})
		require.ErrorIs(t, err, billing.ErrMissingPriceID)

		_, err = p.CreateCheckout(context.Background(), billing.CheckoutRequest{PriceID: "pri_1"})
		require.ErrorIs(t, err, billing.ErrMissingCustomer)
	})

	t.Run("provider failure", func(t *testing.T) {
		t.Parallel()
		tc := &mockTransactions{}
		tc.On("CreateTransaction", mock.Anything, mock.Anything).Return(nil, errors.New("503")).Once()

		p := newProvider(t, billing.WithTransactions(tc))
		_, err := p.CreateCheckout(context.Background(), billing.CheckoutRequest{Email: "user@example.com", PriceID: "pri_1"})
		require.ErrorIs(t, err, billing.ErrProviderError)
	})

	t.Run("missing checkout url", func(t *testing.T) {
		t.Parallel()
		tc := &mockTransactions{}
		tc.On("CreateTransaction", mock.Anything, mock.Anything).Return(transaction(t, `{"id":"txn_1"}`), nil).Once()

		p := newProvider(t, billing.WithTransactions(tc))
		_, err := p.CreateCheckout(context.Background(), billing.CheckoutRequest{Email: "user@example.com", PriceID: "pri_1"})
		require.ErrorIs(t, err, billing.ErrProviderError)
		require.ErrorIs(t, err, billing.ErrNoCheckoutURL)
	})
}

const completedPayload = `{
	"event_id": "evt_01",
	"event_type": "transaction.completed",
	"occurred_at": "2026-03-01T10:00:00Z",
	"data": {
		"id": "txn_123",
		"status": "completed",
		"custom_data": {"account_id": "acct_1", "email": "User@Example.com"}
	}
}`

func TestParseWebhook(t *testing.T) {
	t.Parallel()

	t.Run("verified payload decodes", func(t *testing.T) {
		t.Parallel()
		v := &stubVerifier{signature: "ts=1;h1=good"}
		p := newProvider(t, billing.WithVerifier(v))

		ev, err := p.ParseWebhook(context.Background(), []byte(completedPayload), "ts=1;h1=good")
		require.NoError(t, err)
		assert.Equal(t, []byte(completedPayload), v.body)
		assert.Equal(t, &billing.Event{
			ID:           "evt_01",
			Type:         billing.EventCheckoutCompleted,
			ProviderType: "transaction.completed",
			AccountID:    "acct_1",
			Email:        "user@example.com",
			OccurredAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		}, ev)
	})

	t.Run("bad signature is rejected", func(t *testing.T) {
		t.Parallel()
		p := newProvider(t, billing.WithVerifier(&stubVerifier{signature: "ts=1;h1=good"}))

		_, err := p.ParseWebhook(context.Background(), []byte(completedPayload), "ts=1;h1=forged")
		require.ErrorIs(t, err, billing.ErrWebhookVerificationFailed)
		assert.True(t, billing.IsSignatureError(err))
	})

	t.Run("sdk verifier rejects forged signature", func(t *testing.T) {
		t.Parallel()
		p := newProvider(t)

		_, err := p.ParseWebhook(context.Background(), []byte(completedPayload), "ts=1700000000;h1=deadbeef")
		require.ErrorIs(t, err, billing.ErrWebhookVerificationFailed)
	})

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()
		p := newProvider(t)
		_, err := p.ParseWebhook(context.Background(), []byte(completedPayload), "")
		require.ErrorIs(t, err, billing.ErrWebhookVerificationFailed)
	})

	t.Run("empty payload", func(t *testing.T) {
		t.Parallel()
		p := newProvider(t)
		_, err := p.ParseWebhook(context.Background(), nil, "ts=1;h1=x")
		require.ErrorIs(t, err, billing.ErrEmptyPayload)
	})
}

func TestDecodePaddleEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    *billing.Event
		wantErr error
	}{
		{
			name:    "subscription canceled",
			payload: `{"event_id":"evt_2","event_type":"subscription.canceled","data":{"custom_data":{"email":"a@b.co"}}}`,
			want:    &billing.Event{ID: "evt_2", Type: billing.EventSubscriptionDeleted, ProviderType: "subscription.canceled", Email: "a@b.co"},
		},
		{
			name:    "unmapped type passes through",
			payload: `{"event_id":"evt_3","event_type":"customer.updated","data":{}}`,
			want:    &billing.Event{ID: "evt_3", Type: billing.EventType("customer.updated"), ProviderType: "customer.updated"},
		},
		{
			name:    "no custom data",
			payload: `{"event_id":"evt_4","event_type":"transaction.completed","data":{"custom_data":null}}`,
			want:    &billing.Event{ID: "evt_4", Type: billing.EventCheckoutCompleted, ProviderType: "transaction.completed"},
		},
		{name: "not json", payload: `event`, wantErr: billing.ErrInvalidPayload},
		{name: "missing id", payload: `{"event_type":"transaction.completed"}`, wantErr: billing.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := billing.DecodePaddleEvent([]byte(tt.payload))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDisabled(t *testing.T) {
	t.Parallel()

	cause := billing.ErrMissingAPIKey
	d := billing.Disabled{Cause: cause}

	_, err := d.CreateCheckout(context.Background(), billing.CheckoutRequest{})
	require.ErrorIs(t, err, billing.ErrNotConfigured)
	require.ErrorIs(t, err, cause)

	_, err = d.ParseWebhook(context.Background(), []byte("{}"), "sig")
	require.ErrorIs(t, err, billing.ErrNotConfigured)
	assert.True(t, billing.IsConfigError(err))
	assert.False(t, billing.IsSignatureError(err))
}
