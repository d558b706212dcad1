package billing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/tidwall/gjson"

	"github.com/dmitrymomot/tokengate/pkg/entitlement"
)

// SignatureHeader is the header Paddle signs webhook deliveries with.
const SignatureHeader = "Paddle-Signature"

type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"sandbox"`
}

// Validate returns every configuration problem joined together.
func (c PaddleConfig) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, ErrMissingAPIKey)
	}
	if c.WebhookSecret == "" {
		errs = append(errs, ErrMissingWebhookSecret)
	}
	switch strings.ToLower(c.Environment) {
	case "sandbox", "production", "":
	default:
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidProviderEnvironment, c.Environment))
	}
	return errors.Join(errs...)
}

// TransactionCreator is the part of the Paddle SDK used for checkout.
type TransactionCreator interface {
	CreateTransaction(ctx context.Context, req *paddle.CreateTransactionRequest) (*paddle.Transaction, error)
}

// WebhookVerifier checks the Paddle-Signature header of a request.
type WebhookVerifier interface {
	Verify(req *http.Request) (bool, error)
}

type PaddleOption func(*PaddleProvider)

// WithTransactions replaces the SDK transactions client.
func WithTransactions(tc TransactionCreator) PaddleOption {
	return func(p *PaddleProvider) { p.transactions = tc }
}

// WithVerifier replaces the SDK webhook verifier.
func WithVerifier(v WebhookVerifier) PaddleOption {
	return func(p *PaddleProvider) { p.verifier = v }
}

type PaddleProvider struct {
	transactions TransactionCreator
	verifier     WebhookVerifier
}

func NewPaddleProvider(cfg PaddleConfig, opts ...PaddleOption) (*PaddleProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "production":
		client, err = paddle.New(cfg.APIKey)
	default:
		client, err = paddle.NewSandbox(cfg.APIKey)
	}
	if err != nil {
		return nil, errors.Join(ErrProviderError, err)
	}

	p := &PaddleProvider{
		transactions: client.TransactionsClient,
		verifier:     paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// CreateCheckout creates a Paddle transaction for req.PriceID and returns its
// hosted checkout. Paddle has no cancel redirect, so req.CancelURL is unused.
func (p *PaddleProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Session, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}
	if req.Email == "" && req.AccountID == "" {
		return nil, ErrMissingCustomer
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	custom := paddle.CustomData{}
	if req.AccountID != "" {
		custom[MetaAccountID] = req.AccountID
	}
	if req.Email != "" {
		custom[MetaEmail] = req.Email
	}

	txReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: custom,
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	tx, err := p.transactions.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, errors.Join(ErrProviderError, err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil || *tx.Checkout.URL == "" {
		return nil, errors.Join(ErrProviderError, ErrNoCheckoutURL)
	}

	return &Session{ID: tx.ID, URL: *tx.Checkout.URL}, nil
}

// ParseWebhook verifies the Paddle signature over payload and decodes the
// event.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if signature == "" {
		return nil, ErrWebhookVerificationFailed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	req.Header.Set(SignatureHeader, signature)

	ok, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !ok {
		return nil, ErrWebhookVerificationFailed
	}

	return DecodePaddleEvent(payload)
}

// DecodePaddleEvent extracts an Event from a Paddle notification body. It
// does not check the signature.
func DecodePaddleEvent(payload []byte) (*Event, error) {
	if !gjson.ValidBytes(payload) {
		return nil, ErrInvalidPayload
	}

	res := gjson.GetManyBytes(payload,
		"event_id",
		"event_type",
		"occurred_at",
		"data.custom_data."+MetaAccountID,
		"data.custom_data."+MetaEmail,
	)
	id, providerType := res[0].String(), res[1].String()
	if id == "" || providerType == "" {
		return nil, fmt.Errorf("%w: missing event_id or event_type", ErrInvalidPayload)
	}

	return &Event{
		ID:           id,
		Type:         mapPaddleEventType(providerType),
		ProviderType: providerType,
		OccurredAt:   res[2].Time(),
		AccountID:    strings.TrimSpace(res[3].String()),
		Email:        entitlement.NormalizeEmail(res[4].String()),
	}, nil
}

func mapPaddleEventType(t string) EventType {
	switch t {
	case "transaction.completed":
		return EventCheckoutCompleted
	case "subscription.canceled":
		return EventSubscriptionDeleted
	default:
		return EventType(t)
	}
}

var _ Provider = (*PaddleProvider)(nil)
