package billing

import (
	"context"
	"time"
)

// Provider is implemented by payment provider integrations.
type Provider interface {
	// CreateCheckout mints a hosted checkout session for a subscription.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Session, error)

	// ParseWebhook authenticates payload against signature and returns the
	// normalized event. Authentication failures wrap
	// ErrWebhookVerificationFailed.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)
}

type CheckoutRequest struct {
	Email      string
	AccountID  string // optional correlation key
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// Session is a hosted checkout. The core does not persist it.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventSubscriptionDeleted EventType = "subscription_deleted"
)

// Event is a verified webhook delivery. AccountID and Email are the
// correlation metadata attached at checkout; either may be empty.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	ProviderType string    `json:"provider_type"`
	AccountID    string    `json:"account_id,omitempty"`
	Email        string    `json:"email,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Custom data keys written at checkout and read back from webhooks.
const (
	MetaAccountID = "account_id"
	MetaEmail     = "email"
)
