package billing

import (
	"context"
	"errors"
)

// Disabled is the Provider used when configuration is missing. Cause is
// joined into every returned error.
type Disabled struct {
	Cause error
}

func (d Disabled) err() error {
	if d.Cause == nil {
		return ErrNotConfigured
	}
	return errors.Join(ErrNotConfigured, d.Cause)
}

func (d Disabled) CreateCheckout(context.Context, CheckoutRequest) (*Session, error) {
	return nil, d.err()
}

func (d Disabled) ParseWebhook(context.Context, []byte, string) (*Event, error) {
	return nil, d.err()
}

var _ Provider = Disabled{}
