package billing

import "errors"

var (
	// Configuration errors.
	ErrNotConfigured              = errors.New("billing provider is not configured")
	ErrMissingAPIKey              = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret       = errors.New("billing provider webhook secret is required")
	ErrMissingPriceID             = errors.New("price ID is required")
	ErrInvalidProviderEnvironment = errors.New("invalid billing provider environment")

	// Webhook authenticity errors. No state may be touched after these.
	ErrEmptyPayload              = errors.New("webhook payload is empty")
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")

	ErrInvalidPayload  = errors.New("webhook payload is malformed")
	ErrProviderError   = errors.New("billing provider error")
	ErrNoCheckoutURL   = errors.New("no checkout URL returned from provider")
	ErrMissingCustomer = errors.New("checkout requires an email or account id")
)

// IsConfigError reports whether err comes from missing or invalid provider
// configuration.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrNotConfigured) ||
		errors.Is(err, ErrMissingAPIKey) ||
		errors.Is(err, ErrMissingWebhookSecret) ||
		errors.Is(err, ErrMissingPriceID) ||
		errors.Is(err, ErrInvalidProviderEnvironment)
}

// IsSignatureError reports whether err means the webhook could not be
// authenticated.
func IsSignatureError(err error) bool {
	return errors.Is(err, ErrEmptyPayload) || errors.Is(err, ErrWebhookVerificationFailed)
}
