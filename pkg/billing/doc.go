// Package billing is the boundary to the payment provider.
//
// A Provider mints hosted checkout sessions and turns signed webhook
// deliveries into normalized Events. The core never handles card data; it
// only asks for a session and later consumes the provider's confirmation.
//
// Checkout sessions carry the account id and email as custom data. The
// provider echoes that data back in webhook payloads, which is how the
// reconciler maps a confirmation to an account without trusting anything the
// client sends at confirmation time.
//
// PaddleProvider implements Provider on top of the official Paddle SDK.
// Disabled stands in when the provider is not configured: every call fails
// with ErrNotConfigured so the HTTP layer can answer 500 while the rest of
// the service keeps working.
package billing
