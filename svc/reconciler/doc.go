// Package reconciler applies payment-provider webhook events to stored
// entitlement state.
//
// Processing order for a delivery:
//
//  1. Authenticate the payload through the billing provider. Unverifiable
//     deliveries are rejected before any state is read.
//  2. Skip event ids already recorded in the idempotency ledger.
//  3. Resolve the account: the account id carried in checkout metadata
//     first, then the lower-cased email.
//  4. Set the subscription flag (checkout_completed sets it,
//     subscription_deleted clears it). Transient store failures are retried
//     a bounded number of times.
//  5. Record the event id.
//
// A payment that resolves to no account is accepted and logged; retrying it
// cannot succeed without support action. Events of other types are accepted
// without changes. Distinct events are not reordered: the last applied
// write to the subscription flag wins.
package reconciler
