// Package metering is the usage metering engine.
//
// CheckAllowance runs before a generation call and CommitUsage after it. The
// gap between the two lets concurrent requests from one account overshoot
// the trial limit by at most one generation's cost; the cost is unknown until
// the call completes, so no budget is reserved up front.
//
// CheckAllowance also maintains the device binding for the caller's
// fingerprint. When a device previously used by another account shows up
// under a new account, the new account's usage is seeded from the previous
// occupant before the limit is evaluated, so re-registering on the same
// device does not yield a fresh trial.
package metering
