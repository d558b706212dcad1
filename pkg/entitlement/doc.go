// Package entitlement holds the account, usage and device-binding model
// shared by the metering engine and the webhook reconciler, together with
// the Store contract that persists it.
//
// The decision logic is expressed as pure functions over store state:
// Evaluate turns (policy, account, usage) into a Decision, PlanBinding picks
// what to do with a device binding, and SeedFloor computes the usage a
// re-registered account inherits from the previous occupant of its device.
//
// Store implementations must make IncrementUsage and SeedUsage atomic per
// account and RebindDevice a compare-and-swap per fingerprint. MemoryStore is
// the reference implementation; pgstore and mongostore persist the same
// model.
package entitlement
