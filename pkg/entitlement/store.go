package entitlement

import "context"

// Store persists accounts, usage records and device bindings.
// Transient backend failures are reported wrapped with ErrStoreUnavailable.
type Store interface {
	// CreateAccount stores acct together with a zero usage record.
	// Returns ErrAccountExists if the id is taken.
	CreateAccount(ctx context.Context, acct Account) error

	// GetAccount returns ErrAccountNotFound for unknown ids.
	GetAccount(ctx context.Context, id string) (*Account, error)

	// FindAccountByEmail matches the normalized email exactly. When several
	// accounts share an email the most recently created one wins.
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)

	// SetPaidSubscription updates only the subscription flag. Last write wins.
	SetPaidSubscription(ctx context.Context, id string, paid bool) error

	// MarkEmailVerified sets the verification flag. It is never cleared.
	MarkEmailVerified(ctx context.Context, id string) error

	GetUsage(ctx context.Context, id string) (*UsageRecord, error)

	// IncrementUsage atomically adds delta and returns the new total.
	IncrementUsage(ctx context.Context, id string, delta uint64) (uint64, error)

	// SeedUsage atomically raises the total to floor if it is lower and
	// returns the resulting total. It never decreases usage.
	SeedUsage(ctx context.Context, id string, floor uint64) (uint64, error)

	// GetDeviceBinding returns the active binding or ErrBindingNotFound.
	GetDeviceBinding(ctx context.Context, fingerprint string) (*DeviceBinding, error)

	// CreateDeviceBinding returns ErrBindingExists if an active binding
	// already exists for the fingerprint.
	CreateDeviceBinding(ctx context.Context, b DeviceBinding) error

	// RebindDevice supersedes the active binding and installs next, provided
	// the active binding is still held by expectedAccountID. Otherwise it
	// returns ErrBindingConflict and changes nothing.
	RebindDevice(ctx context.Context, fingerprint, expectedAccountID string, next DeviceBinding) error
}
