package entitlement

import "errors"

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrAccountExists    = errors.New("account already exists")
	ErrInvalidAccount   = errors.New("invalid account")
	ErrBindingNotFound  = errors.New("device binding not found")
	ErrBindingExists    = errors.New("device binding already exists")
	ErrBindingConflict  = errors.New("device binding changed concurrently")
	ErrStoreUnavailable = errors.New("entitlement store unavailable")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
