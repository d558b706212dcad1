package entitlement

import (
	"strings"
	"time"
)

type Account struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	EmailVerified    bool      `json:"email_verified"`
	PaidSubscription bool      `json:"paid_subscription"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// UsageRecord is the cumulative token consumption of one account.
// TotalTokens only grows.
type UsageRecord struct {
	AccountID   string    `json:"account_id"`
	TotalTokens uint64    `json:"total_tokens"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DeviceBinding ties a device fingerprint to the account that last used its
// trial. TrialConsumedTokens mirrors the bound account's usage at binding
// time. A zero SupersededAt marks the active binding.
type DeviceBinding struct {
	Fingerprint         string    `json:"fingerprint"`
	AccountID           string    `json:"account_id"`
	TrialConsumedTokens uint64    `json:"trial_consumed_tokens"`
	CreatedAt           time.Time `json:"created_at"`
	SupersededAt        time.Time `json:"superseded_at,omitzero"`
}

func (b DeviceBinding) Active() bool { return b.SupersededAt.IsZero() }

// NormalizeEmail is the canonical form used for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewAccount returns a fresh unpaid account with a normalized email.
func NewAccount(id, email string, verified bool, now time.Time) Account {
	return Account{
		ID:            id,
		Email:         NormalizeEmail(email),
		EmailVerified: verified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
