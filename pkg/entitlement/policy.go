package entitlement

// Reason explains a blocked Decision.
type Reason string

const (
	ReasonTrialExhausted  Reason = "trial_exhausted"
	ReasonEmailUnverified Reason = "email_unverified"
)

// Policy is the quota configuration applied to unpaid accounts.
type Policy struct {
	TrialTokenLimit      uint64 `env:"TRIAL_TOKEN_LIMIT" envDefault:"10000"`
	RequireVerifiedEmail bool   `env:"REQUIRE_VERIFIED_EMAIL" envDefault:"false"`
}

func DefaultPolicy() Policy {
	return Policy{TrialTokenLimit: 10000}
}

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
}

func Allowed() Decision { return Decision{Allowed: true} }

func Blocked(reason Reason) Decision { return Decision{Reason: reason} }

// Evaluate decides whether an account may start another generation.
// Paid accounts are always allowed. Unpaid accounts are blocked once their
// usage reaches the trial limit.
func Evaluate(p Policy, acct Account, usage uint64) Decision {
	if acct.PaidSubscription {
		return Allowed()
	}
	if p.RequireVerifiedEmail && !acct.EmailVerified {
		return Blocked(ReasonEmailUnverified)
	}
	if usage >= p.TrialTokenLimit {
		return Blocked(ReasonTrialExhausted)
	}
	return Allowed()
}

// Remaining is the unused trial allowance, zero once exhausted.
func Remaining(p Policy, usage uint64) uint64 {
	if usage >= p.TrialTokenLimit {
		return 0
	}
	return p.TrialTokenLimit - usage
}

// BindingAction is what the metering engine must do with a fingerprint.
type BindingAction int

const (
	BindingKeep BindingAction = iota
	BindingCreate
	BindingRebind
)

func (a BindingAction) String() string {
	switch a {
	case BindingCreate:
		return "create"
	case BindingRebind:
		return "rebind"
	default:
		return "keep"
	}
}

// PlanBinding picks the action for accountID given the active binding,
// which is nil when the fingerprint has never been seen.
func PlanBinding(current *DeviceBinding, accountID string) BindingAction {
	switch {
	case current == nil:
		return BindingCreate
	case current.AccountID == accountID:
		return BindingKeep
	default:
		return BindingRebind
	}
}

// SeedFloor is the usage inherited from the previous occupant of a device:
// the larger of what was recorded at binding time and what the bound account
// has consumed since.
func SeedFloor(b DeviceBinding, boundUsage uint64) uint64 {
	return max(b.TrialConsumedTokens, boundUsage)
}
