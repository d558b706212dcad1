package entitlement

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded Store. It is safe for concurrent use and
// loses its state on restart.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	accounts map[string]Account
	usage    map[string]UsageRecord
	bindings map[string]DeviceBinding
	history  []DeviceBinding
}

type MemoryOption func(*MemoryStore)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:      time.Now,
		accounts: make(map[string]Account),
		usage:    make(map[string]UsageRecord),
		bindings: make(map[string]DeviceBinding),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) CreateAccount(_ context.Context, acct Account) error {
	if acct.ID == "" {
		return ErrInvalidAccount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, acct.ID)
	}

	now := s.now()
	acct.Email = NormalizeEmail(acct.Email)
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now
	s.accounts[acct.ID] = acct
	s.usage[acct.ID] = UsageRecord{AccountID: acct.ID, UpdatedAt: now}
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &acct, nil
}

func (s *MemoryStore) FindAccountByEmail(_ context.Context, email string) (*Account, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrAccountNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []Account
	for _, acct := range s.accounts {
		if acct.Email == email {
			matches = append(matches, acct)
		}
	}
	if len(matches) == 0 {
		return nil, ErrAccountNotFound
	}

	latest := slices.MaxFunc(matches, func(a, b Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return &latest, nil
}

func (s *MemoryStore) SetPaidSubscription(_ context.Context, id string, paid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	acct.PaidSubscription = paid
	acct.UpdatedAt = s.now()
	s.accounts[id] = acct
	return nil
}

func (s *MemoryStore) MarkEmailVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	if !acct.EmailVerified {
		acct.EmailVerified = true
		acct.UpdatedAt = s.now()
		s.accounts[id] = acct
	}
	return nil
}

func (s *MemoryStore) GetUsage(_ context.Context, id string) (*UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.usage[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) IncrementUsage(_ context.Context, id string, delta uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.usage[id]
	if !ok {
		return 0, ErrAccountNotFound
	}
	rec.TotalTokens += delta
	rec.UpdatedAt = s.now()
	s.usage[id] = rec
	return rec.TotalTokens, nil
}

func (s *MemoryStore) SeedUsage(_ context.Context, id string, floor uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.usage[id]
	if !ok {
		return 0, ErrAccountNotFound
	}
	if floor > rec.TotalTokens {
		rec.TotalTokens = floor
		rec.UpdatedAt = s.now()
		s.usage[id] = rec
	}
	return rec.TotalTokens, nil
}

func (s *MemoryStore) GetDeviceBinding(_ context.Context, fingerprint string) (*DeviceBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[fingerprint]
	if !ok {
		return nil, ErrBindingNotFound
	}
	return &b, nil
}

func (s *MemoryStore) CreateDeviceBinding(_ context.Context, b DeviceBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bindings[b.Fingerprint]; ok {
		return ErrBindingExists
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	b.SupersededAt = time.Time{}
	s.bindings[b.Fingerprint] = b
	return nil
}

func (s *MemoryStore) RebindDevice(_ context.Context, fingerprint, expectedAccountID string, next DeviceBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.bindings[fingerprint]
	if !ok || cur.AccountID != expectedAccountID {
		return ErrBindingConflict
	}

	now := s.now()
	cur.SupersededAt = now
	s.history = append(s.history, cur)

	next.Fingerprint = fingerprint
	next.SupersededAt = time.Time{}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	s.bindings[fingerprint] = next
	return nil
}

// BindingHistory returns every binding of a fingerprint, oldest first with
// the active one last.
func (s *MemoryStore) BindingHistory(_ context.Context, fingerprint string) ([]DeviceBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []DeviceBinding
	for _, b := range s.history {
		if b.Fingerprint == fingerprint {
			out = append(out, b)
		}
	}
	if b, ok := s.bindings[fingerprint]; ok {
		out = append(out, b)
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
