// Package idempotency records which payment-provider events have already
// been processed so that redeliveries are not applied twice.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultTTL covers the redelivery window of the payment provider.
const DefaultTTL = 7 * 24 * time.Hour

var (
	ErrEmptyEventID      = errors.New("idempotency: empty event id")
	ErrLedgerUnavailable = errors.New("idempotency: ledger unavailable")
)

// Ledger remembers processed event ids.
type Ledger interface {
	// Seen reports whether eventID has been marked.
	Seen(ctx context.Context, eventID string) (bool, error)

	// Mark records eventID. Marking an id twice is not an error.
	Mark(ctx context.Context, eventID string) error
}

// MemoryLedger keeps ids in process memory until their TTL elapses.
type MemoryLedger struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLedger{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (l *MemoryLedger) Seen(_ context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, ErrEmptyEventID
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	expires, ok := l.seen[eventID]
	if !ok {
		return false, nil
	}
	if !l.now().Before(expires) {
		delete(l.seen, eventID)
		return false, nil
	}
	return true, nil
}

func (l *MemoryLedger) Mark(_ context.Context, eventID string) error {
	if eventID == "" {
		return ErrEmptyEventID
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.seen) > 0 && len(l.seen)%1024 == 0 {
		for id, expires := range l.seen {
			if !now.Before(expires) {
				delete(l.seen, id)
			}
		}
	}
	if _, ok := l.seen[eventID]; !ok {
		l.seen[eventID] = now.Add(l.ttl)
	}
	return nil
}

var _ Ledger = (*MemoryLedger)(nil)
