package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Local is an in-process token bucket per key built on x/time/rate.
// Buckets idle longer than the configured TTL are evicted lazily.
type Local struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalOption configures a Local limiter.
type LocalOption func(*Local)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) LocalOption {
	return func(l *Local) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLocal creates a token bucket limiter from cfg.
func NewLocal(cfg Config, opts ...LocalOption) (*Local, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Local{
		limit:   rate.Limit(cfg.Rate),
		burst:   cfg.Burst,
		idleTTL: cfg.IdleTTL,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.now()
	return l, nil
}

func (l *Local) Allow(ctx context.Context, key string) (*Result, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}
	now := l.now()

	l.mu.Lock()
	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	res := &Result{Limit: l.burst}
	if b.limiter.AllowN(now, 1) {
		res.Allowed = true
		tokens := b.limiter.TokensAt(now)
		res.Remaining = int(math.Max(0, math.Floor(tokens)))
		missing := float64(l.burst) - tokens
		res.ResetAt = now.Add(time.Duration(missing / float64(l.limit) * float64(time.Second)))
		return res, nil
	}

	r := b.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	res.ResetAt = now.Add(delay)
	return res, nil
}

// Len reports the number of tracked keys.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep must be called with mu held.
func (l *Local) sweep(now time.Time) {
	if l.idleTTL <= 0 || now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idleTTL {
			delete(l.buckets, k)
		}
	}
	l.lastSweep = now
}
