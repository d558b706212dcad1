package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Config configures the per-client limiter in front of the checkout endpoint.
// Rate is the sustained requests per second, Burst the bucket size.
type Config struct {
	Rate    float64       `env:"RATE_LIMIT_RPS" envDefault:"1"`
	Burst   int           `env:"RATE_LIMIT_BURST" envDefault:"5"`
	IdleTTL time.Duration `env:"RATE_LIMIT_IDLE_TTL" envDefault:"10m"`
	Driver  string        `env:"RATE_LIMIT_DRIVER" envDefault:"memory"`
	// Key selects the bucket, see ParseKey.
	Key string `env:"RATE_LIMIT_KEY" envDefault:"ip"`
}

// Validate reports configuration that would produce a limiter that never admits anything.
func (c Config) Validate() error {
	if c.Rate <= 0 || c.Burst <= 0 {
		return fmt.Errorf("%w: rate=%v burst=%d", ErrInvalidLimit, c.Rate, c.Burst)
	}
	return nil
}

// Window is the period in which Burst requests are admitted by window-based limiters.
func (c Config) Window() time.Duration {
	return time.Duration(float64(c.Burst) / c.Rate * float64(time.Second))
}

// Result contains the result of a rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when a denied request may be retried, or when the bucket is full again.
	ResetAt time.Time
}

// RetryAfter returns how long to wait before the next request is allowed.
// Returns 0 if the current request was allowed.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed {
		return 0
	}
	return time.Until(r.ResetAt)
}

// Limiter defines the interface for rate limiting implementations.
type Limiter interface {
	// Allow checks if a single request is allowed for the given key and consumes a slot if so.
	Allow(ctx context.Context, key string) (*Result, error)
}
