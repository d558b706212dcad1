// Package retry runs an operation a bounded number of times with a fixed
// delay between attempts.
package retry

import (
	"context"
	"errors"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Config bounds a retry loop. Attempts counts the first call.
type Config struct {
	Attempts int           `env:"STORE_RETRY_ATTEMPTS" envDefault:"3"`
	Interval time.Duration `env:"STORE_RETRY_INTERVAL" envDefault:"1s"`
}

// DefaultConfig is three attempts one second apart.
var DefaultConfig = Config{Attempts: 3, Interval: time.Second}

var ErrInvalidConfig = errors.New("retry: invalid config")

type options struct {
	retryable func(error) bool
	onRetry   func(attempt int, err error)
}

type Option func(*options)

// WithRetryable limits retries to errors for which fn returns true.
// Other errors stop the loop immediately. By default every error is retried.
func WithRetryable(fn func(error) bool) Option {
	return func(o *options) { o.retryable = fn }
}

// WithOnRetry is called after each failed attempt that will be retried.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(o *options) { o.onRetry = fn }
}

// Validate reports whether c describes a usable loop.
func (c Config) Validate() error {
	if c.Attempts < 1 || c.Interval < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. The last error from fn is returned.
func Do(ctx context.Context, cfg Config, fn func(context.Context) error, opts ...Option) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	o := options{retryable: func(error) bool { return true }}
	for _, opt := range opts {
		opt(&o)
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = time.Nanosecond
	}
	backoff := goretry.WithMaxRetries(uint64(cfg.Attempts-1), goretry.NewConstant(interval))

	attempt := 0
	var last error
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !o.retryable(last) {
			return last
		}
		if attempt < cfg.Attempts && o.onRetry != nil {
			o.onRetry(attempt, last)
		}
		return goretry.RetryableError(last)
	})
	if err == nil {
		return nil
	}
	if last != nil && ctx.Err() == nil {
		return last
	}
	return err
}
