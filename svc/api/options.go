package api

import (
	"log/slog"

	"github.com/dmitrymomot/tokengate/pkg/httpserver"
	"github.com/dmitrymomot/tokengate/pkg/metrics"
	"github.com/dmitrymomot/tokengate/pkg/ratelimit"
)

const (
	defaultMaxBodyBytes    int64 = 256 << 10
	defaultMaxWebhookBytes int64 = 1 << 20
)

type Option func(*server)

func WithLogger(l *slog.Logger) Option {
	return func(s *server) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *server) { s.metrics = m }
}

// WithCheckoutLimiter throttles checkout session creation per key.
// ratelimit.ByIP is used when key is nil.
func WithCheckoutLimiter(l ratelimit.Limiter, key ratelimit.KeyFunc) Option {
	return func(s *server) {
		s.limiter = l
		if key != nil {
			s.limitKey = key
		}
	}
}

// WithHealthChecks registers dependencies probed by /health/ready.
func WithHealthChecks(checks ...httpserver.Check) Option {
	return func(s *server) { s.checks = append(s.checks, checks...) }
}

// WithMaxBodyBytes caps JSON request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithMaxWebhookBytes caps raw webhook payloads.
func WithMaxWebhookBytes(n int64) Option {
	return func(s *server) {
		if n > 0 {
			s.maxWebhook = n
		}
	}
}
