package metering

import (
	"log/slog"

	"github.com/dmitrymomot/tokengate/pkg/metrics"
	"github.com/dmitrymomot/tokengate/pkg/retry"
)

type ServiceOption func(*service)

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *service) { s.metrics = m }
}

// WithRetry bounds the store retries used by CommitUsage.
func WithRetry(cfg retry.Config) ServiceOption {
	return func(s *service) {
		if cfg.Validate() == nil {
			s.retry = cfg
		}
	}
}
