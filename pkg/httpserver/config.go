package httpserver

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/dmitrymomot/tokengate/pkg/logger"
)

type Config struct {
	Addr              string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	// Generation calls an upstream model, so writes get a longer budget than reads.
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type settings struct {
	Config
	listener  net.Listener
	log       *slog.Logger
	stopHooks []func(*slog.Logger)
}

// Option adjusts a Server before Run.
type Option func(*settings)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	if addr == "" {
		panic("httpserver: empty addr")
	}
	return func(s *settings) { s.Addr = addr }
}

// WithListener serves on ln and ignores Addr.
func WithListener(ln net.Listener) Option {
	if ln == nil {
		panic("httpserver: nil listener")
	}
	return func(s *settings) { s.listener = ln }
}

// WithReadTimeout bounds reading a whole request.
func WithReadTimeout(d time.Duration) Option {
	positive("read timeout", d)
	return func(s *settings) { s.ReadTimeout = d }
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	positive("shutdown timeout", d)
	return func(s *settings) { s.ShutdownTimeout = d }
}

// WithLogger sets the lifecycle logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// WithStopHook runs h after the server has shut down.
func WithStopHook(h func(*slog.Logger)) Option {
	if h == nil {
		panic("httpserver: nil stop hook")
	}
	return func(s *settings) { s.stopHooks = append(s.stopHooks, h) }
}

func positive(name string, d time.Duration) {
	if d <= 0 {
		panic(fmt.Sprintf("httpserver: %s must be positive, got %s", name, d))
	}
}

// NewFromConfig builds a Server from cfg. Zero fields keep their defaults
// and opts are applied last.
func NewFromConfig(cfg Config, opts ...Option) *Server {
	fromCfg := func(s *settings) {
		if cfg.Addr != "" {
			s.Addr = cfg.Addr
		}
		for _, f := range []struct {
			dst *time.Duration
			v   time.Duration
		}{
			{&s.ReadTimeout, cfg.ReadTimeout},
			{&s.ReadHeaderTimeout, cfg.ReadHeaderTimeout},
			{&s.WriteTimeout, cfg.WriteTimeout},
			{&s.IdleTimeout, cfg.IdleTimeout},
			{&s.ShutdownTimeout, cfg.ShutdownTimeout},
		} {
			if f.v > 0 {
				*f.dst = f.v
			}
		}
	}
	return New(append([]Option{fromCfg}, opts...)...)
}

func defaults() *settings {
	return &settings{
		Config: Config{Addr: ":8080", ShutdownTimeout: 5 * time.Second},
		log:    logger.Discard(),
	}
}
