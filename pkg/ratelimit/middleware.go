package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dmitrymomot/tokengate/pkg/logger"
)

// LimitHandler writes the response for a rejected request. Rate limit
// headers are already set.
type LimitHandler func(w http.ResponseWriter, r *http.Request, res *Result)

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*guard)

// WithOnLimitReached replaces the plain-text 429 response.
func WithOnLimitReached(fn LimitHandler) MiddlewareOption {
	return func(g *guard) {
		if fn != nil {
			g.reject = fn
		}
	}
}

// WithSkipFunc exempts requests for which fn returns true.
func WithSkipFunc(fn func(r *http.Request) bool) MiddlewareOption {
	return func(g *guard) { g.skip = fn }
}

// WithLogger sets where limiter failures are reported.
func WithLogger(l *slog.Logger) MiddlewareOption {
	return func(g *guard) {
		if l != nil {
			g.log = l
		}
	}
}

type guard struct {
	limiter Limiter
	key     KeyFunc
	skip    func(*http.Request) bool
	reject  LimitHandler
	log     *slog.Logger
}

// Middleware counts each request against limiter under key(r). When the
// limiter itself fails the request is let through.
func Middleware(limiter Limiter, key KeyFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if limiter == nil || key == nil {
		panic("ratelimit: Middleware needs a limiter and a key func")
	}
	g := &guard{
		limiter: limiter,
		key:     key,
		reject:  plainTooMany,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g.wrap
}

func (g *guard) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.admit(w, r) {
			next.ServeHTTP(w, r)
		}
	})
}

// admit reports whether the request may proceed. When it returns false the
// rejection has been written.
func (g *guard) admit(w http.ResponseWriter, r *http.Request) bool {
	if g.skip != nil && g.skip(r) {
		return true
	}
	k := g.key(r)
	if k == "" {
		return true
	}

	res, err := g.limiter.Allow(r.Context(), k)
	if err != nil {
		g.log.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
			logger.Component("ratelimit"),
			logger.Error(err),
		)
		return true
	}

	setHeaders(w.Header(), res)
	if res.Allowed {
		return true
	}
	g.reject(w, r, res)
	return false
}

func setHeaders(h http.Header, res *Result) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(max(int(res.RetryAfter().Seconds()), 1)))
	}
}

func plainTooMany(w http.ResponseWriter, _ *http.Request, _ *Result) {
	http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
}
