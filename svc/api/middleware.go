package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/tokengate/handler"
	"github.com/dmitrymomot/tokengate/pkg/clientip"
	"github.com/dmitrymomot/tokengate/pkg/entitlement"
	"github.com/dmitrymomot/tokengate/pkg/identity"
	"github.com/dmitrymomot/tokengate/pkg/logger"
	"github.com/dmitrymomot/tokengate/pkg/ratelimit"
	"github.com/dmitrymomot/tokengate/svc/account"
)

var accountKey = handler.NewContextKey("account")

// requestLogger writes one line per request. Probe traffic is logged at
// debug level.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			r = r.WithContext(logger.WithAccountSlot(r.Context()))

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case strings.HasPrefix(r.URL.Path, "/health/"), r.URL.Path == "/metrics":
				level = slog.LevelDebug
			}

			log.LogAttrs(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.String("ip", clientip.FromContext(r.Context())),
				logger.Duration(time.Since(start)),
			)
		})
	}
}

// requireAccount provisions the stored account of the authenticated caller
// and makes it available through accountFrom.
func requireAccount[R any](s *server) handler.Decorator[R] {
	return func(next handler.HandlerFunc[R]) handler.HandlerFunc[R] {
		return func(ctx handler.Context, req R) handler.Response {
			id, ok := identity.FromContext(ctx)
			if !ok {
				return s.fail(ctx, account.ErrInvalidIdentity)
			}
			acct, err := s.Accounts.Ensure(ctx, id)
			if err != nil {
				return s.fail(ctx, err)
			}
			ctx = handler.WithContext(ctx, logger.WithAccountID(ctx.Request().Context(), acct.ID))
			return next(handler.WithValue(ctx, accountKey, acct), req)
		}
	}
}

func accountFrom(ctx context.Context) *entitlement.Account {
	return handler.ContextValue[*entitlement.Account](ctx, accountKey)
}

func tooManyRequests(w http.ResponseWriter, r *http.Request, _ *ratelimit.Result) {
	_ = handler.JSONError(errTooManyRequests).Render(w, r)
}
