package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/tokengate/handler"
	"github.com/dmitrymomot/tokengate/pkg/billing"
	"github.com/dmitrymomot/tokengate/pkg/entitlement"
	"github.com/dmitrymomot/tokengate/pkg/generator"
	"github.com/dmitrymomot/tokengate/pkg/identity"
	"github.com/dmitrymomot/tokengate/pkg/logger"
	"github.com/dmitrymomot/tokengate/pkg/validator"
	"github.com/dmitrymomot/tokengate/svc/account"
	"github.com/dmitrymomot/tokengate/svc/generation"
	"github.com/dmitrymomot/tokengate/svc/metering"
	"github.com/dmitrymomot/tokengate/svc/reconciler"
)

var (
	errConfiguration = handler.HTTPError{
		Code:    http.StatusInternalServerError,
		Key:     "configuration_error",
		Message: "payment provider is not configured",
	}
	errEmptyPayload     = handler.HTTPError{Code: http.StatusBadRequest, Key: "empty_payload", Message: "webhook payload is empty"}
	errInvalidSignature = handler.HTTPError{Code: http.StatusBadRequest, Key: "invalid_signature", Message: "webhook signature verification failed"}
	errMissingCustomer  = handler.ErrBadRequest.WithMessage("an email or account id is required")
	errInvalidInput     = handler.ErrBadRequest.WithMessage("job description and master resume are required")
	errProvider         = handler.ErrBadGateway.WithMessage("payment provider request failed")
	errGeneration       = handler.ErrBadGateway.WithMessage("document generation failed")
	errStoreUnavailable = handler.ErrServiceUnavailable.WithMessage("storage is temporarily unavailable, retry later")
	errApplyFailed      = handler.ErrInternalServerError.WithMessage("event could not be applied, it will be redelivered")
	errTokenExpired     = handler.ErrUnauthorized.WithMessage("token expired")
	errInvalidToken     = handler.ErrUnauthorized.WithMessage("missing or invalid bearer token")
	errTooManyRequests  = handler.ErrTooManyRequests.WithMessage("too many checkout attempts, retry later")
)

var blockedMessages = map[entitlement.Reason]string{
	entitlement.ReasonTrialExhausted:  "free trial token limit reached, upgrade to continue",
	entitlement.ReasonEmailUnverified: "verify your email address to start the free trial",
}

// httpError maps a domain error onto the error rendered to the client.
// Validation errors pass through so their field details reach the response.
func httpError(err error) error {
	var (
		blocked *generation.BlockedError
		httpErr handler.HTTPError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr
	case validator.IsValidationError(err):
		return err
	case errors.As(err, &blocked):
		return handler.HTTPError{
			Code:    http.StatusPaymentRequired,
			Key:     string(blocked.Decision.Reason),
			Message: blockedMessages[blocked.Decision.Reason],
		}
	case billing.IsConfigError(err):
		return errConfiguration
	case errors.Is(err, billing.ErrEmptyPayload):
		return errEmptyPayload
	case billing.IsSignatureError(err):
		return errInvalidSignature
	case errors.Is(err, billing.ErrMissingCustomer):
		return errMissingCustomer
	case errors.Is(err, billing.ErrProviderError), errors.Is(err, billing.ErrNoCheckoutURL):
		return errProvider
	case errors.Is(err, reconciler.ErrApplyFailed):
		return errApplyFailed
	case errors.Is(err, generator.ErrInvalidInput):
		return errInvalidInput
	case errors.Is(err, generator.ErrGeneration):
		return errGeneration
	case errors.Is(err, identity.ErrTokenExpired):
		return errTokenExpired
	case errors.Is(err, identity.ErrMissingToken),
		errors.Is(err, identity.ErrInvalidToken),
		errors.Is(err, account.ErrInvalidIdentity),
		errors.Is(err, metering.ErrMissingAccountID):
		return errInvalidToken
	case errors.Is(err, metering.ErrBindingContention), entitlement.IsTransient(err):
		return errStoreUnavailable
	}
	return err
}

// fail logs err and renders its client-facing form.
func (s *server) fail(ctx handler.Context, err error) handler.Response {
	mapped := httpError(err)
	status := handler.StatusOf(mapped)

	attrs := []slog.Attr{
		logger.Error(err),
		slog.Int("status", status),
		slog.String("path", ctx.Request().URL.Path),
	}
	if acct := accountFrom(ctx); acct != nil {
		attrs = append(attrs, logger.AccountID(acct.ID))
	}

	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.log.LogAttrs(ctx, level, "request failed", attrs...)

	return handler.JSONError(mapped)
}

func (s *server) unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	s.log.DebugContext(r.Context(), "authentication failed", logger.Error(err))
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	_ = handler.JSONError(httpError(err)).Render(w, r)
}
