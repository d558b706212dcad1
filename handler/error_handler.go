package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/tokengate/pkg/binder"
	"github.com/dmitrymomot/tokengate/pkg/logger"
	"github.com/dmitrymomot/tokengate/pkg/requestid"
	"github.com/dmitrymomot/tokengate/pkg/validator"
)

// classify turns binding failures into client errors and leaves everything else untouched.
func classify(err error) error {
	switch {
	case errors.Is(err, binder.ErrBodyTooLarge):
		return ErrPayloadTooLarge.WithMessage("request body is too large")
	case errors.Is(err, binder.ErrMissingContentType),
		errors.Is(err, binder.ErrUnsupportedMediaType):
		return ErrBadRequest.WithMessage("expected application/json body")
	case errors.Is(err, binder.ErrFailedToParseJSON):
		return ErrBadRequest.WithMessage("invalid JSON body")
	}
	return err
}

// StatusOf reports the HTTP status err would be rendered with.
func StatusOf(err error) int {
	status, _ := describe(classify(err))
	return status
}

// NewErrorHandler returns an ErrorHandler that logs err and renders it as a JSON envelope.
// Client errors are logged at debug level, server errors at error level.
func NewErrorHandler(log *slog.Logger) ErrorHandler {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx Context, err error) {
		err = classify(err)
		status := StatusOf(err)

		attrs := []any{
			logger.Error(err),
			slog.Int("status", status),
			slog.String("method", ctx.Request().Method),
			slog.String("path", ctx.Request().URL.Path),
		}
		if id := requestid.FromContext(ctx); id != "" {
			attrs = append(attrs, logger.RequestID(id))
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.ErrorContext(ctx, "request failed", attrs...)
		case validator.IsValidationError(err):
			log.DebugContext(ctx, "request validation failed", attrs...)
		default:
			log.DebugContext(ctx, "request rejected", attrs...)
		}

		if renderErr := JSONError(err).Render(ctx.ResponseWriter(), ctx.Request()); renderErr != nil {
			log.ErrorContext(ctx, "failed to render error response", logger.Error(renderErr))
		}
	}
}
