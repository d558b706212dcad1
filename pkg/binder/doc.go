// Package binder decodes HTTP request bodies into typed request values.
//
// Only JSON bodies are supported. The binder enforces the media type,
// caps the body size, rejects trailing data and trims surrounding
// whitespace from every decoded string field:
//
//	type checkoutRequest struct {
//		Email     string `json:"email"`
//		AccountID string `json:"accountId"`
//	}
//
//	var req checkoutRequest
//	if err := binder.JSON()(r, &req); err != nil {
//		// errors.Is(err, binder.ErrFailedToParseJSON) etc.
//	}
//
// Binders return ErrBinderNotApplicable when a request carries nothing for
// them to bind, which lets handler.Wrap chain several binders.
package binder
