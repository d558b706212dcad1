// Package handler provides type-safe HTTP request handling for the JSON API.
//
// Handlers are generic functions that receive a bound request value and return
// a Response. Wrap adapts them to http.HandlerFunc:
//
//	type checkoutRequest struct {
//		Email string `json:"email"`
//	}
//
//	func createCheckout(ctx handler.Context, req checkoutRequest) handler.Response {
//		session, err := issuer.CreateSession(ctx, req.Email)
//		if err != nil {
//			return handler.JSONError(err)
//		}
//		return handler.JSON(session)
//	}
//
//	r.Post("/api/create-checkout-session", handler.Wrap(createCheckout,
//		handler.WithBinder[checkoutRequest](binder.JSON()),
//	))
//
// # Responses
//
// Every JSON body uses the same envelope:
//
//	{"data": ..., "meta": {...}, "error": {"code": "...", "message": "...", "details": {...}}}
//
// JSONError maps HTTPError values to their status code and validator.ValidationErrors
// to 400 with per-field details. Any other error becomes 500.
//
// # Errors
//
// Binding and rendering failures go through the configured ErrorHandler.
// NewErrorHandler renders them as JSON and logs them with the request id.
package handler
