package api

import (
	"github.com/dmitrymomot/tokengate/handler"
	"github.com/dmitrymomot/tokengate/pkg/binder"
	"github.com/dmitrymomot/tokengate/svc/checkout"
)

type checkoutRequest struct {
	Email     string `json:"email"`
	AccountID string `json:"accountId"`
}

type checkoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

func (s *server) createCheckoutSession(ctx handler.Context, req checkoutRequest) handler.Response {
	session, err := s.Checkout.CreateSession(ctx, checkout.Request{
		Email:     req.Email,
		AccountID: req.AccountID,
	})
	if err != nil {
		return s.fail(ctx, err)
	}
	return handler.JSON(checkoutResponse{SessionID: session.ID, URL: session.URL})
}

// jsonBinder decodes bounded JSON bodies. Browser clients may send fields
// the handler does not know about, so lenient is used on public endpoints.
func (s *server) jsonBinder(lenient bool) handler.Bind {
	opts := []binder.JSONOption{binder.WithMaxBytes(s.maxBody)}
	if lenient {
		opts = append(opts, binder.AllowUnknownFields())
	}
	return binder.JSON(opts...)
}
