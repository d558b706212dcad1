package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrymomot/tokengate/handler"
	"github.com/dmitrymomot/tokengate/pkg/billing"
	"github.com/dmitrymomot/tokengate/pkg/binder"
)

// webhookRequest is the undecoded delivery. Signatures are computed over the
// exact bytes, so the body is never parsed before verification.
type webhookRequest struct {
	Payload   []byte
	Signature string
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

func rawWebhook(limit int64) handler.Bind {
	return func(r *http.Request, v any) error {
		req, ok := v.(*webhookRequest)
		if !ok {
			return fmt.Errorf("api: unexpected webhook target %T", v)
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
		if err != nil {
			return handler.ErrBadRequest.WithMessage("could not read request body")
		}
		if int64(len(body)) > limit {
			return fmt.Errorf("%w: max %d bytes", binder.ErrBodyTooLarge, limit)
		}
		req.Payload = body
		req.Signature = r.Header.Get(billing.SignatureHeader)
		return nil
	}
}

// paymentsWebhook acknowledges every event that was applied, skipped or
// could not be matched to an account. Only failures that a redelivery can
// fix answer 5xx.
func (s *server) paymentsWebhook(ctx handler.Context, req webhookRequest) handler.Response {
	outcome, err := s.Reconciler.HandleWebhook(ctx, req.Payload, req.Signature)
	if err != nil {
		return s.fail(ctx, err)
	}
	return handler.JSON(webhookResponse{Received: true, Outcome: string(outcome)})
}
