package api

import (
	"errors"

	"github.com/dmitrymomot/tokengate/handler"
	"github.com/dmitrymomot/tokengate/pkg/entitlement"
	"github.com/dmitrymomot/tokengate/pkg/fingerprint"
	"github.com/dmitrymomot/tokengate/pkg/logger"
	"github.com/dmitrymomot/tokengate/pkg/validator"
	"github.com/dmitrymomot/tokengate/svc/generation"
	"github.com/dmitrymomot/tokengate/svc/metering"
)

const maxDocumentLen = 50000

func (s *server) usage(ctx handler.Context, _ struct{}) handler.Response {
	snap, err := s.Metering.Usage(ctx, accountFrom(ctx).ID)
	if err != nil {
		return s.fail(ctx, err)
	}
	return handler.JSON(snap)
}

type checkResponse struct {
	entitlement.Decision
	Fingerprint bool `json:"fingerprint"`
}

// checkUsage binds the calling device as a side effect of the check.
func (s *server) checkUsage(ctx handler.Context, _ struct{}) handler.Response {
	fp := fingerprint.FromContext(ctx)
	decision, err := s.Metering.CheckAllowance(ctx, accountFrom(ctx).ID, fp)
	if err != nil {
		return s.fail(ctx, err)
	}
	return handler.JSON(checkResponse{Decision: decision, Fingerprint: fp != ""})
}

type generateRequest struct {
	JobDescription string `json:"jobDescription"`
	MasterResume   string `json:"masterResume"`
}

func (r generateRequest) validate() error {
	return validator.Apply(
		validator.Required("jobDescription", r.JobDescription),
		validator.Required("masterResume", r.MasterResume),
		validator.MaxLen("jobDescription", r.JobDescription, maxDocumentLen),
		validator.MaxLen("masterResume", r.MasterResume, maxDocumentLen),
	)
}

func (s *server) generate(ctx handler.Context, req generateRequest) handler.Response {
	if err := req.validate(); err != nil {
		return s.fail(ctx, err)
	}

	acct := accountFrom(ctx)
	res, err := s.Generation.Generate(ctx, generation.Request{
		AccountID:      acct.ID,
		Fingerprint:    fingerprint.FromContext(ctx),
		JobDescription: req.JobDescription,
		MasterResume:   req.MasterResume,
	})
	switch {
	case err == nil:
		return handler.JSON(res)
	case res != nil && errors.Is(err, metering.ErrUsageNotRecorded):
		s.log.WarnContext(ctx, "returning documents with unrecorded usage",
			logger.AccountID(acct.ID),
			logger.Tokens("token_cost", res.TokenCost),
			logger.Error(err),
		)
		return handler.JSON(res, handler.WithJSONMeta(map[string]any{"warning": "usage_not_recorded"}))
	default:
		return s.fail(ctx, err)
	}
}
