// Package generation runs one document generation for an account: an
// allowance check, the external generation call, then the usage commit.
package generation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/tokengate/pkg/entitlement"
	"github.com/dmitrymomot/tokengate/pkg/generator"
	"github.com/dmitrymomot/tokengate/pkg/logger"
	"github.com/dmitrymomot/tokengate/pkg/metrics"
	"github.com/dmitrymomot/tokengate/svc/metering"
)

// BlockedError is returned when the allowance check fails.
type BlockedError struct {
	Decision entitlement.Decision
}

func (e *BlockedError) Error() string {
	return "generation: blocked: " + string(e.Decision.Reason)
}

func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }

var ErrBlocked = errors.New("generation: blocked")

type Request struct {
	AccountID      string
	Fingerprint    string
	JobDescription string
	MasterResume   string
}

type Result struct {
	Resume      string `json:"resume"`
	CoverLetter string `json:"coverLetter"`
	TokenCost   uint64 `json:"tokenCost"`
	TotalTokens uint64 `json:"totalTokens"`
	// UsageRecorded is false when the cost could not be committed. The
	// documents are still returned.
	UsageRecorded bool `json:"usageRecorded"`
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

type Service struct {
	meter   metering.Service
	gen     generator.Generator
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewService(meter metering.Service, gen generator.Generator, opts ...Option) *Service {
	if meter == nil || gen == nil {
		panic("generation: metering service and generator are required")
	}
	s := &Service{meter: meter, gen: gen, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("generation"))
	return s
}

// Generate never retries the generation call. A failed usage commit is
// reported through Result.UsageRecorded and the returned error, together
// with the documents.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	decision, err := s.meter.CheckAllowance(ctx, req.AccountID, req.Fingerprint)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &BlockedError{Decision: decision}
	}

	start := time.Now()
	out, err := s.gen.Generate(ctx, generator.Input{
		JobDescription: req.JobDescription,
		MasterResume:   req.MasterResume,
	})
	s.metrics.Generation(time.Since(start), err)
	if err != nil {
		s.log.ErrorContext(ctx, "generation failed", logger.AccountID(req.AccountID), logger.Error(err))
		return nil, err
	}

	res := &Result{
		Resume:      out.Resume,
		CoverLetter: out.CoverLetter,
		TokenCost:   out.TokenCost,
	}

	total, err := s.meter.CommitUsage(ctx, req.AccountID, out.TokenCost)
	if err != nil {
		return res, err
	}
	res.TotalTokens = total
	res.UsageRecorded = true
	return res, nil
}
