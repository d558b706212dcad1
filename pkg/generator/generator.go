// Package generator is the adapter to the document generation model.
//
// The core only needs the token cost of a call. Generated text is passed
// through to the caller; when the model answers in an unexpected shape the
// affected document is replaced with NotGenerated instead of failing the
// request, and the cost is still reported.
package generator

import (
	"context"
	"errors"
	"time"
)

// NotGenerated stands in for a document the model did not produce.
const NotGenerated = "Not generated"

var (
	ErrGeneration   = errors.New("generator: generation failed")
	ErrInvalidInput = errors.New("generator: job description and master resume are required")
)

type Input struct {
	JobDescription string `json:"job_description"`
	MasterResume   string `json:"master_resume"`
}

type Output struct {
	Resume      string `json:"resume"`
	CoverLetter string `json:"cover_letter"`
	TokenCost   uint64 `json:"token_cost"`
}

type Generator interface {
	Generate(ctx context.Context, in Input) (*Output, error)
}

type Config struct {
	BaseURL     string        `env:"GENERATOR_BASE_URL" envDefault:"https://api.openai.com/v1"`
	APIKey      string        `env:"GENERATOR_API_KEY"`
	Model       string        `env:"GENERATOR_MODEL" envDefault:"gpt-4o-mini"`
	Timeout     time.Duration `env:"GENERATOR_TIMEOUT" envDefault:"90s"`
	MaxTokens   int           `env:"GENERATOR_MAX_TOKENS" envDefault:"2048"`
	Temperature float64       `env:"GENERATOR_TEMPERATURE" envDefault:"0.7"`
}

func (in Input) validate() error {
	if in.JobDescription == "" || in.MasterResume == "" {
		return ErrInvalidInput
	}
	return nil
}

// Static returns fixed documents at a fixed cost. Used in development when no
// model is configured.
type Static struct {
	Cost uint64
}

func (s Static) Generate(_ context.Context, in Input) (*Output, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	cost := s.Cost
	if cost == 0 {
		cost = 1000
	}
	return &Output{
		Resume:      "Tailored resume for:\n" + in.JobDescription,
		CoverLetter: "Cover letter for:\n" + in.JobDescription,
		TokenCost:   cost,
	}, nil
}
