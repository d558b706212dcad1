package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	resumeMarker      = "===RESUME==="
	coverLetterMarker = "===COVER LETTER==="
	maxResponseBytes  = 4 << 20
)

// HTTPGenerator calls an OpenAI-compatible chat completions endpoint.
type HTTPGenerator struct {
	cfg    Config
	client *http.Client
}

type HTTPOption func(*HTTPGenerator)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(g *HTTPGenerator) {
		if c != nil {
			g.client = c
		}
	}
}

func NewHTTPGenerator(cfg Config, opts ...HTTPOption) *HTTPGenerator {
	g := &HTTPGenerator{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, in Input) (*Output, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(chatRequest{
		Model:       g.cfg.Model,
		Messages:    buildMessages(in),
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return nil, errors.Join(ErrGeneration, err)
	}

	url := strings.TrimRight(g.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Join(ErrGeneration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errors.Join(ErrGeneration, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Join(ErrGeneration, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(raw, "error.message").String()
		return nil, errors.Join(ErrGeneration, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	return parseCompletion(raw)
}

// parseCompletion reads the token usage and splits the reply into the two
// documents. Only an unreadable body is an error.
func parseCompletion(raw []byte) (*Output, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.Join(ErrGeneration, errors.New("malformed completion body"))
	}

	res := gjson.GetManyBytes(raw, "usage.total_tokens", "choices.0.message.content")
	out := &Output{
		Resume:      NotGenerated,
		CoverLetter: NotGenerated,
		TokenCost:   res[0].Uint(),
	}

	resume, cover := splitDocuments(res[1].String())
	if resume != "" {
		out.Resume = resume
	}
	if cover != "" {
		out.CoverLetter = cover
	}
	return out, nil
}

func splitDocuments(content string) (resume, cover string) {
	_, rest, ok := strings.Cut(content, resumeMarker)
	if !ok {
		return "", ""
	}
	resume, cover, _ = strings.Cut(rest, coverLetterMarker)
	return strings.TrimSpace(resume), strings.TrimSpace(cover)
}

func buildMessages(in Input) []chatMessage {
	system := "You rewrite a master resume to fit a job description and write a matching cover letter. " +
		"Answer with the resume after a line containing " + resumeMarker +
		" and the cover letter after a line containing " + coverLetterMarker + "."
	user := "Job description:\n" + in.JobDescription + "\n\nMaster resume:\n" + in.MasterResume
	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
