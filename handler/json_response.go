package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrymomot/tokengate/pkg/validator"
)

// JSONResponse is the envelope every API response is written in. Exactly
// one of Data and Error is set.
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail is the error half of the envelope. Code is machine readable,
// Details carries per-field validation messages.
type ErrorDetail struct {
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type envelope struct {
	status int
	header http.Header
	body   JSONResponse
}

// JSONOption adjusts a JSON response.
type JSONOption func(*envelope)

// WithJSONMeta sets the meta object.
func WithJSONMeta(meta map[string]any) JSONOption {
	return func(e *envelope) { e.body.Meta = meta }
}

// WithJSONHeader adds a response header.
func WithJSONHeader(key, value string) JSONOption {
	return func(e *envelope) { e.header.Set(key, value) }
}

// JSON answers 200 with v as data. An error value is rendered as JSONError would.
func JSON(v any, opts ...JSONOption) Response {
	if err, ok := v.(error); ok {
		return JSONError(err, opts...)
	}
	return build(http.StatusOK, JSONResponse{Data: v}, opts)
}

// JSONError renders err with the status it maps to. Only HTTPError and
// validation errors expose their text; anything else becomes a generic 500.
func JSONError(err error, opts ...JSONOption) Response {
	status, detail := describe(err)
	return build(status, JSONResponse{Error: detail}, opts)
}

func build(status int, body JSONResponse, opts []JSONOption) *envelope {
	e := &envelope{status: status, header: http.Header{}, body: body}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *envelope) Render(w http.ResponseWriter, _ *http.Request) error {
	h := w.Header()
	for k, v := range e.header {
		h[k] = v
	}
	h.Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.status)
	return json.NewEncoder(w).Encode(e.body)
}

func describe(err error) (int, *ErrorDetail) {
	if ve := validator.ExtractValidationErrors(err); ve != nil {
		return http.StatusBadRequest, &ErrorDetail{
			Code:    "validation_error",
			Message: "validation failed",
			Details: ve.Fields(),
		}
	}

	var he HTTPError
	if !errors.As(err, &he) {
		he = ErrInternalServerError
	}
	msg := he.Message
	if msg == "" {
		msg = http.StatusText(he.Code)
	}
	return he.Code, &ErrorDetail{Code: he.Key, Message: msg}
}
