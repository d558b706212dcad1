package handler

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/tokengate/pkg/binder"
)

// Response writes itself to w.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// HandlerFunc handles a request already decoded into R.
type HandlerFunc[R any] func(ctx Context, req R) Response

// Decorator wraps a HandlerFunc. In WithDecorators the first one runs first.
type Decorator[R any] func(HandlerFunc[R]) HandlerFunc[R]

// Bind decodes part of r into v. Returning binder.ErrBinderNotApplicable
// skips the binder.
type Bind func(r *http.Request, v any) error

// ErrorHandler renders err for ctx.
type ErrorHandler func(ctx Context, err error)

// Option customises Wrap.
type Option[R any] func(*pipeline[R])

type pipeline[R any] struct {
	binds      []Bind
	onError    ErrorHandler
	decorators []Decorator[R]
	handle     HandlerFunc[R]
}

// WithBinder appends b to the binders run before the handler.
func WithBinder[R any](b Bind) Option[R] {
	return func(p *pipeline[R]) {
		if b != nil {
			p.binds = append(p.binds, b)
		}
	}
}

// WithErrorHandler replaces the default error rendering.
func WithErrorHandler[R any](h ErrorHandler) Option[R] {
	return func(p *pipeline[R]) {
		if h != nil {
			p.onError = h
		}
	}
}

// WithDecorators wraps the handler with d.
func WithDecorators[R any](d ...Decorator[R]) Option[R] {
	return func(p *pipeline[R]) { p.decorators = append(p.decorators, d...) }
}

func renderError(ctx Context, err error) {
	_ = JSONError(classify(err)).Render(ctx.ResponseWriter(), ctx.Request())
}

// Wrap adapts h to net/http. Binding, handler and render errors all go
// through the error handler.
//
//	r.Post("/api/usage/check", handler.Wrap(checkUsage,
//		handler.WithBinder[checkRequest](binder.JSON()),
//		handler.WithErrorHandler[checkRequest](onError),
//	))
func Wrap[R any](h HandlerFunc[R], opts ...Option[R]) http.HandlerFunc {
	p := &pipeline[R]{onError: renderError, handle: h}
	for _, opt := range opts {
		opt(p)
	}
	for i := len(p.decorators) - 1; i >= 0; i-- {
		p.handle = p.decorators[i](p.handle)
	}
	return p.serve
}

func (p *pipeline[R]) bind(r *http.Request) (R, error) {
	var req R
	for _, b := range p.binds {
		if err := b(r, &req); err != nil && !errors.Is(err, binder.ErrBinderNotApplicable) {
			return req, err
		}
	}
	return req, nil
}

func (p *pipeline[R]) serve(w http.ResponseWriter, r *http.Request) {
	ctx := newContext(w, r)

	req, err := p.bind(r)
	if err != nil {
		p.onError(ctx, err)
		return
	}

	resp := p.handle(ctx, req)
	if resp == nil {
		p.onError(ctx, ErrNilResponse)
		return
	}
	if err := resp.Render(w, r); err != nil {
		p.onError(ctx, err)
	}
}
