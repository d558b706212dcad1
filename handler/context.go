package handler

import (
	"context"
	"net/http"
)

// Context is the request context handed to every HandlerFunc. Cancellation
// and values come from the request's own context.
type Context interface {
	context.Context
	Request() *http.Request
	ResponseWriter() http.ResponseWriter
}

type reqCtx struct {
	context.Context
	w http.ResponseWriter
	r *http.Request
}

func newContext(w http.ResponseWriter, r *http.Request) Context {
	return reqCtx{Context: r.Context(), w: w, r: r}
}

func (c reqCtx) Request() *http.Request              { return c.r }
func (c reqCtx) ResponseWriter() http.ResponseWriter { return c.w }

// WithValue returns a copy of ctx whose request carries key=val, so
// values added by decorators are visible to the handler and to Render.
func WithValue(ctx Context, key, val any) Context {
	return WithContext(ctx, context.WithValue(ctx.Request().Context(), key, val))
}

// WithContext returns ctx with its request context replaced by c, which
// should be derived from ctx.
func WithContext(ctx Context, c context.Context) Context {
	return newContext(ctx.ResponseWriter(), ctx.Request().WithContext(c))
}

// Key is a comparable context key with a readable name.
type Key struct{ name string }

func (k *Key) String() string { return "handler key " + k.name }

// NewContextKey allocates a key that cannot collide with keys from other packages.
//
//	var accountKey = handler.NewContextKey("account")
func NewContextKey(name string) *Key { return &Key{name: name} }

// ContextValue returns the value stored under key as T, or the zero T.
func ContextValue[T any](ctx context.Context, key any) T {
	v, _ := ctx.Value(key).(T)
	return v
}
