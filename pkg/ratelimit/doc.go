// Package ratelimit throttles HTTP requests per client key.
//
// Local keeps one golang.org/x/time/rate token bucket per key in process memory.
// Redis counts requests in a fixed window shared across instances.
// Middleware wires either into an http.Handler chain and fails open when the
// limiter itself errors:
//
//	limiter, _ := ratelimit.NewLocal(cfg)
//	r.With(ratelimit.Middleware(limiter, ratelimit.ByIP())).Post("/api/create-checkout-session", h)
package ratelimit
