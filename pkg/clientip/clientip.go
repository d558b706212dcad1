// Package clientip resolves the originating client address of an HTTP
// request that may have passed through CDN and load-balancer hops.
package clientip

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// headers are consulted in order; the first one holding a parseable IP wins.
// X-Forwarded-For is handled separately because it carries a list.
var headers = []string{
	"CF-Connecting-IP",
	"DO-Connecting-IP",
	"True-Client-IP",
}

// GetIP returns the normalized client IP, or an empty string when nothing in
// the request parses as an address.
func GetIP(r *http.Request) string {
	for _, h := range headers {
		if ip := normalize(r.Header.Get(h)); ip != "" {
			return ip
		}
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for part := range strings.SplitSeq(fwd, ",") {
			if ip := normalize(part); ip != "" {
				return ip
			}
		}
	}

	if ip := normalize(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return normalize(r.RemoteAddr)
	}
	return normalize(host)
}

func normalize(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}

type contextKey struct{}

func WithContext(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKey{}, ip)
}

func FromContext(ctx context.Context) string {
	ip, _ := ctx.Value(contextKey{}).(string)
	return ip
}

// Middleware stores the resolved client IP in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), GetIP(r))))
	})
}
