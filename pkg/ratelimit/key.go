package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmitrymomot/tokengate/pkg/clientip"
	"github.com/dmitrymomot/tokengate/pkg/fingerprint"
)

// KeyFunc names the bucket a request is counted against. An empty key
// exempts the request.
type KeyFunc func(*http.Request) string

// ByIP buckets by client address, preferring the one resolved by clientip.Middleware.
func ByIP() KeyFunc {
	return func(r *http.Request) string {
		ip := clientip.FromContext(r.Context())
		if ip == "" {
			ip = clientip.GetIP(r)
		}
		return prefixed("ip", ip)
	}
}

// ByDevice buckets by the fingerprint attached by fingerprint.Middleware.
func ByDevice() KeyFunc {
	return func(r *http.Request) string {
		return prefixed("device", fingerprint.FromContext(r.Context()))
	}
}

// ByHeader buckets by a request header value.
func ByHeader(name string) KeyFunc {
	label := strings.ToLower(name)
	return func(r *http.Request) string {
		return prefixed(label, strings.TrimSpace(r.Header.Get(name)))
	}
}

// Composite joins the non-empty keys of fns. Joined keys over 64 bytes are
// replaced by a 32-char hex digest.
func Composite(fns ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		var b strings.Builder
		for _, fn := range fns {
			k := fn(r)
			if k == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte(':')
			}
			b.WriteString(k)
		}
		if b.Len() <= 64 {
			return b.String()
		}
		sum := sha256.Sum256([]byte(b.String()))
		return hex.EncodeToString(sum[:16])
	}
}

// ParseKey resolves a key spec: "ip", "device", "header:<Name>", or several
// of those joined with "+" (e.g. "ip+device"), which buckets by all of them.
func ParseKey(spec string) (KeyFunc, error) {
	parts := strings.Split(spec, "+")
	fns := make([]KeyFunc, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		switch name, arg, _ := strings.Cut(p, ":"); {
		case p == "ip":
			fns = append(fns, ByIP())
		case p == "device":
			fns = append(fns, ByDevice())
		case name == "header" && arg != "":
			fns = append(fns, ByHeader(arg))
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, p)
		}
	}
	if len(fns) == 1 {
		return fns[0], nil
	}
	return Composite(fns...), nil
}

func prefixed(kind, v string) string {
	if v == "" {
		return ""
	}
	return kind + ":" + v
}
