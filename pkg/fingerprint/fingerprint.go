package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/dmitrymomot/tokengate/pkg/clientip"
	"github.com/dmitrymomot/tokengate/pkg/logger"
)

// HintHeader carries an optional client-computed device identifier.
const HintHeader = "X-Device-Fingerprint"

var validHint = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

// stableHeaders are the headers whose presence differs between browsers but
// not between requests from the same browser.
var stableHeaders = map[string]struct{}{
	"user-agent":                {},
	"accept":                    {},
	"accept-language":           {},
	"accept-encoding":           {},
	"connection":                {},
	"upgrade-insecure-requests": {},
	"sec-fetch-dest":            {},
	"sec-fetch-mode":            {},
	"sec-fetch-site":            {},
	"sec-ch-ua-platform":        {},
}

// Generate returns the fingerprint for r.
func Generate(r *http.Request) string {
	if hint := r.Header.Get(HintHeader); validHint.MatchString(hint) {
		return digest("hint", hint)
	}
	return digest(
		"req",
		r.UserAgent(),
		r.Header.Get("Accept-Language"),
		r.Header.Get("Accept-Encoding"),
		r.Header.Get("Accept"),
		clientip.GetIP(r),
		headerSet(r),
	)
}

func digest(kind string, parts ...string) string {
	nonEmpty := make([]string, 0, len(parts)+1)
	nonEmpty = append(nonEmpty, kind)
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(nonEmpty, "|")))
	return hex.EncodeToString(sum[:16])
}

func headerSet(r *http.Request) string {
	names := make([]string, 0, len(stableHeaders))
	for name := range r.Header {
		lower := strings.ToLower(name)
		if _, ok := stableHeaders[lower]; ok {
			names = append(names, lower)
		}
	}
	slices.Sort(names)
	return strings.Join(names, ",")
}

type contextKey struct{}

func WithContext(ctx context.Context, fp string) context.Context {
	return context.WithValue(ctx, contextKey{}, fp)
}

// FromContext returns the fingerprint stored by Middleware, or "".
func FromContext(ctx context.Context) string {
	fp, _ := ctx.Value(contextKey{}).(string)
	return fp
}

// LoggerExtractor plugs into logger.WithContextExtractors.
func LoggerExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if fp := FromContext(ctx); fp != "" {
			return logger.Fingerprint(fp), true
		}
		return slog.Attr{}, false
	}
}

// Middleware computes the fingerprint once per request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), Generate(r))))
	})
}
