// Package identity verifies bearer tokens minted by the external identity
// provider and carries the resulting Identity through request contexts.
//
// Tokens are HS256 JWTs. The subject is the account id; the email and
// email_verified claims carry the rest of the identity.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSecret = errors.New("identity: signing secret is required")
	ErrMissingToken  = errors.New("identity: missing bearer token")
	ErrInvalidToken  = errors.New("identity: invalid token")
	ErrTokenExpired  = errors.New("identity: token expired")
)

type Identity struct {
	AccountID     string `json:"account_id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

type Config struct {
	Secret   string        `env:"IDENTITY_JWT_SECRET"`
	Issuer   string        `env:"IDENTITY_JWT_ISSUER"`
	Audience string        `env:"IDENTITY_JWT_AUDIENCE"`
	Leeway   time.Duration `env:"IDENTITY_JWT_LEEWAY" envDefault:"30s"`
}

// Claims is the token payload.
type Claims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

type JWTAuthenticator struct {
	cfg    Config
	secret []byte
	parser *jwt.Parser
}

func NewJWTAuthenticator(cfg Config) (*JWTAuthenticator, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &JWTAuthenticator{cfg: cfg, secret: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}, nil
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Identity{}, ErrTokenExpired
	case err != nil:
		return Identity{}, errors.Join(ErrInvalidToken, err)
	case !parsed.Valid || claims.Subject == "":
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		AccountID:     claims.Subject,
		Email:         strings.ToLower(strings.TrimSpace(claims.Email)),
		EmailVerified: claims.EmailVerified,
	}, nil
}

// Issue signs a token for id valid for ttl. The identity provider normally
// does this; the service uses it for development and support tooling.
func (a *JWTAuthenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.AccountID,
			Issuer:    a.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:         id.Email,
		EmailVerified: id.EmailVerified,
	}
	if a.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

type contextKey struct{}

func WithContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Middleware authenticates every request and stores the Identity in its
// context. Failures are passed to onError and stop the chain.
func Middleware(auth Authenticator, onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := auth.Authenticate(r.Context(), BearerToken(r))
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), id)))
		})
	}
}
