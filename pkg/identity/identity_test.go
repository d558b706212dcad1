package identity_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tokengate/pkg/identity"
)

var cfg = identity.Config{Secret: "test-secret", Issuer: "https://id.example.com", Audience: "tokengate"}

func newAuth(t *testing.T, c identity.Config) *identity.JWTAuthenticator {
	t.Helper()
	a, err := identity.NewJWTAuthenticator(c)
	require.NoError(t, err)
	return a
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	auth := newAuth(t, cfg)
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		token, err := auth.Issue(identity.Identity{AccountID: "acct_1", Email: "User@Example.com", EmailVerified: true}, time.Hour)
		require.NoError(t, err)

		id, err := auth.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, identity.Identity{AccountID: "acct_1", Email: "user@example.com", EmailVerified: true}, id)
	})

	t.Run("expired", func(t *testing.T) {
		t.Parallel()
		token, err := auth.Issue(identity.Identity{AccountID: "acct_1"}, -time.Hour)
		require.NoError(t, err)

		_, err = auth.Authenticate(ctx, token)
		require.ErrorIs(t, err, identity.ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		other := newAuth(t, identity.Config{Secret: "other", Issuer: cfg.Issuer, Audience: cfg.Audience})
		token, err := other.Issue(identity.Identity{AccountID: "acct_1"}, time.Hour)
		require.NoError(t, err)

		_, err = auth.Authenticate(ctx, token)
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("wrong audience", func(t *testing.T) {
		t.Parallel()
		other := newAuth(t, identity.Config{Secret: cfg.Secret, Issuer: cfg.Issuer, Audience: "elsewhere"})
		token, err := other.Issue(identity.Identity{AccountID: "acct_1"}, time.Hour)
		require.NoError(t, err)

		_, err = auth.Authenticate(ctx, token)
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		t.Parallel()
		token, err := auth.Issue(identity.Identity{}, time.Hour)
		require.NoError(t, err)

		_, err = auth.Authenticate(ctx, token)
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("alg none rejected", func(t *testing.T) {
		t.Parallel()
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   "acct_1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = auth.Authenticate(ctx, token)
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		_, err := auth.Authenticate(ctx, "")
		require.ErrorIs(t, err, identity.ErrMissingToken)
	})
}

func TestNewJWTAuthenticatorRequiresSecret(t *testing.T) {
	t.Parallel()
	_, err := identity.NewJWTAuthenticator(identity.Config{})
	require.ErrorIs(t, err, identity.ErrMissingSecret)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	auth := newAuth(t, cfg)
	var got identity.Identity
	var gotErr error
	h := identity.Middleware(auth, func(w http.ResponseWriter, r *http.Request, err error) {
		gotErr = err
		w.WriteHeader(http.StatusUnauthorized)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = identity.FromContext(r.Context())
	}))

	token, err := auth.Issue(identity.Identity{AccountID: "acct_1", Email: "a@example.com"}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acct_1", got.AccountID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.ErrorIs(t, gotErr, identity.ErrMissingToken)
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, identity.BearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, identity.BearerToken(req))

	req.Header.Set("Authorization", "bearer abc.def")
	assert.Equal(t, "abc.def", identity.BearerToken(req))
}
