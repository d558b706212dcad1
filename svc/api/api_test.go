package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tokengate/pkg/billing"
	"github.com/dmitrymomot/tokengate/pkg/entitlement"
	"github.com/dmitrymomot/tokengate/pkg/fingerprint"
	"github.com/dmitrymomot/tokengate/pkg/generator"
	"github.com/dmitrymomot/tokengate/pkg/httpserver"
	"github.com/dmitrymomot/tokengate/pkg/idempotency"
	"github.com/dmitrymomot/tokengate/pkg/identity"
	"github.com/dmitrymomot/tokengate/pkg/logger"
	"github.com/dmitrymomot/tokengate/pkg/metrics"
	"github.com/dmitrymomot/tokengate/pkg/ratelimit"
	"github.com/dmitrymomot/tokengate/pkg/requestid"
	"github.com/dmitrymomot/tokengate/pkg/retry"
	"github.com/dmitrymomot/tokengate/svc/account"
	"github.com/dmitrymomot/tokengate/svc/api"
	"github.com/dmitrymomot/tokengate/svc/checkout"
	"github.com/dmitrymomot/tokengate/svc/generation"
	"github.com/dmitrymomot/tokengate/svc/metering"
	"github.com/dmitrymomot/tokengate/svc/reconciler"
)

const (
	trialLimit     = 2000
	generationCost = 1500
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.Session, error) {
	args := m.Called(ctx, req)
	s, _ := args.Get(0).(*billing.Session)
	return s, args.Error(1)
}

func (m *mockProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*billing.Event, error) {
	args := m.Called(ctx, payload, signature)
	ev, _ := args.Get(0).(*billing.Event)
	return ev, args.Error(1)
}

// acceptingVerifier treats every delivery as authentic.
type acceptingVerifier struct{}

func (acceptingVerifier) Verify(*http.Request) (bool, error) { return true, nil }

type fixture struct {
	handler http.Handler
	store   *entitlement.MemoryStore
	auth    *identity.JWTAuthenticator
}

func newFixture(t *testing.T, provider billing.Provider, opts ...api.Option) *fixture {
	t.Helper()

	log := logger.Discard()
	fastRetry := retry.Config{Attempts: 2, Interval: time.Millisecond}

	store := entitlement.NewMemoryStore()
	auth, err := identity.NewJWTAuthenticator(identity.Config{Secret: "test-secret"})
	require.NoError(t, err)

	meter := metering.NewService(store, entitlement.Policy{TrialTokenLimit: trialLimit},
		metering.WithLogger(log),
		metering.WithRetry(fastRetry),
	)

	deps := api.Deps{
		Checkout: checkout.NewIssuer(provider, checkout.Config{
			PriceID:    "pri_test",
			SuccessURL: "http://localhost:3000/?success=true",
			CancelURL:  "http://localhost:3000/?canceled=true",
		}, checkout.WithLogger(log)),
		Reconciler: reconciler.New(store, provider, idempotency.NewMemoryLedger(time.Hour),
			reconciler.WithLogger(log),
			reconciler.WithRetry(fastRetry),
		),
		Accounts:   account.NewService(store, log),
		Metering:   meter,
		Generation: generation.NewService(meter, generator.Static{Cost: generationCost}, generation.WithLogger(log)),
		Auth:       auth,
	}

	return &fixture{
		handler: api.New(deps, append([]api.Option{api.WithLogger(log)}, opts...)...),
		store:   store,
		auth:    auth,
	}
}

func (f *fixture) token(t *testing.T, accountID, email string) string {
	t.Helper()
	tok, err := f.auth.Issue(identity.Identity{AccountID: accountID, Email: email}, time.Hour)
	require.NoError(t, err)
	return tok
}

type call struct {
	method      string
	path        string
	body        string
	token       string
	fingerprint string
	header      map[string]string
}

func (f *fixture) do(t *testing.T, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.fingerprint != "" {
		req.Header.Set(fingerprint.HintHeader, c.fingerprint)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", body)
	return d
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "response has no error object: %v", body)
	code, _ := e["code"].(string)
	return code
}

func TestCreateCheckoutSession(t *testing.T) {
	t.Parallel()

	t.Run("returns session", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		provider.On("CreateCheckout", mock.Anything, mock.MatchedBy(func(req billing.CheckoutRequest) bool {
			return req.Email == "jane@example.com" && req.AccountID == "acct-1" && req.PriceID == "pri_test"
		})).Return(&billing.Session{ID: "txn_123", URL: "https://pay.example.com/txn_123"}, nil).Once()

		f := newFixture(t, provider)
		rec, body := f.do(t, call{
			method: http.MethodPost,
			path:   "/api/create-checkout-session",
			body:   `{"email":"  Jane@Example.com ","accountId":"acct-1","utm":"ignored"}`,
		})

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		d := data(t, body)
		assert.Equal(t, "txn_123", d["sessionId"])
		assert.Equal(t, "https://pay.example.com/txn_123", d["url"])
		provider.AssertExpectations(t)
	})

	t.Run("invalid email", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		f := newFixture(t, provider)

		rec, body := f.do(t, call{method: http.MethodPost, path: "/api/create-checkout-session", body: `{"email":"not-an-email"}`})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation_error", errorCode(t, body))
		provider.AssertNotCalled(t, "CreateCheckout", mock.Anything, mock.Anything)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &mockProvider{})

		rec, body := f.do(t, call{method: http.MethodPost, path: "/api/create-checkout-session", body: `{"email":`})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "bad_request", errorCode(t, body))
	})

	t.Run("wrong method", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &mockProvider{})

		rec, body := f.do(t, call{method: http.MethodGet, path: "/api/create-checkout-session"})

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "method_not_allowed", errorCode(t, body))
	})

	t.Run("provider not configured", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, billing.Disabled{Cause: billing.ErrMissingAPIKey})

		rec, body := f.do(t, call{method: http.MethodPost, path: "/api/create-checkout-session", body: `{"email":"jane@example.com"}`})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "configuration_error", errorCode(t, body))
	})

	t.Run("provider failure", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		provider.On("CreateCheckout", mock.Anything, mock.Anything).
			Return(nil, errors.New("connection reset")).Once()
		f := newFixture(t, provider)

		rec, body := f.do(t, call{method: http.MethodPost, path: "/api/create-checkout-session", body: `{"email":"jane@example.com"}`})

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "bad_gateway", errorCode(t, body))
		assert.NotContains(t, rec.Body.String(), "connection reset")
	})

	t.Run("rate limited", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		provider.On("CreateCheckout", mock.Anything, mock.Anything).
			Return(&billing.Session{ID: "txn_1", URL: "https://pay.example.com/txn_1"}, nil)

		limiter, err := ratelimit.NewLocal(ratelimit.Config{Rate: 0.01, Burst: 1, IdleTTL: time.Minute})
		require.NoError(t, err)
		f := newFixture(t, provider, api.WithCheckoutLimiter(limiter, nil))

		first, _ := f.do(t, call{method: http.MethodPost, path: "/api/create-checkout-session", body: `{"email":"jane@example.com"}`})
		require.Equal(t, http.StatusOK, first.Code)

		second, body := f.do(t, call{method: http.MethodPost, path: "/api/create-checkout-session", body: `{"email":"jane@example.com"}`})
		assert.Equal(t, http.StatusTooManyRequests, second.Code)
		assert.Equal(t, "too_many_requests", errorCode(t, body))
		assert.NotEmpty(t, second.Header().Get("Retry-After"))
	})
}

func TestPaymentsWebhook(t *testing.T) {
	t.Parallel()

	const signature = "ts=1;h1=abc"

	t.Run("applies and deduplicates", func(t *testing.T) {
		t.Parallel()
		payload := `{"event_id":"evt_1"}`
		provider := &mockProvider{}
		provider.On("ParseWebhook", mock.Anything, []byte(payload), signature).Return(&billing.Event{
			ID:        "evt_1",
			Type:      billing.EventCheckoutCompleted,
			AccountID: "acct-1",
		}, nil)

		f := newFixture(t, provider)
		require.NoError(t, f.store.CreateAccount(context.Background(),
			entitlement.NewAccount("acct-1", "jane@example.com", true, time.Now())))

		webhook := call{
			method: http.MethodPost,
			path:   "/api/webhooks/payments",
			body:   payload,
			header: map[string]string{billing.SignatureHeader: signature},
		}

		rec, body := f.do(t, webhook)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, true, data(t, body)["received"])
		assert.Equal(t, string(reconciler.OutcomeApplied), data(t, body)["outcome"])

		acct, err := f.store.GetAccount(context.Background(), "acct-1")
		require.NoError(t, err)
		assert.True(t, acct.PaidSubscription)

		rec, body = f.do(t, webhook)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, string(reconciler.OutcomeDuplicate), data(t, body)["outcome"])
	})

	t.Run("unknown account is acknowledged", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		provider.On("ParseWebhook", mock.Anything, mock.Anything, signature).Return(&billing.Event{
			ID:    "evt_2",
			Type:  billing.EventCheckoutCompleted,
			Email: "nobody@example.com",
		}, nil)
		f := newFixture(t, provider)

		rec, body := f.do(t, call{
			method: http.MethodPost,
			path:   "/api/webhooks/payments",
			body:   `{}`,
			header: map[string]string{billing.SignatureHeader: signature},
		})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, string(reconciler.OutcomeUnresolved), data(t, body)["outcome"])
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		provider.On("ParseWebhook", mock.Anything, mock.Anything, "forged").
			Return(nil, billing.ErrWebhookVerificationFailed)
		f := newFixture(t, provider)

		rec, body := f.do(t, call{
			method: http.MethodPost,
			path:   "/api/webhooks/payments",
			body:   `{"event_id":"evt_3"}`,
			header: map[string]string{billing.SignatureHeader: "forged"},
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_signature", errorCode(t, body))
	})

	t.Run("empty body", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		f := newFixture(t, provider)

		rec, body := f.do(t, call{method: http.MethodPost, path: "/api/webhooks/payments"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "empty_payload", errorCode(t, body))
		provider.AssertNotCalled(t, "ParseWebhook", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("oversized body", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &mockProvider{}, api.WithMaxWebhookBytes(16))

		rec, body := f.do(t, call{method: http.MethodPost, path: "/api/webhooks/payments", body: strings.Repeat("x", 64)})

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "payload_too_large", errorCode(t, body))
	})

	t.Run("authentic but undecodable event is acknowledged", func(t *testing.T) {
		t.Parallel()
		provider, err := billing.NewPaddleProvider(
			billing.PaddleConfig{APIKey: "pdl_test_key", WebhookSecret: "pdl_ntfset_secret", Environment: "sandbox"},
			billing.WithVerifier(acceptingVerifier{}),
		)
		require.NoError(t, err)
		f := newFixture(t, provider)

		for _, payload := range []string{
			`{"event_type":"transaction.completed","data":{}}`,
			`not json`,
		} {
			rec, body := f.do(t, call{
				method: http.MethodPost,
				path:   "/api/webhooks/payments",
				body:   payload,
				header: map[string]string{billing.SignatureHeader: signature},
			})

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, true, data(t, body)["received"])
			assert.Equal(t, string(reconciler.OutcomeUnprocessable), data(t, body)["outcome"])
		}
	})

	t.Run("not configured", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, billing.Disabled{Cause: billing.ErrMissingWebhookSecret})

		rec, body := f.do(t, call{method: http.MethodPost, path: "/api/webhooks/payments", body: `{"event_id":"evt_4"}`})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "configuration_error", errorCode(t, body))
	})
}

func TestRequestLogCarriesCallerContext(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithContextExtractors(
			requestid.LoggerExtractor(),
			logger.AccountIDExtractor(),
			fingerprint.LoggerExtractor(),
		),
	)
	f := newFixture(t, &mockProvider{}, api.WithLogger(log))

	rec, _ := f.do(t, call{
		method:      http.MethodGet,
		path:        "/api/usage",
		token:       f.token(t, "acct-log", "log@example.com"),
		fingerprint: "device-abc123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var line map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(raw, &entry))
		if entry["msg"] == "http request" {
			line = entry
		}
	}
	require.NotNil(t, line, buf.String())
	assert.Equal(t, "acct-log", line["account_id"])
	assert.NotEmpty(t, line["fingerprint"])
	assert.Equal(t, rec.Header().Get(requestid.Header), line["request_id"])
}

func TestAuthenticatedRoutes(t *testing.T) {
	t.Parallel()

	t.Run("missing token", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &mockProvider{})

		rec, body := f.do(t, call{method: http.MethodGet, path: "/api/usage"})

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthorized", errorCode(t, body))
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	})

	t.Run("first call provisions account", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &mockProvider{})

		rec, body := f.do(t, call{method: http.MethodGet, path: "/api/usage", token: f.token(t, "acct-new", "New@Example.com")})

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		d := data(t, body)
		assert.Equal(t, "acct-new", d["account_id"])
		assert.EqualValues(t, 0, d["total_tokens"])
		assert.EqualValues(t, trialLimit, d["remaining"])

		acct, err := f.store.GetAccount(context.Background(), "acct-new")
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", acct.Email)
		assert.False(t, acct.PaidSubscription)
	})

	t.Run("generate validates input", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &mockProvider{})

		rec, body := f.do(t, call{
			method: http.MethodPost,
			path:   "/api/generate",
			body:   `{"jobDescription":"Go engineer"}`,
			token:  f.token(t, "acct-1", "jane@example.com"),
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation_error", errorCode(t, body))
	})
}

func TestTrialLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &mockProvider{})
	const device = "device-0123456789"
	generate := func(token string) (*httptest.ResponseRecorder, map[string]any) {
		return f.do(t, call{
			method:      http.MethodPost,
			path:        "/api/generate",
			body:        `{"jobDescription":"Go engineer","masterResume":"Ten years of Go"}`,
			token:       token,
			fingerprint: device,
		})
	}

	alice := f.token(t, "acct-alice", "alice@example.com")

	rec, body := generate(alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := data(t, body)
	assert.EqualValues(t, generationCost, d["tokenCost"])
	assert.EqualValues(t, generationCost, d["totalTokens"])
	assert.Equal(t, true, d["usageRecorded"])
	assert.Contains(t, d["resume"], "Go engineer")

	rec, body = generate(alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2*generationCost, data(t, body)["totalTokens"])

	rec, body = generate(alice)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, string(entitlement.ReasonTrialExhausted), errorCode(t, body))

	// A second account on the same device inherits the exhausted trial.
	bob := f.token(t, "acct-bob", "bob@example.com")
	rec, body = f.do(t, call{method: http.MethodPost, path: "/api/usage/check", token: bob, fingerprint: device})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d = data(t, body)
	assert.Equal(t, false, d["allowed"])
	assert.Equal(t, string(entitlement.ReasonTrialExhausted), d["reason"])

	rec, body = generate(bob)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, string(entitlement.ReasonTrialExhausted), errorCode(t, body))

	// Paying lifts the block.
	require.NoError(t, f.store.SetPaidSubscription(context.Background(), "acct-bob", true))
	rec, _ = generate(bob)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProbesAndFallbacks(t *testing.T) {
	t.Parallel()

	failing := httpserver.Check{Name: "store", Fn: func(context.Context) error { return errors.New("down") }}
	f := newFixture(t, &mockProvider{}, api.WithHealthChecks(failing), api.WithMetrics(metrics.New()))

	rec, body := f.do(t, call{method: http.MethodGet, path: "/health/live"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", body["status"])

	rec, body = f.do(t, call{method: http.MethodGet, path: "/health/ready"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", body["status"])

	rec, _ = f.do(t, call{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")

	rec, body = f.do(t, call{method: http.MethodGet, path: "/nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, body))
}
