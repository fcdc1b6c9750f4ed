package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"companion/internal/catalog"
	"companion/internal/config"
	"companion/internal/core"
	"companion/internal/entitlement"
	"companion/internal/external"
	"companion/internal/memstore"
	"companion/internal/reconcile"
	"companion/internal/types"
	"companion/internal/usage"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var (
	accountPrincipal = types.Principal{SubjectID: "acct-1", Kind: types.SubjectAccount, Email: "fan@example.com"}
	devicePrincipal  = types.Principal{SubjectID: "device:0123abcd", Kind: types.SubjectDevice}
)

// fakeChatModel replies with a fixed line or fails.
type fakeChatModel struct {
	err   error
	calls int
	last  external.ChatRequest
}

func (f *fakeChatModel) Complete(_ context.Context, req external.ChatRequest) (*external.ChatReply, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &external.ChatReply{Content: "hello from " + req.Persona.ID, Model: "test-model"}, nil
}

// fakeBilling records checkout and portal requests.
type fakeBilling struct {
	checkouts []external.CheckoutRequest
	portals   []string
	err       error
}

func (f *fakeBilling) CreateCheckoutSession(_ context.Context, req external.CheckoutRequest) (*external.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.checkouts = append(f.checkouts, req)
	return &external.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func (f *fakeBilling) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.portals = append(f.portals, customerID)
	return "https://billing.stripe.test/p/1", nil
}

func (f *fakeBilling) SubscriptionPeriodEnd(context.Context, string) (time.Time, error) {
	return testNow.Add(30 * 24 * time.Hour), nil
}

type countingMetrics struct {
	rejected int
	sent     int
}

func (m *countingMetrics) RecordQuotaRejected(context.Context, string) { m.rejected++ }
func (m *countingMetrics) RecordMessageSent(context.Context, string)   { m.sent++ }

// testEnv wires every handler against in-memory stores.
type testEnv struct {
	store      *memstore.Store
	counter    *usage.MemoryCounter
	resolver   *entitlement.Resolver
	chat       *fakeChatModel
	billing    *fakeBilling
	metrics    *countingMetrics
	reconciler *reconcile.Reconciler
	router     chi.Router
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.PublicURL = "https://app.example.com/"
	cfg.Billing.DonationMinCents = 100
	cfg.Billing.DonationMaxCents = 50000
	return cfg
}

func newTestEnv(t *testing.T, verifier external.WebhookVerifier) *testEnv {
	t.Helper()
	return newTestEnvWithLimit(t, verifier, 3)
}

func newTestEnvWithLimit(t *testing.T, verifier external.WebhookVerifier, dailyLimit int) *testEnv {
	t.Helper()
	logger := discardLogger()
	clock := fixedClock{testNow}

	env := &testEnv{
		store:   memstore.New(clock),
		counter: usage.NewMemoryCounter(),
		chat:    &fakeChatModel{},
		billing: &fakeBilling{},
		metrics: &countingMetrics{},
	}
	env.resolver = entitlement.NewResolver(env.counter, dailyLimit, clock, logger)
	meter := entitlement.NewMeter(env.counter, env.resolver, logger)
	env.reconciler = reconcile.NewReconciler(env.store, logger, reconcile.WithClock(clock))

	personas := catalog.NewStaticRegistry()
	v := core.NewValidator(logger)
	cfg := testConfig()

	srv, err := core.NewServer(cfg, logger)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Route("/webhooks", NewStripeWebhookHandler(verifier, env.reconciler, logger).RegisterRoutes)
	r.Route("/v1", func(r chi.Router) {
		r.Use(injectPrincipal)
		NewPersonaHandler(personas, env.store, clock, logger).RegisterRoutes(r)
		NewUsageHandler(personas, env.store, env.resolver, logger).RegisterRoutes(r)
		NewChatHandler(personas, env.store, env.resolver, meter, env.chat, env.metrics, v, logger).RegisterRoutes(r)
		NewBillingHandler(env.billing, personas, env.store, cfg, v, logger).RegisterRoutes(r, srv.RequireAccount)
	})
	env.router = r
	return env
}

// injectPrincipal stands in for core.AuthMiddleware: the X-Test-Subject
// header selects the caller.
func injectPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("X-Test-Subject") {
		case "account":
			r = r.WithContext(types.WithPrincipal(r.Context(), accountPrincipal))
		case "device":
			r = r.WithContext(types.WithPrincipal(r.Context(), devicePrincipal))
		}
		next.ServeHTTP(w, r)
	})
}

func (e *testEnv) do(t *testing.T, method, path, subject string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	if subject != "" {
		req.Header.Set("X-Test-Subject", subject)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// grant applies an entitlement through the store the way a webhook would.
func (e *testEnv) grant(t *testing.T, p types.Principal, change reconcile.Change, key string) {
	t.Helper()
	_, err := e.store.EnsureSubject(context.Background(), p)
	require.NoError(t, err)
	_, err = e.store.ApplyPayment(context.Background(), types.LedgerEntry{
		IdempotencyKey: key,
		EventKind:      types.EventCheckoutCompleted,
		SubjectID:      p.SubjectID,
		ProcessedAt:    testNow,
	}, change)
	require.NoError(t, err)
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}
