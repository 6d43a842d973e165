//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/form"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/stripe-storefront/internal/domain/auth"
	"github.com/xenking/stripe-storefront/internal/repository"
	"github.com/xenking/stripe-storefront/pkg/health"
)

const (
	testSecretKey = "integration-secret"
	testAPIKey    = "integration-test-key"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("shop"),
		tcpostgres.WithUsername("shop"),
		tcpostgres.WithPassword("shop"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("connection string: %v", err)
	}
	testPool, err = repository.NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := repository.RunMigrations(ctx, testPool, zap.NewNop()); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	if err := repository.NewAPIKeyRepository(testPool).Save(ctx, &auth.APIKeyInfo{
		ID:      "6f1c1f5e-8a9b-4c61-9d3e-5c1a2b3c4d5e",
		KeyHash: auth.HashKey([]byte(testSecretKey), testAPIKey),
		Name:    "integration",
		Scopes:  []string{"admin"},
	}); err != nil {
		log.Fatalf("seed api key: %v", err)
	}

	return m.Run()
}

type noopTelemetry struct{}

func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }
func (noopTelemetry) MeterProvider() metric.MeterProvider  { return metricnoop.NewMeterProvider() }

// fakeStripe answers checkout and payment intent calls and records the
// secret key of each.
type fakeStripe struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeStripe) Call(_, path, key string, _ stripe.ParamsContainer, v stripe.LastResponseSetter) error {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()

	var body map[string]any
	switch path {
	case "/v1/checkout/sessions":
		body = map[string]any{"id": "cs_test_e2e", "object": "checkout.session"}
	case "/v1/payment_intents":
		body = map[string]any{"id": "pi_e2e", "object": "payment_intent", "client_secret": "pi_e2e_secret"}
	default:
		return &stripe.Error{Code: stripe.ErrorCodeResourceMissing, Msg: "unexpected " + path}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (f *fakeStripe) CallStreaming(string, string, string, stripe.ParamsContainer, stripe.StreamingLastResponseSetter) error {
	return nil
}

func (f *fakeStripe) CallRaw(string, string, string, *form.Values, *stripe.Params, stripe.LastResponseSetter) error {
	return nil
}

func (f *fakeStripe) CallMultipart(string, string, string, string, *bytes.Buffer, *stripe.Params, stripe.LastResponseSetter) error {
	return nil
}

func (f *fakeStripe) SetMaxNetworkRetries(int64) {}

func (f *fakeStripe) lastKey() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.keys) == 0 {
		return ""
	}
	return f.keys[len(f.keys)-1]
}

type env struct {
	srv    *httptest.Server
	stripe *fakeStripe
}

func newEnv(t *testing.T, rateMax int) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	_, err := testPool.Exec(ctx, `TRUNCATE order_items, orders, items, discounts, taxes RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	cfg := &Config{
		SecretKey:    testSecretKey,
		AllowedHosts: []string{"127.0.0.1"},
		Stripe: StripeConfig{
			SecretKey:  "sk_test_default",
			PublicKey:  "pk_test_default",
			EUR:        StripeKeys{SecretKey: "sk_test_eur", PublicKey: "pk_test_eur"},
			SuccessURL: "http://127.0.0.1/success/",
			CancelURL:  "http://127.0.0.1/cancel/",
		},
		RateLimit: RateLimitConfig{Max: rateMax, Window: time.Minute},
	}

	healthSvc := health.New()
	healthSvc.Add(health.Readiness, health.Check{Name: "postgres", Func: health.PingCheck(testPool)})
	healthSvc.SetReady(true)

	fs := &fakeStripe{}
	root, err := newHandler(ctx, noopTelemetry{}, cfg, testPool, healthSvc, fs)
	require.NoError(t, err)

	srv := httptest.NewServer(root)
	t.Cleanup(srv.Close)
	return &env{srv: srv, stripe: fs}
}

func (e *env) do(t *testing.T, method, path, body string, header ...string) (int, http.Header, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if strings.HasPrefix(path, "/admin") {
		req.Header.Set("api_key", testAPIKey)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, resp.Header, string(data)
}

func TestProbes(t *testing.T) {
	e := newEnv(t, 10)

	code, header, body := e.do(t, http.MethodGet, "/livez", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, body)
	assert.NotEmpty(t, header.Get("X-Request-ID"))

	code, _, _ = e.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestRequestID_Echoed(t *testing.T) {
	e := newEnv(t, 10)

	_, header, _ := e.do(t, http.MethodGet, "/livez", "", "X-Request-ID", "custom-request-id-12345")
	assert.Equal(t, "custom-request-id-12345", header.Get("X-Request-ID"))
}

func TestAllowedHosts_RejectsUnknownHost(t *testing.T) {
	e := newEnv(t, 10)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/success/", nil)
	require.NoError(t, err)
	req.Host = "evil.example.com"
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStorefrontFlow(t *testing.T) {
	e := newEnv(t, 10)

	code, _, body := e.do(t, http.MethodPost, "/admin/items", `{"name":"Keyboard","price":"60.00"}`)
	require.Equal(t, http.StatusCreated, code, body)
	code, _, body = e.do(t, http.MethodPost, "/admin/items", `{"name":"Mouse","price":"40.00","currency":"usd"}`)
	require.Equal(t, http.StatusCreated, code, body)
	code, _, body = e.do(t, http.MethodPost, "/admin/items", `{"name":"Lamp","price":"19.99","currency":"eur"}`)
	require.Equal(t, http.StatusCreated, code, body)
	code, _, body = e.do(t, http.MethodPost, "/admin/discounts", `{"name":"Spring","percent_off":10}`)
	require.Equal(t, http.StatusCreated, code, body)
	code, _, body = e.do(t, http.MethodPost, "/admin/taxes", `{"name":"VAT","percentage":20}`)
	require.Equal(t, http.StatusCreated, code, body)

	code, _, body = e.do(t, http.MethodPost, "/admin/orders", `{"item_ids":[1,3]}`)
	require.Equal(t, http.StatusUnprocessableEntity, code, body)

	code, _, body = e.do(t, http.MethodPost, "/admin/orders", `{"item_ids":[1,2],"discount_id":1,"tax_id":1}`)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Contains(t, body, `"total_price":108.00`)
	assert.Contains(t, body, `"currency":"usd"`)

	code, _, body = e.do(t, http.MethodGet, "/buy/order/1/", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.JSONEq(t, `{"client_secret":"pi_e2e_secret","currency":"usd"}`, body)
	assert.Equal(t, "sk_test_default", e.stripe.lastKey())

	code, _, body = e.do(t, http.MethodGet, "/buy/3/", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.JSONEq(t, `{"session_id":"cs_test_e2e"}`, body)
	assert.Equal(t, "sk_test_eur", e.stripe.lastKey())

	code, _, body = e.do(t, http.MethodGet, "/order/1/", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "108.00 USD")

	code, _, body = e.do(t, http.MethodGet, "/item/3/", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "pk_test_eur")
}

func TestNotFound(t *testing.T) {
	e := newEnv(t, 10)

	for _, path := range []string{"/buy/99/", "/buy/order/99/", "/item/99/", "/order/99/", "/item/abc/"} {
		code, _, _ := e.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, code, path)
	}
	assert.Empty(t, e.stripe.lastKey(), "no processor call for missing ids")
}

func TestAdmin_Unauthorized(t *testing.T) {
	e := newEnv(t, 10)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/admin/items", nil)
	require.NoError(t, err)
	req.Header.Set("api_key", "wrong")
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRateLimit_BuyRoutes(t *testing.T) {
	e := newEnv(t, 2)

	for range 2 {
		code, _, _ := e.do(t, http.MethodGet, "/buy/99/", "")
		assert.Equal(t, http.StatusNotFound, code)
	}
	code, header, _ := e.do(t, http.MethodGet, "/buy/99/", "")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.NotEmpty(t, header.Get("Retry-After"))

	code, _, _ = e.do(t, http.MethodGet, "/success/", "")
	assert.Equal(t, http.StatusOK, code, "pages are not limited")
}
