//go:build integration

package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/kart-orders/db"
	"github.com/xenking/kart-orders/internal/app"
	"github.com/xenking/kart-orders/internal/storage/jsonfile"
	"github.com/xenking/kart-orders/internal/storage/postgres"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Response types are declared locally so the tests only see the wire format.

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type productResponse struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
	Kind  string  `json:"kind"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

type orderResponse struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	FailureReason string  `json:"failureReason"`
	Total         float64 `json:"total"`
	Lines         []struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
	} `json:"lines"`
}

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "kart",
				"POSTGRES_PASSWORD": "kart",
				"POSTGRES_DB":       "kart",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, c)
	require.NoError(t, err)

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	url := fmt.Sprintf("postgres://kart:kart@%s:%s/kart?sslmode=disable", host, port.Port())

	seed(ctx, t, url)

	cfg := &app.Config{
		DatabaseURL: url,
		Catalog:     app.CatalogConfig{Source: app.SourcePostgres},
		Order:       app.OrderConfig{Rollback: "all"},
		Payment:     app.PaymentConfig{CardLimit: "1500", PayPalLimit: "0"},
		Health:      app.HealthConfig{Interval: 100 * time.Millisecond, MaxGoroutines: 100000},
	}
	srv, err := app.Build(ctx, zaptest.NewLogger(t), metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider(), cfg)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	srv.Health.Start(context.Background(), cfg.Health.Interval)
	srv.Health.SetReady(true)

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func seed(ctx context.Context, t *testing.T, url string) {
	t.Helper()

	pool, err := postgres.NewPool(ctx, url)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, postgres.RunMigrations(ctx, pool))

	c, err := jsonfile.Decode(bytes.NewReader(db.SeedCatalog))
	require.NoError(t, err)

	catalog := postgres.NewCatalog(pool)
	for _, p := range c.Products {
		require.NoError(t, catalog.UpsertProduct(ctx, p))
	}
	for _, r := range c.Discounts {
		require.NoError(t, catalog.UpsertDiscount(ctx, r))
	}
}

func do(t *testing.T, ts *httptest.Server, method, path, body string, out any) int {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out), string(data))
	}
	return resp.StatusCode
}

func TestServer_Postgres(t *testing.T) {
	ts := startServer(t)

	t.Run("health", func(t *testing.T) {
		var live, ready healthResponse
		assert.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/livez", "", &live))
		assert.Equal(t, "ok", live.Status)
		assert.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/readyz", "", &ready))
		assert.Equal(t, "ok", ready.Status)
	})

	t.Run("list products", func(t *testing.T) {
		var products []productResponse
		require.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/api/products", "", &products))
		require.Len(t, products, 6)

		byID := make(map[string]productResponse, len(products))
		for _, p := range products {
			byID[p.ID] = p
		}
		assert.Equal(t, 999.99, byID["laptop"].Price)
		assert.Equal(t, "digital", byID["go-book"].Kind)
	})

	t.Run("unknown product", func(t *testing.T) {
		var e errorResponse
		assert.Equal(t, http.StatusNotFound, do(t, ts, http.MethodGet, "/api/products/nope", "", &e))
		assert.Equal(t, http.StatusNotFound, e.Code)
	})

	t.Run("empty items", func(t *testing.T) {
		var e errorResponse
		status := do(t, ts, http.MethodPost, "/api/orders",
			`{"customer":{"firstName":"Ada","lastName":"Lovelace"},"items":[],"payment":{"method":"card","account":"4111111111111111"}}`, &e)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("declined then retried", func(t *testing.T) {
		var e errorResponse
		status := do(t, ts, http.MethodPost, "/api/orders",
			`{"customer":{"firstName":"Ada","lastName":"Lovelace"},
			"items":[{"productId":"laptop","quantity":2}],
			"payment":{"method":"card","account":"4111111111111111"}}`, &e)
		require.Equal(t, http.StatusPaymentRequired, status)
		assert.Equal(t, "payment_declined", e.Reason)
		assert.Regexp(t, uuidPattern, e.OrderID)

		var laptop productResponse
		require.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/api/products/laptop", "", &laptop))
		assert.Equal(t, 10, laptop.Stock)

		var o orderResponse
		status = do(t, ts, http.MethodPost, "/api/orders/"+e.OrderID+"/process",
			`{"payment":{"method":"paypal","account":"ada@example.com"}}`, &o)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "completed", o.Status)
		assert.Equal(t, 1999.98, o.Total)

		require.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/api/products/laptop", "", &laptop))
		assert.Equal(t, 8, laptop.Stock)

		var cancelled orderResponse
		require.Equal(t, http.StatusOK, do(t, ts, http.MethodPost, "/api/orders/"+o.ID+"/cancel", "", &cancelled))
		assert.Equal(t, "cancelled", cancelled.Status)

		require.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/api/products/laptop", "", &laptop))
		assert.Equal(t, 10, laptop.Stock)
	})

	t.Run("discount code", func(t *testing.T) {
		var o orderResponse
		status := do(t, ts, http.MethodPost, "/api/orders",
			`{"customer":{"firstName":"Grace","lastName":"Hopper"},
			"items":[{"productId":"mouse","quantity":1}],
			"discountCodes":["save10"],
			"payment":{"method":"paypal","account":"grace@example.com"}}`, &o)
		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "completed", o.Status)
		require.Len(t, o.Lines, 1)
		assert.Equal(t, "mouse", o.Lines[0].ProductID)
	})

	t.Run("list orders", func(t *testing.T) {
		var orders []orderResponse
		require.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/api/orders", "", &orders))
		assert.Len(t, orders, 2)
	})
}
