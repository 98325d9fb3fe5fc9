package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/radiusdt/orion-attribution/internal/config"
	"github.com/radiusdt/orion-attribution/internal/metrics"
	"github.com/radiusdt/orion-attribution/internal/models"
	"github.com/radiusdt/orion-attribution/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testKey = "test-key"

var seededAt = time.Date(2024, 4, 2, 15, 0, 0, 0, time.UTC)

func money(s string) *string { return &s }

func seed() *storage.InMemorySource {
	mem := storage.NewInMemorySource()
	mem.UpsertAgency(models.Agency{ID: "a1", Name: "Acme", IsActive: true})
	mem.UpsertCoupon(models.Coupon{Code: "SAVE10", AgencyID: "a1", Channel: "influencer"})
	mem.AddEvents(models.TrackingEvent{
		ID:          "e1",
		CreatedAt:   seededAt,
		EventType:   models.EventSignup,
		Attribution: models.Attribution{Source: "google"},
	})
	mem.UpsertOrder(models.Order{
		ID:             "o1",
		OrderNumber:    "ORD-1",
		CustomerEmail:  "buyer@example.com",
		CreatedAt:      seededAt,
		Subtotal:       money("1000"),
		DiscountAmount: money("100"),
		CouponCode:     "SAVE10",
		Status:         models.StatusOrderPlaced,
	})
	return mem
}

func newTestServer(t *testing.T, sources storage.Sources, mem *storage.InMemorySource) http.Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.MasterKey = testKey
	cfg.RateLimit.Enabled = false

	return NewServer(&Dependencies{
		Config:   cfg,
		Logger:   zaptest.NewLogger(t),
		Metrics:  metrics.NewMetrics("orion", prometheus.NewRegistry()),
		Sources:  &sources,
		Orders:   mem,
		Agencies: mem,
	})
}

func memSources(mem *storage.InMemorySource) storage.Sources {
	return storage.Sources{Events: mem, Visits: mem, Orders: mem, Coupons: mem, Agencies: mem}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	mem := seed()
	h := newTestServer(t, memSources(mem), mem)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStatsRequiresKey(t *testing.T) {
	mem := seed()
	h := newTestServer(t, memSources(mem), mem)

	req := httptest.NewRequest(http.MethodPost, "/api/tracking/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStats(t *testing.T) {
	mem := seed()
	h := newTestServer(t, memSources(mem), mem)

	rec := do(t, h, http.MethodPost, "/api/tracking/stats", `{"dateFrom":"2024-04-01","dateTo":"2024-04-30"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])

	stats, ok := body["stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.0, stats["signups"])
	assert.Equal(t, 1.0, stats["totalOrders"])
	assert.Equal(t, 900.0, stats["netRevenue"])
	assert.Contains(t, stats["byAgency"], "Acme")
	assert.Len(t, stats["filterKey"], 16)
}

func TestStatsEmptyBody(t *testing.T) {
	mem := seed()
	h := newTestServer(t, memSources(mem), mem)

	rec := do(t, h, http.MethodPost, "/api/tracking/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatsBadRequest(t *testing.T) {
	mem := seed()
	h := newTestServer(t, memSources(mem), mem)

	rec := do(t, h, http.MethodPost, "/api/tracking/stats", `{"dateFrom":"04/01/2024"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/tracking/stats", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type brokenEvents struct{}

func (brokenEvents) FetchEvents(context.Context, models.Filter) ([]models.TrackingEvent, error) {
	return nil, errors.New("connection refused")
}

func TestStatsSourceUnavailable(t *testing.T) {
	mem := seed()
	sources := memSources(mem)
	sources.Events = brokenEvents{}
	h := newTestServer(t, sources, mem)

	rec := do(t, h, http.MethodPost, "/api/tracking/stats", `{}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "failed to fetch tracking data", decodeBody(t, rec)["error"])
}

func TestAgencies(t *testing.T) {
	mem := seed()
	h := newTestServer(t, memSources(mem), mem)

	rec := do(t, h, http.MethodGet, "/api/tracking/agencies", "")
	require.Equal(t, http.StatusOK, rec.Code)

	agencies, ok := decodeBody(t, rec)["agencies"].([]any)
	require.True(t, ok)
	require.Len(t, agencies, 1)
	assert.Equal(t, "Acme", agencies[0].(map[string]any)["name"])
}

func TestOrdersListAndUpdate(t *testing.T) {
	mem := seed()
	h := newTestServer(t, memSources(mem), mem)

	rec := do(t, h, http.MethodPost, "/api/orders/list", `{"statusFilter":"all","search":"buyer"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1.0, body["total"])
	assert.Equal(t, 25.0, body["limit"])

	rec = do(t, h, http.MethodPut, "/api/orders/update", `{"orderId":"o1","newStatus":"acknowledged","note":"called customer"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	order, ok := decodeBody(t, rec)["order"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "acknowledged", order["status"])

	rec = do(t, h, http.MethodPut, "/api/orders/update", `{"orderId":"o1","newStatus":"order_placed"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "status can only move forward", decodeBody(t, rec)["error"])
}

func TestOrdersErrors(t *testing.T) {
	mem := seed()
	h := newTestServer(t, memSources(mem), mem)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"invalid list status", http.MethodPost, "/api/orders/list", `{"statusFilter":"lost"}`, http.StatusBadRequest},
		{"missing fields", http.MethodPut, "/api/orders/update", `{}`, http.StatusBadRequest},
		{"invalid status", http.MethodPut, "/api/orders/update", `{"orderId":"o1","newStatus":"lost"}`, http.StatusBadRequest},
		{"unknown order", http.MethodPut, "/api/orders/update", `{"orderId":"nope","newStatus":"shipping"}`, http.StatusNotFound},
		{"wrong method", http.MethodGet, "/api/orders/update", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mem := seed()
	h := newTestServer(t, memSources(mem), mem)

	do(t, h, http.MethodPost, "/api/tracking/stats", `{}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "orion_report_requests_total")
}
