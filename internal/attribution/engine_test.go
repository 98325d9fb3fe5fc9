package attribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/radiusdt/orion-attribution/internal/config"
	"github.com/radiusdt/orion-attribution/internal/metrics"
	"github.com/radiusdt/orion-attribution/internal/models"
	"github.com/radiusdt/orion-attribution/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

var testLimits = config.ReportConfig{
	DefaultLimit: 50,
	MaxLimit:     500,
	Timezone:     "UTC",
	FetchTimeout: time.Second,
}

type failingSource struct{ err error }

func (f failingSource) FetchEvents(context.Context, models.Filter) ([]models.TrackingEvent, error) {
	return nil, f.err
}

func (f failingSource) FetchVisits(context.Context, models.Filter) ([]models.VisitRecord, error) {
	return nil, f.err
}

func (f failingSource) FetchOrders(context.Context, models.Filter) ([]models.Order, error) {
	return nil, f.err
}

func (f failingSource) FetchCoupons(context.Context, []string) ([]models.Coupon, error) {
	return nil, f.err
}

func (f failingSource) FetchAgencies(context.Context, []string) ([]models.Agency, error) {
	return nil, f.err
}

func memorySources(mem *storage.InMemorySource) storage.Sources {
	return storage.Sources{Events: mem, Visits: mem, Orders: mem, Coupons: mem, Agencies: mem}
}

func seededSource() *storage.InMemorySource {
	mem := storage.NewInMemorySource()
	mem.UpsertAgency(models.Agency{ID: "a1", Name: "Acme", IsActive: true})
	mem.UpsertCoupon(models.Coupon{Code: "SAVE10", AgencyID: "a1", Channel: "influencer"})
	mem.UpsertCoupon(models.Coupon{Code: "AFF5", Channel: "affiliate"})

	mem.AddEvents(
		event("e1", models.EventSignup, "google", "SAVE10", base),
		event("e2", models.EventLogin, "google", "", base.Add(time.Hour)),
	)
	mem.AddVisits(visit("google", "SAVE10"), visit("meta", ""))

	mem.UpsertOrder(order("o1", "1000", "100", "SAVE10", base))
	mem.UpsertOrder(order("o2", "200", "10", "AFF5", base.Add(time.Minute)))
	pending := order("o3", "500", "0", "SAVE10", base)
	pending.Status = models.StatusPending
	mem.UpsertOrder(pending)
	return mem
}

func TestEngineBuildsReport(t *testing.T) {
	engine := NewEngine(memorySources(seededSource()), testLimits, nil, zaptest.NewLogger(t))

	report, err := engine.Build(context.Background(), Request{DateFrom: "2024-03-01", DateTo: "2024-03-31"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.TotalEvents)
	assert.Equal(t, int64(2), report.TotalVisits)
	assert.Equal(t, int64(2), report.TotalOrders)
	assert.Equal(t, 1200.0, report.TotalRevenue)
	assert.Equal(t, 1090.0, report.NetRevenue)
	assert.Equal(t, 900.0, report.ByAgency["Acme"].NetRevenue)
	assert.Equal(t, int64(1), report.ByAgency["Acme"].Visits)
	assert.Equal(t, int64(1), report.ByChannel["affiliate"].Orders)

	require.Len(t, report.RecentEvents, 2)
	assert.Equal(t, "e2", report.RecentEvents[0].ID)
	assert.Equal(t, models.DefaultAuthProvider, report.RecentEvents[0].AuthProvider)

	require.Len(t, report.RecentOrders, 2)
	assert.Equal(t, "o2", report.RecentOrders[0].ID)
	require.NotNil(t, report.RecentOrders[1].AgencyName)
	assert.Equal(t, "Acme", *report.RecentOrders[1].AgencyName)
}

func TestEngineEmptyRangeHasEmptyShapes(t *testing.T) {
	engine := NewEngine(memorySources(seededSource()), testLimits, nil, nil)

	report, err := engine.Build(context.Background(), Request{DateFrom: "2030-01-01", DateTo: "2030-01-31"})
	require.NoError(t, err)

	assert.Zero(t, report.TotalEvents)
	assert.Zero(t, report.TotalRevenue)
	assert.Equal(t, 0, report.EventsTotalPages)
	assert.Equal(t, 1, report.EventsPage)

	raw, err := json.Marshal(report)
	require.NoError(t, err)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &body))
	for _, key := range []string{"bySource", "byCampaign", "byMedium", "byProvider", "byCoupon", "byAgency", "byChannel"} {
		assert.JSONEq(t, `{}`, string(body[key]), key)
	}
	assert.JSONEq(t, `[]`, string(body["recentEvents"]))
	assert.JSONEq(t, `[]`, string(body["recentOrders"]))
}

func TestEnginePaginatesEvents(t *testing.T) {
	mem := storage.NewInMemorySource()
	for i := 0; i < 60; i++ {
		mem.AddEvents(event(fmt.Sprintf("e%02d", i), models.EventSignup, "google", "", base.Add(time.Duration(i)*time.Second)))
	}
	engine := NewEngine(memorySources(mem), testLimits, nil, nil)

	report, err := engine.Build(context.Background(), Request{EventsPage: 2, EventsLimit: 50})
	require.NoError(t, err)

	assert.Len(t, report.RecentEvents, 10)
	assert.Equal(t, 2, report.EventsTotalPages)
	assert.Equal(t, 60, report.TotalEventsCount)
	assert.Equal(t, "e09", report.RecentEvents[0].ID)

	report, err = engine.Build(context.Background(), Request{EventsPage: 3, EventsLimit: 50})
	require.NoError(t, err)
	assert.Empty(t, report.RecentEvents)
	assert.Equal(t, 60, report.TotalEventsCount)
}

func TestEngineHugePagesAreEmpty(t *testing.T) {
	engine := NewEngine(memorySources(seededSource()), testLimits, nil, nil)

	for _, page := range []int{math.MaxInt, math.MaxInt/50 + 7} {
		report, err := engine.Build(context.Background(), Request{EventsPage: page, OrdersPage: page})
		require.NoError(t, err)
		assert.Empty(t, report.RecentEvents)
		assert.Empty(t, report.RecentOrders)
		assert.Equal(t, 2, report.TotalEventsCount)
	}
}

func TestEngineCapsPageLimit(t *testing.T) {
	engine := NewEngine(memorySources(seededSource()), testLimits, nil, nil)

	report, err := engine.Build(context.Background(), Request{EventsLimit: 10000})
	require.NoError(t, err)
	assert.Equal(t, testLimits.MaxLimit, report.EventsLimit)
}

func TestEngineResetsCursorsWhenFiltersChange(t *testing.T) {
	engine := NewEngine(memorySources(seededSource()), testLimits, nil, nil)

	first, err := engine.Build(context.Background(), Request{EventsLimit: 1, EventsPage: 2, OrdersLimit: 1, OrdersPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, first.EventsPage)

	same, err := engine.Build(context.Background(), Request{EventsLimit: 1, EventsPage: 2, FilterKey: first.FilterKey})
	require.NoError(t, err)
	assert.Equal(t, 2, same.EventsPage)

	changed, err := engine.Build(context.Background(), Request{
		EventsLimit: 1, EventsPage: 2, OrdersPage: 2,
		Filters:   &FilterSet{UTMSources: []string{"google"}},
		FilterKey: first.FilterKey,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, changed.EventsPage)
	assert.Equal(t, 1, changed.OrdersPage)
	assert.NotEqual(t, first.FilterKey, changed.FilterKey)
}

func TestEngineChannelFilter(t *testing.T) {
	engine := NewEngine(memorySources(seededSource()), testLimits, nil, nil)

	report, err := engine.Build(context.Background(), Request{Filters: &FilterSet{Channels: []string{"influencer"}}})
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.TotalOrders)
	assert.Equal(t, 1000.0, report.TotalRevenue)
	assert.NotContains(t, report.ByChannel, "affiliate")
	assert.Equal(t, int64(2), report.TotalEvents)
}

func TestEnginePrimaryFailureFailsReport(t *testing.T) {
	mem := seededSource()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("orion", reg)
	sources := memorySources(mem)
	sources.Orders = failingSource{err: errors.New("connection refused")}

	engine := NewEngine(sources, testLimits, m, nil)
	report, err := engine.Build(context.Background(), Request{})

	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))

	var srcErr *SourceError
	require.True(t, errors.As(err, &srcErr))
	assert.Equal(t, "orders", srcErr.Source)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceFetchErrors.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportRequests.WithLabelValues("unavailable")))
}

func TestEngineSecondaryFailureDegrades(t *testing.T) {
	mem := seededSource()
	m := metrics.NewMetrics("orion", prometheus.NewRegistry())
	sources := memorySources(mem)
	sources.Coupons = failingSource{err: errors.New("timeout")}

	core, logs := observer.New(zap.WarnLevel)
	engine := NewEngine(sources, testLimits, m, zap.New(core))
	report, err := engine.Build(context.Background(), Request{})
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.TotalOrders)
	assert.Empty(t, report.ByAgency)
	assert.Empty(t, report.ByChannel)
	require.Contains(t, report.ByCoupon, "SAVE10")
	assert.Equal(t, int64(1), report.ByCoupon["SAVE10"].Orders)
	require.NotNil(t, report.ByCoupon["SAVE10"].CouponDetails)
	assert.Nil(t, report.ByCoupon["SAVE10"].CouponDetails.DiscountType)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DegradedJoins.WithLabelValues("coupons")))

	assert.Zero(t, testutil.ToFloat64(m.DegradedFilters.WithLabelValues("channel")))

	filtered, err := engine.Build(context.Background(), Request{Filters: &FilterSet{Channels: []string{"influencer"}}})
	require.NoError(t, err)
	assert.Zero(t, filtered.TotalOrders)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DegradedFilters.WithLabelValues("channel")))
	assert.Equal(t, 1, logs.FilterMessage("coupon catalog unavailable, channel filter excludes every order").Len())
}

func TestEngineAgencyFailureDegrades(t *testing.T) {
	sources := memorySources(seededSource())
	sources.Agencies = failingSource{err: errors.New("timeout")}

	report, err := NewEngine(sources, testLimits, nil, nil).Build(context.Background(), Request{})
	require.NoError(t, err)

	assert.Empty(t, report.ByAgency)
	assert.Equal(t, int64(1), report.ByChannel["influencer"].Orders)
}

func TestEngineInvalidDate(t *testing.T) {
	engine := NewEngine(memorySources(seededSource()), testLimits, nil, nil)

	_, err := engine.Build(context.Background(), Request{DateFrom: "yesterday"})
	assert.True(t, errors.Is(err, ErrInvalidDate))
}

func TestEngineIdempotent(t *testing.T) {
	engine := NewEngine(memorySources(seededSource()), testLimits, nil, nil)
	req := Request{Filters: &FilterSet{UTMSources: []string{"google", "meta"}}}

	first, err := engine.Build(context.Background(), req)
	require.NoError(t, err)
	second, err := engine.Build(context.Background(), req)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
