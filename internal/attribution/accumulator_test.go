package attribution

import (
	"math/rand"
	"testing"
	"time"

	"github.com/radiusdt/orion-attribution/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func money(s string) *string { return &s }

func event(id string, kind models.EventType, source, coupon string, at time.Time) models.TrackingEvent {
	return models.TrackingEvent{
		ID:          id,
		CreatedAt:   at,
		EventType:   kind,
		CouponCode:  coupon,
		Attribution: models.Attribution{Source: source},
	}
}

func visit(source, coupon string) models.VisitRecord {
	return models.VisitRecord{
		CreatedAt:   base,
		CouponCode:  coupon,
		Attribution: models.Attribution{Source: source},
	}
}

func order(id, subtotal, discount, coupon string, at time.Time) models.Order {
	return models.Order{
		ID:             id,
		OrderNumber:    "ORD-" + id,
		CreatedAt:      at,
		Subtotal:       money(subtotal),
		DiscountAmount: money(discount),
		CouponCode:     coupon,
		Status:         models.StatusDelivered,
	}
}

func TestAccumulatorScenarioSignupsBySource(t *testing.T) {
	acc := NewAccumulator(nil, nil)
	acc.AddEvent(event("e1", models.EventSignup, "google", "", base))
	acc.AddEvent(event("e2", models.EventSignup, "google", "", base.Add(time.Minute)))
	acc.AddEvent(event("e3", models.EventLogin, "", "", base.Add(2*time.Minute)))
	acc.AddVisit(visit("google", ""))
	acc.AddVisit(visit("google", ""))

	b := acc.Breakdowns()

	assert.Equal(t, Bucket{Visits: 2, Signups: 2, Logins: 0, Total: 2}, b.BySource["google"])
	assert.Equal(t, Bucket{Signups: 0, Logins: 1, Total: 1}, b.BySource[DirectLabel])
	assert.Equal(t, int64(3), b.ByProvider[models.DefaultAuthProvider].Total)
	assert.Equal(t, int64(3), b.ByCampaign[NoneLabel].Total)
}

func TestAccumulatorScenarioAgencyRevenue(t *testing.T) {
	joins := NewJoins(
		[]models.Coupon{{Code: "SAVE10", AgencyID: "a1", Channel: "influencer"}},
		[]models.Agency{{ID: "a1", Name: "Acme"}},
	)
	acc := NewAccumulator(joins, nil)
	acc.AddOrder(order("o1", "1000", "100", "SAVE10", base))

	b := acc.Breakdowns()
	acme, ok := b.ByAgency["Acme"]
	require.True(t, ok)

	assert.Equal(t, int64(1), acme.Orders)
	assert.Equal(t, 1000.0, acme.Revenue)
	assert.Equal(t, 100.0, acme.Discount)
	assert.Equal(t, 900.0, acme.NetRevenue)
	assert.Equal(t, "a1", acme.AgencyID)
	assert.Equal(t, []string{"SAVE10"}, acme.Coupons)

	assert.Equal(t, 900.0, b.ByChannel["influencer"].NetRevenue)
	assert.Equal(t, 1000.0, b.ByChannel["influencer"].AvgOrderValue)
	assert.Equal(t, 100.0, b.ByCoupon["SAVE10"].AvgDiscount)

	s := acc.Summary()
	assert.Equal(t, int64(1), s.TotalOrders)
	assert.Equal(t, 900.0, s.NetRevenue)
}

func TestAccumulatorAttributedAgencyWinsOverCouponAgency(t *testing.T) {
	joins := NewJoins(
		[]models.Coupon{{Code: "SAVE10", AgencyID: "a1"}},
		[]models.Agency{{ID: "a1", Name: "Acme"}, {ID: "a2", Name: "Globex"}},
	)
	acc := NewAccumulator(joins, nil)
	o := order("o1", "50", "5", "SAVE10", base)
	o.AttributedAgencyID = "a2"
	acc.AddOrder(o)

	b := acc.Breakdowns()
	assert.Contains(t, b.ByAgency, "Globex")
	assert.NotContains(t, b.ByAgency, "Acme")
	require.NotNil(t, b.ByCoupon["SAVE10"].CouponDetails)
	assert.Equal(t, "Globex", *b.ByCoupon["SAVE10"].CouponDetails.AgencyName)
}

func TestAccumulatorVisitsAndEventsReachAgencyThroughCoupon(t *testing.T) {
	joins := NewJoins(
		[]models.Coupon{{Code: "ACME5", AgencyID: "a1"}},
		[]models.Agency{{ID: "a1", Name: "Acme"}},
	)
	acc := NewAccumulator(joins, nil)
	acc.AddVisit(visit("meta", "ACME5"))
	acc.AddVisit(visit("meta", "ACME5"))
	acc.AddEvent(event("e1", models.EventSignup, "meta", "ACME5", base))
	acc.AddOrder(order("o1", "80", "8", "ACME5", base))

	acme := acc.Breakdowns().ByAgency["Acme"]
	assert.Equal(t, int64(2), acme.Visits)
	assert.Equal(t, int64(1), acme.Signups)
	assert.Equal(t, int64(1), acme.Orders)
	assert.Equal(t, 50.0, acme.ConversionRate)
}

func TestAccumulatorCouponDetailsPreferRecordValues(t *testing.T) {
	pct := 15.0
	joins := NewJoins(
		[]models.Coupon{{
			Code:          "SPRING",
			DiscountType:  "percentage",
			DiscountValue: &pct,
			Attribution:   models.Attribution{Source: "catalog-src", Campaign: "catalog-camp"},
		}},
		nil,
	)
	acc := NewAccumulator(joins, nil)

	older := event("e1", models.EventSignup, "", "SPRING", base)
	older.Campaign = "old-camp"
	newer := event("e2", models.EventLogin, "", "SPRING", base.Add(time.Hour))
	newer.Campaign = "new-camp"
	acc.AddEvent(older)
	acc.AddEvent(newer)

	d := acc.Breakdowns().ByCoupon["SPRING"].CouponDetails
	require.NotNil(t, d)
	assert.Equal(t, "SPRING", d.Code)
	assert.Equal(t, "new-camp", *d.UTMCampaign)
	assert.Equal(t, "catalog-src", *d.UTMSource)
	assert.Equal(t, "percentage", *d.DiscountType)
	assert.Equal(t, 15.0, *d.DiscountValue)
	assert.Nil(t, d.AgencyName)
}

func TestAccumulatorVisitOnlyCouponDetails(t *testing.T) {
	acc := NewAccumulator(nil, nil)
	acc.AddVisit(visit("google", "LONELY"))

	b := acc.Breakdowns().ByCoupon["LONELY"]
	assert.Equal(t, int64(1), b.Visits)
	require.NotNil(t, b.CouponDetails)
	assert.Equal(t, "LONELY", b.CouponDetails.Code)
	assert.Nil(t, b.CouponDetails.UTMSource)
	assert.Nil(t, b.CouponDetails.DiscountType)
}

func TestAccumulatorVisitOnlyCouponUsesCatalog(t *testing.T) {
	pct := 10.0
	joins := NewJoins(
		[]models.Coupon{{
			Code:          "ACME5",
			AgencyID:      "a1",
			DiscountType:  "percentage",
			DiscountValue: &pct,
			Attribution:   models.Attribution{Source: "newsletter"},
		}},
		[]models.Agency{{ID: "a1", Name: "Acme"}},
	)
	acc := NewAccumulator(joins, nil)
	acc.AddVisit(visit("meta", "ACME5"))

	d := acc.Breakdowns().ByCoupon["ACME5"].CouponDetails
	require.NotNil(t, d)
	assert.Equal(t, "newsletter", *d.UTMSource)
	assert.Equal(t, "Acme", *d.AgencyName)
	assert.Equal(t, "percentage", *d.DiscountType)
	assert.Equal(t, 10.0, *d.DiscountValue)
}

func TestAccumulatorMalformedMoneyCountsAsZero(t *testing.T) {
	type hit struct{ entity, field string }
	var hits []hit
	acc := NewAccumulator(nil, func(entity, field string) {
		hits = append(hits, hit{entity, field})
	})

	o := order("o1", "12,50", "", "", base)
	o.DiscountAmount = nil
	acc.AddOrder(o)
	acc.AddOrder(order("o2", "10.25", "0.25", "", base))

	s := acc.Summary()
	assert.Equal(t, int64(2), s.TotalOrders)
	assert.Equal(t, 10.25, s.TotalRevenue)
	assert.Equal(t, 10.0, s.NetRevenue)
	assert.Equal(t, []hit{{"order", "subtotal"}}, hits)
}

func TestAccumulatorUnknownEventKindOnlyCountsInTotal(t *testing.T) {
	acc := NewAccumulator(nil, nil)
	acc.AddEvent(event("e1", "password_reset", "google", "", base))

	assert.Equal(t, int64(1), acc.Summary().TotalEvents)
	assert.Empty(t, acc.Breakdowns().BySource)
}

func TestAccumulatorOrderIndependent(t *testing.T) {
	joins := NewJoins(
		[]models.Coupon{
			{Code: "A", AgencyID: "a1", Channel: "influencer", Attribution: models.Attribution{Campaign: "cat-a"}},
			{Code: "B", AgencyID: "a2", Channel: "affiliate"},
		},
		[]models.Agency{{ID: "a1", Name: "Acme"}, {ID: "a2", Name: "Globex"}},
	)

	sources := []string{"google", "meta", ""}
	codes := []string{"A", "B", ""}
	var (
		events []models.TrackingEvent
		visits []models.VisitRecord
		orders []models.Order
	)
	for i := 0; i < 30; i++ {
		at := base.Add(time.Duration(i%7) * time.Minute)
		kind := models.EventSignup
		if i%2 == 0 {
			kind = models.EventLogin
		}
		e := event(string(rune('a'+i)), kind, sources[i%3], codes[(i+1)%3], at)
		e.Campaign = []string{"spring", "", "summer"}[i%3]
		events = append(events, e)
		visits = append(visits, visit(sources[(i+2)%3], codes[i%3]))

		o := order(string(rune('A'+i)), []string{"10.10", "0.30", "99.99"}[i%3], []string{"1.01", "0", "x"}[i%3], codes[(i+2)%3], at)
		o.AttributedSource = sources[i%3]
		if i%5 == 0 {
			o.AttributedAgencyID = "a2"
		}
		orders = append(orders, o)
	}

	build := func(ev []models.TrackingEvent, vi []models.VisitRecord, or []models.Order) (Summary, Breakdowns) {
		acc := NewAccumulator(joins, nil)
		for _, o := range or {
			acc.AddOrder(o)
		}
		for _, e := range ev {
			acc.AddEvent(e)
		}
		for _, v := range vi {
			acc.AddVisit(v)
		}
		return acc.Summary(), acc.Breakdowns()
	}

	wantSummary, want := build(events, visits, orders)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5; i++ {
		rng.Shuffle(len(events), func(a, b int) { events[a], events[b] = events[b], events[a] })
		rng.Shuffle(len(visits), func(a, b int) { visits[a], visits[b] = visits[b], visits[a] })
		rng.Shuffle(len(orders), func(a, b int) { orders[a], orders[b] = orders[b], orders[a] })

		gotSummary, got := build(events, visits, orders)
		assert.Equal(t, wantSummary, gotSummary)
		assert.Equal(t, want, got)
	}

	for name, m := range map[string]map[string]Bucket{
		"source": want.BySource, "campaign": want.ByCampaign, "medium": want.ByMedium,
	} {
		for key, b := range m {
			assert.Equal(t, b.Signups+b.Logins, b.Total, "%s %s", name, key)
			assert.InDelta(t, b.Revenue-b.Discount, b.NetRevenue, 1e-9, "%s %s", name, key)
		}
	}
}
