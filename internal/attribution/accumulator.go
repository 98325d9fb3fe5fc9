package attribution

import (
	"github.com/radiusdt/orion-attribution/internal/models"
	"github.com/shopspring/decimal"
)

type eventKind int

const (
	kindOther eventKind = iota
	kindSignup
	kindLogin
)

func kindOf(t models.EventType) eventKind {
	switch t {
	case models.EventSignup:
		return kindSignup
	case models.EventLogin:
		return kindLogin
	default:
		return kindOther
	}
}

// Accumulator folds visits, events and orders into per-dimension tallies.
// Every counter is a sum and every metadata pick is ranked, so the result
// does not depend on the order records are added in.
type Accumulator struct {
	joins       *Joins
	onMalformed MalformedFunc

	bySource   tallies
	byCampaign tallies
	byMedium   tallies
	byProvider tallies
	byCoupon   tallies
	byAgency   tallies
	byChannel  tallies

	summary tally
	events  int64
}

// NewAccumulator creates an empty accumulator resolving coupon and agency
// metadata through joins.
func NewAccumulator(joins *Joins, onMalformed MalformedFunc) *Accumulator {
	if joins == nil {
		joins = NewJoins(nil, nil)
	}
	return &Accumulator{
		joins:       joins,
		onMalformed: onMalformed,
		bySource:    make(tallies),
		byCampaign:  make(tallies),
		byMedium:    make(tallies),
		byProvider:  make(tallies),
		byCoupon:    make(tallies),
		byAgency:    make(tallies),
		byChannel:   make(tallies),
		summary:     tally{revenue: decimal.Zero, discount: decimal.Zero},
	}
}

// tagged returns the source, campaign and medium tallies for attr.
func (a *Accumulator) tagged(attr models.Attribution) []*tally {
	return []*tally{
		a.bySource.get(orLabel(attr.Source, sourceSentinel)),
		a.byCampaign.get(orLabel(attr.Campaign, campaignSentinel)),
		a.byMedium.get(orLabel(attr.Medium, mediumSentinel)),
	}
}

func (a *Accumulator) coupon(code string) *tally {
	t := a.byCoupon.get(code)
	t.code = code
	return t
}

// AddVisit counts a landing visit.
func (a *Accumulator) AddVisit(v models.VisitRecord) {
	a.summary.visits++
	for _, t := range a.tagged(v.Attribution) {
		t.visits++
	}

	if v.CouponCode == "" {
		return
	}
	a.coupon(v.CouponCode).visits++
	if id, name, ok := a.joins.CouponAgency(v.CouponCode); ok {
		t := a.byAgency.get(name)
		t.visits++
		t.noteAgency(id, v.CouponCode)
	}
}

// AddEvent counts a signup or login. Events of any other kind are counted in
// the event total only.
func (a *Accumulator) AddEvent(e models.TrackingEvent) {
	a.events++
	kind := kindOf(e.EventType)
	if kind == kindOther {
		return
	}
	a.summary.addEvent(kind)

	for _, t := range a.tagged(e.Attribution) {
		t.addEvent(kind)
	}
	a.byProvider.get(e.Provider()).addEvent(kind)

	if e.CouponCode == "" {
		return
	}
	r := rank{at: e.CreatedAt, id: e.ID}
	c := a.coupon(e.CouponCode)
	c.addEvent(kind)
	c.campaign.offer(e.Campaign, r)
	c.source.offer(e.Source, r)

	if id, name, ok := a.joins.CouponAgency(e.CouponCode); ok {
		t := a.byAgency.get(name)
		t.addEvent(kind)
		t.noteAgency(id, e.CouponCode)
	}
}

// AddOrder counts a placed order and its money.
func (a *Accumulator) AddOrder(o models.Order) {
	subtotal := parseMoney(o.Subtotal, "order", "subtotal", a.onMalformed)
	discount := parseMoney(o.DiscountAmount, "order", "discount_amount", a.onMalformed)

	a.summary.addOrder(subtotal, discount)
	for _, t := range a.tagged(o.Attribution()) {
		t.addOrder(subtotal, discount)
	}

	agencyID, agencyName, hasAgency := a.joins.OrderAgency(o)
	if hasAgency {
		t := a.byAgency.get(agencyName)
		t.addOrder(subtotal, discount)
		t.noteAgency(agencyID, o.CouponCode)
	}

	if o.CouponCode == "" {
		return
	}
	c := a.coupon(o.CouponCode)
	c.addOrder(subtotal, discount)
	if name, ok := a.joins.AgencyName(o.AttributedAgencyID); ok {
		c.orderAgency.offer(name, rank{at: o.CreatedAt, id: o.ID})
	}

	if channel := a.joins.Channel(o.CouponCode); channel != "" {
		a.byChannel.get(channel).addOrder(subtotal, discount)
	}
}

// Summary holds report-wide totals.
type Summary struct {
	TotalEvents    int64   `json:"totalEvents"`
	TotalVisits    int64   `json:"totalVisits"`
	Signups        int64   `json:"signups"`
	Logins         int64   `json:"logins"`
	TotalOrders    int64   `json:"totalOrders"`
	TotalRevenue   float64 `json:"totalRevenue"`
	TotalDiscount  float64 `json:"totalDiscount"`
	NetRevenue     float64 `json:"netRevenue"`
	ConversionRate float64 `json:"conversionRate"`
	AvgOrderValue  float64 `json:"avgOrderValue"`
}

// Breakdowns holds the seven dimension maps. Maps are never nil.
type Breakdowns struct {
	BySource   map[string]Bucket `json:"bySource"`
	ByCampaign map[string]Bucket `json:"byCampaign"`
	ByMedium   map[string]Bucket `json:"byMedium"`
	ByProvider map[string]Bucket `json:"byProvider"`
	ByCoupon   map[string]Bucket `json:"byCoupon"`
	ByAgency   map[string]Bucket `json:"byAgency"`
	ByChannel  map[string]Bucket `json:"byChannel"`
}

// Summary derives the report-wide totals.
func (a *Accumulator) Summary() Summary {
	s := a.summary
	return Summary{
		TotalEvents:    a.events,
		TotalVisits:    s.visits,
		Signups:        s.signups,
		Logins:         s.logins,
		TotalOrders:    s.orders,
		TotalRevenue:   s.revenue.InexactFloat64(),
		TotalDiscount:  s.discount.InexactFloat64(),
		NetRevenue:     s.revenue.Sub(s.discount).InexactFloat64(),
		ConversionRate: percent(s.orders, s.visits),
		AvgOrderValue:  ratio(s.revenue, s.orders),
	}
}

// Breakdowns derives the metric record for every bucket.
func (a *Accumulator) Breakdowns() Breakdowns {
	b := Breakdowns{
		BySource:   deriveAll(a.bySource),
		ByCampaign: deriveAll(a.byCampaign),
		ByMedium:   deriveAll(a.byMedium),
		ByProvider: deriveAll(a.byProvider),
		ByCoupon:   make(map[string]Bucket, len(a.byCoupon)),
		ByAgency:   make(map[string]Bucket, len(a.byAgency)),
		ByChannel:  deriveAll(a.byChannel),
	}

	for code, t := range a.byCoupon {
		out := derive(t)
		out.CouponDetails = a.details(t)
		b.ByCoupon[code] = out
	}

	for name, t := range a.byAgency {
		out := derive(t)
		out.AgencyID = t.agencyID
		out.Coupons = t.couponList()
		b.ByAgency[name] = out
	}

	return b
}

// details merges coupon metadata. Values taken from events and orders win;
// the coupon catalog only fills what they left empty.
func (a *Accumulator) details(t *tally) *CouponDetails {
	d := &CouponDetails{
		Code:        t.code,
		UTMCampaign: t.campaign.ptr(),
		UTMSource:   t.source.ptr(),
		AgencyName:  t.orderAgency.ptr(),
	}

	c, ok := a.joins.Coupon(t.code)
	if !ok {
		return d
	}
	if d.UTMCampaign == nil {
		d.UTMCampaign = optional(c.Campaign)
	}
	if d.UTMSource == nil {
		d.UTMSource = optional(c.Source)
	}
	if d.AgencyName == nil {
		if name, found := a.joins.AgencyName(c.AgencyID); found {
			d.AgencyName = optional(name)
		}
	}
	d.DiscountType = optional(c.DiscountType)
	if c.DiscountValue != nil {
		v := *c.DiscountValue
		d.DiscountValue = &v
	}
	return d
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
