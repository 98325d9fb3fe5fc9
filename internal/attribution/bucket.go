package attribution

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Labels used when a categorical value is absent.
const (
	DirectLabel = "(direct)"
	NoneLabel   = "(none)"

	sourceSentinel   = DirectLabel
	mediumSentinel   = DirectLabel
	campaignSentinel = NoneLabel
)

func orLabel(v, sentinel string) string {
	if v == "" {
		return sentinel
	}
	return v
}

// CouponDetails is the descriptive metadata reported for a coupon.
type CouponDetails struct {
	Code          string   `json:"code"`
	UTMCampaign   *string  `json:"utm_campaign"`
	UTMSource     *string  `json:"utm_source"`
	AgencyName    *string  `json:"agency_name"`
	DiscountType  *string  `json:"discount_type"`
	DiscountValue *float64 `json:"discount_value"`
}

// Bucket is the derived metric record reported for one dimension key.
// On coupon buckets Orders is the coupon usage count.
type Bucket struct {
	Visits         int64          `json:"visits"`
	Signups        int64          `json:"signups"`
	Logins         int64          `json:"logins"`
	Total          int64          `json:"total"`
	Orders         int64          `json:"orders"`
	Revenue        float64        `json:"revenue"`
	Discount       float64        `json:"discount"`
	NetRevenue     float64        `json:"netRevenue"`
	ConversionRate float64        `json:"conversionRate"`
	AvgDiscount    float64        `json:"avgDiscount"`
	AvgOrderValue  float64        `json:"avgOrderValue"`
	CouponDetails  *CouponDetails `json:"couponDetails,omitempty"`
	AgencyID       string         `json:"agencyId,omitempty"`
	Coupons        []string       `json:"coupons,omitempty"`
}

// rank orders records newest first, then by ID descending, so metadata picks
// are independent of the order records arrive in.
type rank struct {
	at time.Time
	id string
}

func (r rank) beats(o rank) bool {
	if !r.at.Equal(o.at) {
		return r.at.After(o.at)
	}
	return r.id > o.id
}

// pick keeps the best-ranked non-empty value seen for a field.
type pick struct {
	value string
	rank  rank
	set   bool
}

func (p *pick) offer(value string, r rank) {
	if value == "" {
		return
	}
	if !p.set || r.beats(p.rank) {
		p.value, p.rank, p.set = value, r, true
	}
}

func (p pick) ptr() *string {
	if !p.set {
		return nil
	}
	v := p.value
	return &v
}

// tally is the running accumulator behind a Bucket.
type tally struct {
	visits   int64
	signups  int64
	logins   int64
	orders   int64
	revenue  decimal.Decimal
	discount decimal.Decimal

	// coupon metadata
	code        string
	campaign    pick
	source      pick
	orderAgency pick

	// agency metadata
	agencyID string
	coupons  map[string]struct{}
}

func (t *tally) addEvent(kind eventKind) {
	switch kind {
	case kindSignup:
		t.signups++
	case kindLogin:
		t.logins++
	}
}

func (t *tally) addOrder(subtotal, discount decimal.Decimal) {
	t.orders++
	t.revenue = t.revenue.Add(subtotal)
	t.discount = t.discount.Add(discount)
}

// noteAgency keeps the smallest agency ID seen under a name.
func (t *tally) noteAgency(id, code string) {
	if t.agencyID == "" || (id != "" && id < t.agencyID) {
		t.agencyID = id
	}
	if code == "" {
		return
	}
	if t.coupons == nil {
		t.coupons = make(map[string]struct{})
	}
	t.coupons[code] = struct{}{}
}

func (t *tally) couponList() []string {
	out := make([]string, 0, len(t.coupons))
	for c := range t.coupons {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// tallies is a lazily populated map of dimension key to tally.
type tallies map[string]*tally

func (m tallies) get(key string) *tally {
	t, ok := m[key]
	if !ok {
		t = &tally{revenue: decimal.Zero, discount: decimal.Zero}
		m[key] = t
	}
	return t
}
