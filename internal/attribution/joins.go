package attribution

import (
	"sort"

	"github.com/radiusdt/orion-attribution/internal/models"
	"github.com/samber/lo"
)

// Joins resolves coupon codes and agency IDs to their reference records.
// A Joins built from nothing resolves every lookup to "unknown".
type Joins struct {
	coupons  map[string]models.Coupon
	agencies map[string]string

	couponsDegraded bool
}

// NewJoins indexes the fetched coupon and agency records.
func NewJoins(coupons []models.Coupon, agencies []models.Agency) *Joins {
	j := &Joins{
		coupons:  make(map[string]models.Coupon, len(coupons)),
		agencies: make(map[string]string, len(agencies)),
	}
	for _, c := range coupons {
		if c.Code != "" {
			j.coupons[c.Code] = c
		}
	}
	for _, a := range agencies {
		if a.ID != "" && a.Name != "" {
			j.agencies[a.ID] = a.Name
		}
	}
	return j
}

// Coupon returns the catalog record for code.
func (j *Joins) Coupon(code string) (models.Coupon, bool) {
	if j == nil || code == "" {
		return models.Coupon{}, false
	}
	c, ok := j.coupons[code]
	return c, ok
}

// AgencyName returns the display name for an agency ID.
func (j *Joins) AgencyName(id string) (string, bool) {
	if j == nil || id == "" {
		return "", false
	}
	name, ok := j.agencies[id]
	return name, ok
}

// CouponAgency resolves the agency owning a coupon.
func (j *Joins) CouponAgency(code string) (id, name string, ok bool) {
	c, found := j.Coupon(code)
	if !found {
		return "", "", false
	}
	name, ok = j.AgencyName(c.AgencyID)
	return c.AgencyID, name, ok
}

// OrderAgency resolves the agency credited with an order: the agency the
// order was attributed to, else the agency owning its coupon.
func (j *Joins) OrderAgency(o models.Order) (id, name string, ok bool) {
	if name, ok := j.AgencyName(o.AttributedAgencyID); ok {
		return o.AttributedAgencyID, name, true
	}
	return j.CouponAgency(o.CouponCode)
}

// Channel returns the sales channel of a coupon, or "" when unknown.
func (j *Joins) Channel(code string) string {
	c, _ := j.Coupon(code)
	return c.Channel
}

// CouponsDegraded reports whether the coupon catalog is missing because its
// source failed.
func (j *Joins) CouponsDegraded() bool {
	return j != nil && j.couponsDegraded
}

// referencedCodes collects the distinct coupon codes carried by any record.
func referencedCodes(events []models.TrackingEvent, visits []models.VisitRecord, orders []models.Order) []string {
	codes := make([]string, 0, len(orders))
	for _, o := range orders {
		codes = append(codes, o.CouponCode)
	}
	for _, e := range events {
		codes = append(codes, e.CouponCode)
	}
	for _, v := range visits {
		codes = append(codes, v.CouponCode)
	}
	return sortedSet(codes)
}

// orderAgencyIDs collects the distinct agency IDs orders were attributed to.
func orderAgencyIDs(orders []models.Order) []string {
	return sortedSet(lo.Map(orders, func(o models.Order, _ int) string {
		return o.AttributedAgencyID
	}))
}

// couponAgencyIDs collects the agency IDs owning the given coupons, minus
// those already known.
func couponAgencyIDs(coupons []models.Coupon, known []string) []string {
	ids := lo.Map(coupons, func(c models.Coupon, _ int) string { return c.AgencyID })
	return sortedSet(lo.Without(ids, known...))
}

func sortedSet(values []string) []string {
	out := lo.Uniq(lo.Compact(values))
	sort.Strings(out)
	return out
}
