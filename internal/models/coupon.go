package models

// Coupon is a promo code issued to a partner.
type Coupon struct {
	Code          string   `json:"code"`
	Channel       string   `json:"channel"`
	DiscountType  string   `json:"discount_type"`
	DiscountValue *float64 `json:"discount_value"`
	AgencyID      string   `json:"agency_id"`
	Attribution
}

// Agency is a marketing partner that owns coupons.
type Agency struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}
