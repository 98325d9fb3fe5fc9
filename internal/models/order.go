package models

import (
	"time"
)

// ===========================================
// ORDER STATUS
// ===========================================

type OrderStatus string

const (
	StatusPending       OrderStatus = "pending"
	StatusOrderPlaced   OrderStatus = "order_placed"
	StatusAcknowledged  OrderStatus = "acknowledged"
	StatusManufacturing OrderStatus = "manufacturing"
	StatusShipping      OrderStatus = "shipping"
	StatusDelivered     OrderStatus = "delivered"
)

// statusSequence is the forward order of the fulfilment workflow.
var statusSequence = []OrderStatus{
	StatusPending,
	StatusOrderPlaced,
	StatusAcknowledged,
	StatusManufacturing,
	StatusShipping,
	StatusDelivered,
}

// StatusSequence returns a copy of the workflow statuses in forward order.
func StatusSequence() []OrderStatus {
	out := make([]OrderStatus, len(statusSequence))
	copy(out, statusSequence)
	return out
}

// ReportableStatuses are the statuses counted as placed orders.
func ReportableStatuses() []OrderStatus {
	return StatusSequence()[1:]
}

// Index returns the position of the status in the workflow, or -1.
func (s OrderStatus) Index() int {
	for i, st := range statusSequence {
		if st == s {
			return i
		}
	}
	return -1
}

func (s OrderStatus) Valid() bool {
	return s.Index() >= 0
}

// Reportable reports whether orders in this status count toward revenue.
func (s OrderStatus) Reportable() bool {
	return s.Index() > 0
}

// CanAdvanceTo reports whether next is strictly later in the workflow.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	return next.Valid() && next.Index() > s.Index()
}

// ===========================================
// ORDER
// ===========================================

type StatusChange struct {
	ID        string      `json:"id,omitempty"`
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Note      string      `json:"note"`
}

// Order is a placed order. Money fields are kept as raw decimal text so
// malformed values can be detected instead of silently coerced.
type Order struct {
	ID                 string         `json:"id"`
	OrderNumber        string         `json:"order_number"`
	CustomerEmail      string         `json:"customer_email"`
	CreatedAt          time.Time      `json:"created_at"`
	Subtotal           *string        `json:"subtotal"`
	DiscountAmount     *string        `json:"discount_amount"`
	CouponCode         string         `json:"coupon_code"`
	AttributedSource   string         `json:"attributed_utm_source"`
	AttributedCampaign string         `json:"attributed_utm_campaign"`
	AttributedMedium   string         `json:"attributed_utm_medium"`
	AttributedAgencyID string         `json:"attributed_agency_id"`
	Status             OrderStatus    `json:"status"`
	StatusHistory      []StatusChange `json:"status_history,omitempty"`
}

// Attribution returns the UTM tags the order was attributed to.
func (o Order) Attribution() Attribution {
	return Attribution{
		Source:   o.AttributedSource,
		Campaign: o.AttributedCampaign,
		Medium:   o.AttributedMedium,
	}
}
