package models

import (
	"time"
)

// ===========================================
// ATTRIBUTION TAGS
// ===========================================

// Attribution holds the UTM tags carried by an inbound link. An empty string
// means the tag was absent.
type Attribution struct {
	Source   string `json:"utm_source"`
	Campaign string `json:"utm_campaign"`
	Medium   string `json:"utm_medium"`
}

// ===========================================
// TRACKING EVENT
// ===========================================

type EventType string

const (
	EventSignup EventType = "signup"
	EventLogin  EventType = "login"
)

// DefaultAuthProvider is reported for events recorded without a provider.
const DefaultAuthProvider = "email"

type TrackingEvent struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	CustomerID   string    `json:"customer_id"`
	EventType    EventType `json:"event_type"`
	AuthProvider string    `json:"auth_provider"`
	CouponCode   string    `json:"coupon_code"`
	Attribution
}

// Provider returns the auth provider, defaulting to email.
func (e TrackingEvent) Provider() string {
	if e.AuthProvider == "" {
		return DefaultAuthProvider
	}
	return e.AuthProvider
}

// ===========================================
// VISIT
// ===========================================

type VisitRecord struct {
	ID         string    `json:"id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	CouponCode string    `json:"coupon_code"`
	Attribution
}
