package storage

import (
	"context"
	"errors"

	"github.com/radiusdt/orion-attribution/internal/models"
)

// ErrConflict is returned when a row changed between read and write.
var ErrConflict = errors.New("concurrent modification")

// ErrInvalidQuery is returned for an order query with a negative offset or limit.
var ErrInvalidQuery = errors.New("invalid order query")

// =============================================
// PRIMARY SOURCES
// =============================================

// EventSource returns signup/login events matching a filter.
type EventSource interface {
	FetchEvents(ctx context.Context, f models.Filter) ([]models.TrackingEvent, error)
}

// VisitSource returns landing visits matching a filter.
type VisitSource interface {
	FetchVisits(ctx context.Context, f models.Filter) ([]models.VisitRecord, error)
}

// OrderSource returns reportable orders matching a filter.
type OrderSource interface {
	FetchOrders(ctx context.Context, f models.Filter) ([]models.Order, error)
}

// =============================================
// REFERENCE SOURCES
// =============================================

// CouponSource returns coupons by code. Unknown codes are skipped.
type CouponSource interface {
	FetchCoupons(ctx context.Context, codes []string) ([]models.Coupon, error)
}

// AgencySource returns agencies by ID. Unknown IDs are skipped.
type AgencySource interface {
	FetchAgencies(ctx context.Context, ids []string) ([]models.Agency, error)
}

// AgencyLister lists the agencies offered as report filters.
type AgencyLister interface {
	ListActiveAgencies(ctx context.Context) ([]models.Agency, error)
}

// Sources bundles the five stores read by a report.
type Sources struct {
	Events   EventSource
	Visits   VisitSource
	Orders   OrderSource
	Coupons  CouponSource
	Agencies AgencySource
}

// =============================================
// ORDER REPOSITORY
// =============================================

// OrderQuery selects a page of orders for the admin list.
type OrderQuery struct {
	Status models.OrderStatus
	Search string
	Offset int
	Limit  int
}

// OrderRepo manages orders through their fulfilment workflow.
type OrderRepo interface {
	// ListOrders returns one page of orders, newest first, and the total
	// number of orders matching the query.
	ListOrders(ctx context.Context, q OrderQuery) ([]models.Order, int, error)
	// GetOrder returns nil if the order does not exist.
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	// UpdateOrderStatus moves an order from one status to another and
	// replaces its history. It returns ErrConflict if the order is no longer
	// in status from.
	UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus, history []models.StatusChange) (*models.Order, error)
}
