// Package orders implements the admin order list and the forward-only
// fulfilment workflow.
package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/orion-attribution/internal/metrics"
	"github.com/radiusdt/orion-attribution/internal/models"
	"github.com/radiusdt/orion-attribution/internal/storage"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

var (
	ErrMissingFields    = errors.New("orderId and newStatus are required")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrOrderNotFound    = errors.New("order not found")
	ErrStatusNotForward = errors.New("status can only move forward")
	ErrConcurrentUpdate = errors.New("order was updated concurrently")
)

// ListRequest selects a page of the admin order list.
type ListRequest struct {
	StatusFilter string `json:"statusFilter,omitempty"`
	Search       string `json:"search,omitempty"`
	Page         int    `json:"page,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

// ListResult is one page of orders.
type ListResult struct {
	Orders     []models.Order `json:"orders"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"totalPages"`
}

// UpdateRequest moves an order to a later status.
type UpdateRequest struct {
	OrderID   string `json:"orderId"`
	NewStatus string `json:"newStatus"`
	Note      string `json:"note,omitempty"`
}

// Service manages orders through their fulfilment workflow.
type Service struct {
	repo    storage.OrderRepo
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates an order service over repo.
func NewService(repo storage.OrderRepo, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// List returns a page of orders, newest first. An empty or "all" status
// filter matches every status.
func (s *Service) List(ctx context.Context, req ListRequest) (*ListResult, error) {
	q := storage.OrderQuery{Search: strings.TrimSpace(req.Search)}

	if f := strings.TrimSpace(req.StatusFilter); f != "" && f != "all" {
		status := models.OrderStatus(f)
		if !status.Valid() {
			return nil, ErrInvalidStatus
		}
		q.Status = status
	}

	page, limit := req.Page, req.Limit
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if maxPage := math.MaxInt / limit; page > maxPage {
		page = maxPage
	}
	q.Offset = (page - 1) * limit
	q.Limit = limit

	orders, total, err := s.repo.ListOrders(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}

	return &ListResult{
		Orders:     orders,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// UpdateStatus advances an order and appends the change to its history.
func (s *Service) UpdateStatus(ctx context.Context, req UpdateRequest) (*models.Order, error) {
	id := strings.TrimSpace(req.OrderID)
	next := models.OrderStatus(strings.TrimSpace(req.NewStatus))
	if id == "" || next == "" {
		return nil, ErrMissingFields
	}
	if !next.Valid() {
		s.metrics.RecordStatusUpdate(string(next), "invalid")
		return nil, ErrInvalidStatus
	}

	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		s.metrics.RecordStatusUpdate(string(next), "not_found")
		return nil, ErrOrderNotFound
	}
	if !order.Status.CanAdvanceTo(next) {
		s.metrics.RecordStatusUpdate(string(next), "rejected")
		return nil, ErrStatusNotForward
	}

	history := append(order.StatusHistory, models.StatusChange{
		ID:        uuid.NewString(),
		Status:    next,
		Timestamp: s.now(),
		Note:      strings.TrimSpace(req.Note),
	})

	updated, err := s.repo.UpdateOrderStatus(ctx, id, order.Status, next, history)
	switch {
	case errors.Is(err, storage.ErrConflict):
		s.metrics.RecordStatusUpdate(string(next), "conflict")
		return nil, ErrConcurrentUpdate
	case err != nil:
		s.metrics.RecordStatusUpdate(string(next), "error")
		return nil, fmt.Errorf("update order status: %w", err)
	case updated == nil:
		s.metrics.RecordStatusUpdate(string(next), "not_found")
		return nil, ErrOrderNotFound
	}

	s.metrics.RecordStatusUpdate(string(next), "ok")
	s.logger.Info("order status updated",
		zap.String("order_id", id),
		zap.String("from", string(order.Status)),
		zap.String("to", string(next)),
	)
	return updated, nil
}
