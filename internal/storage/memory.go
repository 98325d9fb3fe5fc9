package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/radiusdt/orion-attribution/internal/models"
)

// InMemorySource is a thread-safe in-memory implementation of every source
// and of OrderRepo. It is used when no database is configured and in tests.
type InMemorySource struct {
	mu       sync.RWMutex
	events   []models.TrackingEvent
	visits   []models.VisitRecord
	orders   map[string]*models.Order
	coupons  map[string]models.Coupon
	agencies map[string]models.Agency
}

// NewInMemorySource creates an empty in-memory source.
func NewInMemorySource() *InMemorySource {
	return &InMemorySource{
		orders:   make(map[string]*models.Order),
		coupons:  make(map[string]models.Coupon),
		agencies: make(map[string]models.Agency),
	}
}

func (s *InMemorySource) AddEvents(events ...models.TrackingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

func (s *InMemorySource) AddVisits(visits ...models.VisitRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits = append(s.visits, visits...)
}

// UpsertOrder stores a copy of o, replacing any order with the same ID.
func (s *InMemorySource) UpsertOrder(o models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyOrder(o)
	s.orders[o.ID] = &cp
}

func (s *InMemorySource) UpsertCoupon(c models.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[c.Code] = c
}

func (s *InMemorySource) UpsertAgency(a models.Agency) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agencies[a.ID] = a
}

// FetchEvents returns events matching f.
func (s *InMemorySource) FetchEvents(_ context.Context, f models.Filter) ([]models.TrackingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]models.TrackingEvent, 0, len(s.events))
	for _, e := range s.events {
		if f.MatchesEvent(e) {
			res = append(res, e)
		}
	}
	return res, nil
}

// FetchVisits returns visits matching f.
func (s *InMemorySource) FetchVisits(_ context.Context, f models.Filter) ([]models.VisitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]models.VisitRecord, 0, len(s.visits))
	for _, v := range s.visits {
		if f.MatchesVisit(v) {
			res = append(res, v)
		}
	}
	return res, nil
}

// FetchOrders returns reportable orders matching f.
func (s *InMemorySource) FetchOrders(_ context.Context, f models.Filter) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if f.MatchesOrder(*o) {
			res = append(res, copyOrder(*o))
		}
	}
	return res, nil
}

// FetchCoupons returns the known coupons among codes.
func (s *InMemorySource) FetchCoupons(_ context.Context, codes []string) ([]models.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]models.Coupon, 0, len(codes))
	for _, code := range codes {
		if c, ok := s.coupons[code]; ok {
			res = append(res, c)
		}
	}
	return res, nil
}

// FetchAgencies returns the known agencies among ids.
func (s *InMemorySource) FetchAgencies(_ context.Context, ids []string) ([]models.Agency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]models.Agency, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.agencies[id]; ok {
			res = append(res, a)
		}
	}
	return res, nil
}

// ListActiveAgencies returns active agencies ordered by name.
func (s *InMemorySource) ListActiveAgencies(_ context.Context) ([]models.Agency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]models.Agency, 0, len(s.agencies))
	for _, a := range s.agencies {
		if a.IsActive {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Name != res[j].Name {
			return res[i].Name < res[j].Name
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

// ListOrders returns a page of orders, newest first.
func (s *InMemorySource) ListOrders(_ context.Context, q OrderQuery) ([]models.Order, int, error) {
	if q.Offset < 0 || q.Limit < 0 {
		return nil, 0, ErrInvalidQuery
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(q.Search))
	matched := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if q.Status != "" && o.Status != q.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(o.OrderNumber), search) &&
			!strings.Contains(strings.ToLower(o.CustomerEmail), search) {
			continue
		}
		matched = append(matched, copyOrder(*o))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	if q.Offset >= total {
		return []models.Order{}, total, nil
	}
	end := total
	if q.Limit > 0 && q.Limit < total-q.Offset {
		end = q.Offset + q.Limit
	}
	return matched[q.Offset:end], total, nil
}

// GetOrder returns the order with the given ID or nil if not found.
func (s *InMemorySource) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.orders[id]; ok {
		cp := copyOrder(*o)
		return &cp, nil
	}
	return nil, nil
}

// UpdateOrderStatus moves an order from one status to another.
func (s *InMemorySource) UpdateOrderStatus(_ context.Context, id string, from, to models.OrderStatus, history []models.StatusChange) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	if o.Status != from {
		return nil, ErrConflict
	}
	o.Status = to
	o.StatusHistory = append([]models.StatusChange(nil), history...)
	cp := copyOrder(*o)
	return &cp, nil
}

func copyOrder(o models.Order) models.Order {
	cp := o
	if o.StatusHistory != nil {
		cp.StatusHistory = append([]models.StatusChange(nil), o.StatusHistory...)
	}
	return cp
}
