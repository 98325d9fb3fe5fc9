package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/radiusdt/orion-attribution/internal/models"
)

// Querier is the subset of *pgxpool.Pool used by PostgresSource.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSource reads tracking data and manages orders in PostgreSQL.
type PostgresSource struct {
	db Querier
}

// NewPostgresSource creates a new PostgreSQL-backed source.
func NewPostgresSource(db Querier) *PostgresSource {
	return &PostgresSource{db: db}
}

// FetchEvents returns referral tracking events matching f.
func (s *PostgresSource) FetchEvents(ctx context.Context, f models.Filter) ([]models.TrackingEvent, error) {
	query, args := buildEventsQuery(f)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.TrackingEvent
	for rows.Next() {
		var e models.TrackingEvent
		var customerID, provider, source, campaign, medium, coupon *string
		if err := rows.Scan(&e.ID, &e.CreatedAt, &customerID, &e.EventType, &provider,
			&source, &campaign, &medium, &coupon); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.CustomerID = deref(customerID)
		e.AuthProvider = deref(provider)
		e.Source, e.Campaign, e.Medium = deref(source), deref(campaign), deref(medium)
		e.CouponCode = deref(coupon)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// FetchVisits returns UTM visits matching f.
func (s *PostgresSource) FetchVisits(ctx context.Context, f models.Filter) ([]models.VisitRecord, error) {
	query, args := buildVisitsQuery(f)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}
	defer rows.Close()

	var visits []models.VisitRecord
	for rows.Next() {
		var v models.VisitRecord
		var source, campaign, medium, coupon *string
		if err := rows.Scan(&v.ID, &v.CreatedAt, &source, &campaign, &medium, &coupon); err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		v.Source, v.Campaign, v.Medium = deref(source), deref(campaign), deref(medium)
		v.CouponCode = deref(coupon)
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read visits: %w", err)
	}
	return visits, nil
}

// FetchOrders returns reportable orders matching f.
func (s *PostgresSource) FetchOrders(ctx context.Context, f models.Filter) ([]models.Order, error) {
	query, args := buildOrdersQuery(f)
	return s.queryOrders(ctx, query, args...)
}

// FetchCoupons returns coupons by code.
func (s *PostgresSource) FetchCoupons(ctx context.Context, codes []string) ([]models.Coupon, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT code, utm_source, utm_campaign, utm_medium, channel,
		       discount_type, discount_value::float8, agency_id::text
		FROM coupons WHERE code = ANY($1)
	`, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to query coupons: %w", err)
	}
	defer rows.Close()

	var coupons []models.Coupon
	for rows.Next() {
		var c models.Coupon
		var source, campaign, medium, channel, discountType, agencyID *string
		if err := rows.Scan(&c.Code, &source, &campaign, &medium, &channel,
			&discountType, &c.DiscountValue, &agencyID); err != nil {
			return nil, fmt.Errorf("failed to scan coupon: %w", err)
		}
		c.Source, c.Campaign, c.Medium = deref(source), deref(campaign), deref(medium)
		c.Channel = deref(channel)
		c.DiscountType = deref(discountType)
		c.AgencyID = deref(agencyID)
		coupons = append(coupons, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read coupons: %w", err)
	}
	return coupons, nil
}

// FetchAgencies returns agencies by ID.
func (s *PostgresSource) FetchAgencies(ctx context.Context, ids []string) ([]models.Agency, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryAgencies(ctx, `
		SELECT id::text, name, is_active FROM agencies WHERE id::text = ANY($1)
	`, ids)
}

// ListActiveAgencies returns active agencies ordered by name.
func (s *PostgresSource) ListActiveAgencies(ctx context.Context) ([]models.Agency, error) {
	return s.queryAgencies(ctx, `
		SELECT id::text, name, is_active FROM agencies WHERE is_active ORDER BY name, id
	`)
}

func (s *PostgresSource) queryAgencies(ctx context.Context, query string, args ...any) ([]models.Agency, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agencies: %w", err)
	}
	defer rows.Close()

	agencies := []models.Agency{}
	for rows.Next() {
		var a models.Agency
		if err := rows.Scan(&a.ID, &a.Name, &a.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan agency: %w", err)
		}
		agencies = append(agencies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read agencies: %w", err)
	}
	return agencies, nil
}

// ListOrders returns one page of orders and the total match count.
func (s *PostgresSource) ListOrders(ctx context.Context, q OrderQuery) ([]models.Order, int, error) {
	if q.Offset < 0 || q.Limit < 0 {
		return nil, 0, ErrInvalidQuery
	}
	pageSQL, countSQL, args := buildOrderListQueries(q)

	var total int
	if err := s.db.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	orders, err := s.queryOrders(ctx, pageSQL, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// GetOrder retrieves an order by ID, or nil if it does not exist.
func (s *PostgresSource) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id::text = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// UpdateOrderStatus moves an order from one status to another. The update
// only applies while the order is still in status from.
func (s *PostgresSource) UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus, history []models.StatusChange) (*models.Order, error) {
	raw, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to encode status history: %w", err)
	}

	o, err := scanOrder(s.db.QueryRow(ctx, `
		UPDATE orders SET status = $3, status_history = $4::jsonb, updated_at = $5
		WHERE id::text = $1 AND status = $2
		RETURNING `+orderColumns,
		id, string(from), string(to), string(raw), time.Now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := s.GetOrder(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, nil
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	return o, nil
}

func (s *PostgresSource) queryOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		o                                  models.Order
		number, email, coupon              *string
		source, campaign, medium, agencyID *string
		status                             string
		history                            []byte
	)
	if err := row.Scan(&o.ID, &number, &email, &o.CreatedAt,
		&o.Subtotal, &o.DiscountAmount, &coupon,
		&source, &campaign, &medium, &agencyID, &status, &history); err != nil {
		return nil, err
	}
	o.OrderNumber = deref(number)
	o.CustomerEmail = deref(email)
	o.CouponCode = deref(coupon)
	o.AttributedSource, o.AttributedCampaign, o.AttributedMedium = deref(source), deref(campaign), deref(medium)
	o.AttributedAgencyID = deref(agencyID)
	o.Status = models.OrderStatus(status)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &o.StatusHistory); err != nil {
			return nil, fmt.Errorf("invalid status history for order %s: %w", o.ID, err)
		}
	}
	return &o, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
