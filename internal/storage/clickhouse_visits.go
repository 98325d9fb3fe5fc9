package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/radiusdt/orion-attribution/internal/models"
)

// ClickHouseVisitSource reads the UTM visit log from ClickHouse through
// database/sql.
type ClickHouseVisitSource struct {
	db    *sql.DB
	table string
}

// NewClickHouseVisitSource creates a visit source over the utm_visits table.
func NewClickHouseVisitSource(db *sql.DB) *ClickHouseVisitSource {
	return &ClickHouseVisitSource{db: db, table: "utm_visits"}
}

func buildClickHouseVisitsQuery(table string, f models.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if !f.From.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.To)
	}
	if len(f.Sources) > 0 {
		clauses = append(clauses, "has(?, utm_source)")
		args = append(args, f.Sources)
	}
	if len(f.Campaigns) > 0 {
		clauses = append(clauses, "has(?, utm_campaign)")
		args = append(args, f.Campaigns)
	}

	query := "SELECT toString(id), created_at, utm_source, utm_campaign, utm_medium, coupon_code FROM " + table
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	return query + " ORDER BY created_at DESC", args
}

// FetchVisits returns visits matching f.
func (s *ClickHouseVisitSource) FetchVisits(ctx context.Context, f models.Filter) ([]models.VisitRecord, error) {
	query, args := buildClickHouseVisitsQuery(s.table, f)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	defer rows.Close()

	var visits []models.VisitRecord
	for rows.Next() {
		var (
			v                                models.VisitRecord
			source, campaign, medium, coupon sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.CreatedAt, &source, &campaign, &medium, &coupon); err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		v.Source, v.Campaign, v.Medium = source.String, campaign.String, medium.String
		v.CouponCode = coupon.String
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read visits: %w", err)
	}
	return visits, nil
}
