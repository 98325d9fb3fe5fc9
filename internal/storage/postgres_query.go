package storage

import (
	"fmt"
	"strings"

	"github.com/radiusdt/orion-attribution/internal/models"
)

// whereBuilder accumulates positional predicates for a PostgreSQL query.
type whereBuilder struct {
	clauses []string
	args    []any
}

// add appends a predicate. expr contains a single %d for the placeholder.
func (w *whereBuilder) add(expr string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(expr, len(w.args)))
}

func (w *whereBuilder) addSet(column string, values []string) {
	if len(values) > 0 {
		w.add(column+" = ANY($%d)", values)
	}
}

func (w *whereBuilder) addRange(column string, f models.Filter) {
	if !f.From.IsZero() {
		w.add(column+" >= $%d", f.From)
	}
	if !f.To.IsZero() {
		w.add(column+" <= $%d", f.To)
	}
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

const eventColumns = `id::text, created_at, customer_id::text, event_type, auth_provider,
	utm_source, utm_campaign, utm_medium, coupon_code`

func buildEventsQuery(f models.Filter) (string, []any) {
	var w whereBuilder
	w.addRange("created_at", f)
	w.addSet("utm_source", f.Sources)
	w.addSet("utm_campaign", f.Campaigns)
	return "SELECT " + eventColumns + " FROM referral_tracking" + w.String() +
		" ORDER BY created_at DESC, id DESC", w.args
}

func buildVisitsQuery(f models.Filter) (string, []any) {
	var w whereBuilder
	w.addRange("created_at", f)
	w.addSet("utm_source", f.Sources)
	w.addSet("utm_campaign", f.Campaigns)
	return "SELECT id::text, created_at, utm_source, utm_campaign, utm_medium, coupon_code FROM utm_visits" +
		w.String() + " ORDER BY created_at DESC", w.args
}

const orderColumns = `id::text, order_number, customer_email, created_at,
	subtotal::text, discount_amount::text, coupon_code,
	attributed_utm_source, attributed_utm_campaign, attributed_utm_medium,
	attributed_agency_id::text, status, status_history`

func reportableStatusNames() []string {
	statuses := models.ReportableStatuses()
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func buildOrdersQuery(f models.Filter) (string, []any) {
	var w whereBuilder
	w.add("status = ANY($%d)", reportableStatusNames())
	w.addRange("created_at", f)
	w.addSet("coupon_code", f.CouponCodes)
	w.addSet("attributed_utm_source", f.Sources)
	w.addSet("attributed_utm_campaign", f.Campaigns)
	w.addSet("attributed_agency_id::text", f.AgencyIDs)
	return "SELECT " + orderColumns + " FROM orders" + w.String() +
		" ORDER BY created_at DESC, id DESC", w.args
}

// buildOrderListQueries returns the page query and the count query for the
// admin order list. The page query takes two extra trailing arguments for
// LIMIT and OFFSET.
func buildOrderListQueries(q OrderQuery) (page string, count string, args []any) {
	var w whereBuilder
	if q.Status != "" {
		w.add("status = $%d", string(q.Status))
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		w.add("(order_number ILIKE $%[1]d OR customer_email ILIKE $%[1]d)", "%"+escapeLike(s)+"%")
	}
	n := len(w.args)
	page = fmt.Sprintf("SELECT %s FROM orders%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		orderColumns, w.String(), n+1, n+2)
	count = "SELECT count(*) FROM orders" + w.String()
	return page, count, w.args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
