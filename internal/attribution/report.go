package attribution

import (
	"sort"
	"time"

	"github.com/radiusdt/orion-attribution/internal/config"
	"github.com/radiusdt/orion-attribution/internal/models"
)

// OrderSummary is the row shown in the recent orders window.
type OrderSummary struct {
	ID                 string             `json:"id"`
	OrderNumber        string             `json:"order_number"`
	CustomerEmail      string             `json:"customer_email"`
	CreatedAt          time.Time          `json:"created_at"`
	Status             models.OrderStatus `json:"status"`
	Subtotal           float64            `json:"subtotal"`
	DiscountAmount     float64            `json:"discount_amount"`
	CouponCode         *string            `json:"coupon_code"`
	AttributedSource   *string            `json:"attributed_utm_source"`
	AttributedCampaign *string            `json:"attributed_utm_campaign"`
	AgencyName         *string            `json:"agency_name"`
}

// Report is the full attribution report.
type Report struct {
	Summary
	Breakdowns

	RecentEvents     []models.TrackingEvent `json:"recentEvents"`
	EventsPage       int                    `json:"eventsPage"`
	EventsLimit      int                    `json:"eventsLimit"`
	EventsTotalPages int                    `json:"eventsTotalPages"`
	TotalEventsCount int                    `json:"totalEventsCount"`

	RecentOrders     []OrderSummary `json:"recentOrders"`
	OrdersPage       int            `json:"ordersPage"`
	OrdersLimit      int            `json:"ordersLimit"`
	OrdersTotalPages int            `json:"ordersTotalPages"`
	TotalOrdersCount int            `json:"totalOrdersCount"`

	FilterKey string `json:"filterKey"`
}

// Dataset is the filtered input of one report.
type Dataset struct {
	Events []models.TrackingEvent
	Visits []models.VisitRecord
	Orders []models.Order
	Joins  *Joins
}

// Assemble builds a report from already filtered records. It does not
// modify the dataset.
func Assemble(f models.Filter, req Request, limits config.ReportConfig, data Dataset, onMalformed MalformedFunc) *Report {
	events := sortedEvents(data.Events)
	orders := sortedOrders(data.Orders)

	acc := NewAccumulator(data.Joins, onMalformed)
	for _, v := range data.Visits {
		acc.AddVisit(v)
	}
	for _, e := range events {
		acc.AddEvent(e)
	}
	for _, o := range orders {
		acc.AddOrder(o)
	}

	key := FilterKey(f)
	evCur := clampCursor(req.EventsPage, req.EventsLimit, limits.DefaultLimit, limits.MaxLimit)
	orCur := clampCursor(req.OrdersPage, req.OrdersLimit, limits.DefaultLimit, limits.MaxLimit)
	if req.FilterKey != "" && req.FilterKey != key {
		evCur.Page, orCur.Page = 1, 1
	}

	recentEvents := window(events, evCur)
	for i := range recentEvents {
		recentEvents[i].AuthProvider = recentEvents[i].Provider()
	}

	orderPage := window(orders, orCur)
	recentOrders := make([]OrderSummary, 0, len(orderPage))
	for _, o := range orderPage {
		recentOrders = append(recentOrders, summarizeOrder(o, acc.joins))
	}

	return &Report{
		Summary:    acc.Summary(),
		Breakdowns: acc.Breakdowns(),

		RecentEvents:     recentEvents,
		EventsPage:       evCur.Page,
		EventsLimit:      evCur.Limit,
		EventsTotalPages: totalPages(len(events), evCur.Limit),
		TotalEventsCount: len(events),

		RecentOrders:     recentOrders,
		OrdersPage:       orCur.Page,
		OrdersLimit:      orCur.Limit,
		OrdersTotalPages: totalPages(len(orders), orCur.Limit),
		TotalOrdersCount: len(orders),

		FilterKey: key,
	}
}

func summarizeOrder(o models.Order, joins *Joins) OrderSummary {
	s := OrderSummary{
		ID:                 o.ID,
		OrderNumber:        o.OrderNumber,
		CustomerEmail:      o.CustomerEmail,
		CreatedAt:          o.CreatedAt,
		Status:             o.Status,
		Subtotal:           parseMoney(o.Subtotal, "", "", nil).InexactFloat64(),
		DiscountAmount:     parseMoney(o.DiscountAmount, "", "", nil).InexactFloat64(),
		CouponCode:         optional(o.CouponCode),
		AttributedSource:   optional(o.AttributedSource),
		AttributedCampaign: optional(o.AttributedCampaign),
	}
	if _, name, ok := joins.OrderAgency(o); ok {
		s.AgencyName = optional(name)
	}
	return s
}

// sortedEvents returns a copy of events, newest first.
func sortedEvents(in []models.TrackingEvent) []models.TrackingEvent {
	out := make([]models.TrackingEvent, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return rank{at: out[i].CreatedAt, id: out[i].ID}.beats(rank{at: out[j].CreatedAt, id: out[j].ID})
	})
	return out
}

// sortedOrders returns a copy of orders, newest first.
func sortedOrders(in []models.Order) []models.Order {
	out := make([]models.Order, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return rank{at: out[i].CreatedAt, id: out[i].ID}.beats(rank{at: out[j].CreatedAt, id: out[j].ID})
	})
	return out
}
