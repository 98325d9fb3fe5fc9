package attribution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/radiusdt/orion-attribution/internal/models"
	"github.com/samber/lo"
)

const dateLayout = "2006-01-02"

// FilterSet holds the optional allow-lists of a report request.
type FilterSet struct {
	UTMSources   []string `json:"utm_sources,omitempty"`
	UTMCampaigns []string `json:"utm_campaigns,omitempty"`
	CouponCodes  []string `json:"coupon_codes,omitempty"`
	Agencies     []string `json:"agencies,omitempty"`
	Channels     []string `json:"channels,omitempty"`
}

// Request is a report request as received from a client.
type Request struct {
	DateFrom    string     `json:"dateFrom,omitempty"`
	DateTo      string     `json:"dateTo,omitempty"`
	Filters     *FilterSet `json:"filters,omitempty"`
	EventsPage  int        `json:"eventsPage,omitempty"`
	EventsLimit int        `json:"eventsLimit,omitempty"`
	OrdersPage  int        `json:"ordersPage,omitempty"`
	OrdersLimit int        `json:"ordersLimit,omitempty"`
	// FilterKey echoes the key of the previous report. When it no longer
	// matches the request's filters, both cursors restart at page 1.
	FilterKey string `json:"filterKey,omitempty"`
}

// NormalizeFilter turns the request's dates and allow-lists into a filter.
// Calendar dates are read in loc; dateTo covers its whole day.
func NormalizeFilter(req Request, loc *time.Location) (models.Filter, error) {
	if loc == nil {
		loc = time.UTC
	}

	var f models.Filter
	var err error
	if f.From, err = parseBound(req.DateFrom, loc, false); err != nil {
		return models.Filter{}, fmt.Errorf("dateFrom: %w", err)
	}
	if f.To, err = parseBound(req.DateTo, loc, true); err != nil {
		return models.Filter{}, fmt.Errorf("dateTo: %w", err)
	}

	if fs := req.Filters; fs != nil {
		f.Sources = normalizeSet(fs.UTMSources)
		f.Campaigns = normalizeSet(fs.UTMCampaigns)
		f.CouponCodes = normalizeSet(fs.CouponCodes)
		f.AgencyIDs = normalizeSet(fs.Agencies)
		f.Channels = normalizeSet(fs.Channels)
	}
	return f, nil
}

func parseBound(raw string, loc *time.Location, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseInLocation(dateLayout, raw, loc); err == nil {
		if endOfDay {
			return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 999_000_000, loc), nil
		}
		return d, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}

// normalizeSet trims, drops blanks and duplicates, and sorts.
func normalizeSet(values []string) []string {
	out := lo.Uniq(lo.Compact(lo.Map(values, func(v string, _ int) string {
		return strings.TrimSpace(v)
	})))
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// FilterKey fingerprints a normalized filter. Equal filters share a key.
func FilterKey(f models.Filter) string {
	var b strings.Builder
	writeTime := func(t time.Time) {
		if !t.IsZero() {
			b.WriteString(t.UTC().Format(time.RFC3339Nano))
		}
		b.WriteByte('|')
	}
	writeSet := func(name string, set []string) {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strings.Join(set, ","))
		b.WriteByte('|')
	}

	writeTime(f.From)
	writeTime(f.To)
	writeSet("src", f.Sources)
	writeSet("cmp", f.Campaigns)
	writeSet("cpn", f.CouponCodes)
	writeSet("agy", f.AgencyIDs)
	writeSet("chn", f.Channels)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}
