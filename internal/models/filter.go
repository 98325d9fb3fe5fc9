package models

import (
	"time"

	"github.com/samber/lo"
)

// Filter is the normalized selection applied to every primary source.
// Zero times leave that side of the window open; empty sets match anything.
type Filter struct {
	From        time.Time
	To          time.Time
	Sources     []string
	Campaigns   []string
	CouponCodes []string
	AgencyIDs   []string
	Channels    []string
}

// InRange reports whether t falls inside the inclusive date window.
func (f Filter) InRange(t time.Time) bool {
	if !f.From.IsZero() && t.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.After(f.To) {
		return false
	}
	return true
}

// allows treats an empty set as "no constraint". An absent value never
// matches a non-empty set.
func allows(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	return v != "" && lo.Contains(set, v)
}

func (f Filter) AllowsChannel(channel string) bool {
	return allows(f.Channels, channel)
}

func (f Filter) MatchesEvent(e TrackingEvent) bool {
	return f.InRange(e.CreatedAt) &&
		allows(f.Sources, e.Source) &&
		allows(f.Campaigns, e.Campaign)
}

func (f Filter) MatchesVisit(v VisitRecord) bool {
	return f.InRange(v.CreatedAt) &&
		allows(f.Sources, v.Source) &&
		allows(f.Campaigns, v.Campaign)
}

// MatchesOrder applies the window, tag and agency constraints and keeps only
// reportable statuses. The channel constraint needs the coupon catalog and is
// applied after the join.
func (f Filter) MatchesOrder(o Order) bool {
	return o.Status.Reportable() &&
		f.InRange(o.CreatedAt) &&
		allows(f.CouponCodes, o.CouponCode) &&
		allows(f.Sources, o.AttributedSource) &&
		allows(f.Campaigns, o.AttributedCampaign) &&
		allows(f.AgencyIDs, o.AttributedAgencyID)
}
