package attribution

// derive computes the reported metrics for one tally.
func derive(t *tally) Bucket {
	return Bucket{
		Visits:         t.visits,
		Signups:        t.signups,
		Logins:         t.logins,
		Total:          t.signups + t.logins,
		Orders:         t.orders,
		Revenue:        t.revenue.InexactFloat64(),
		Discount:       t.discount.InexactFloat64(),
		NetRevenue:     t.revenue.Sub(t.discount).InexactFloat64(),
		ConversionRate: percent(t.orders, t.visits),
		AvgDiscount:    ratio(t.discount, t.orders),
		AvgOrderValue:  ratio(t.revenue, t.orders),
	}
}

func deriveAll(m tallies) map[string]Bucket {
	out := make(map[string]Bucket, len(m))
	for k, t := range m {
		out[k] = derive(t)
	}
	return out
}
