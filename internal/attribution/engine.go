package attribution

import (
	"context"
	"errors"
	"time"

	"github.com/radiusdt/orion-attribution/internal/config"
	"github.com/radiusdt/orion-attribution/internal/metrics"
	"github.com/radiusdt/orion-attribution/internal/models"
	"github.com/radiusdt/orion-attribution/internal/storage"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine builds attribution reports from the configured sources.
type Engine struct {
	sources storage.Sources
	limits  config.ReportConfig
	loc     *time.Location
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewEngine creates a report engine. An unknown timezone falls back to UTC.
func NewEngine(sources storage.Sources, limits config.ReportConfig, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := limits.Location()
	if err != nil {
		logger.Warn("unknown report timezone, using UTC", zap.String("timezone", limits.Timezone), zap.Error(err))
		loc = time.UTC
	}
	if limits.DefaultLimit <= 0 {
		limits.DefaultLimit = 50
	}
	return &Engine{
		sources: sources,
		limits:  limits,
		loc:     loc,
		metrics: m,
		logger:  logger,
	}
}

// Build fetches, joins and aggregates one report. It fails only when the
// request is invalid or a primary source is unavailable.
func (e *Engine) Build(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	report, err := e.build(ctx, req)

	status := "ok"
	switch {
	case errors.Is(err, ErrInvalidDate):
		status = "invalid"
	case err != nil:
		status = "unavailable"
	}
	e.metrics.RecordReport(status, time.Since(start))

	return report, err
}

func (e *Engine) build(ctx context.Context, req Request) (*Report, error) {
	f, err := NormalizeFilter(req, e.loc)
	if err != nil {
		return nil, err
	}

	data, err := e.fetchPrimary(ctx, f)
	if err != nil {
		return nil, err
	}

	data.Joins = e.resolveJoins(ctx, data)
	if len(f.Channels) > 0 {
		if data.Joins.CouponsDegraded() {
			e.metrics.RecordDegradedFilter("channel")
			e.logger.Warn("coupon catalog unavailable, channel filter excludes every order",
				zap.Strings("channels", f.Channels),
			)
		}
		data.Orders = lo.Filter(data.Orders, func(o models.Order, _ int) bool {
			return f.AllowsChannel(data.Joins.Channel(o.CouponCode))
		})
	}

	report := Assemble(f, req, e.limits, data, e.metrics.RecordMalformedNumeric)

	e.logger.Debug("report built",
		zap.String("filter_key", report.FilterKey),
		zap.Int("events", len(data.Events)),
		zap.Int("visits", len(data.Visits)),
		zap.Int("orders", len(data.Orders)),
	)
	return report, nil
}

// fetchPrimary reads events, visits and orders concurrently. The first
// failure cancels the others and fails the report.
func (e *Engine) fetchPrimary(ctx context.Context, f models.Filter) (Dataset, error) {
	var data Dataset
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		events, err := fetch(gctx, e, "events", func(ctx context.Context) ([]models.TrackingEvent, error) {
			return e.sources.Events.FetchEvents(ctx, f)
		})
		if err != nil {
			return &SourceError{Source: "events", Err: err}
		}
		data.Events = lo.Filter(events, func(ev models.TrackingEvent, _ int) bool { return f.MatchesEvent(ev) })
		return nil
	})

	g.Go(func() error {
		visits, err := fetch(gctx, e, "visits", func(ctx context.Context) ([]models.VisitRecord, error) {
			return e.sources.Visits.FetchVisits(ctx, f)
		})
		if err != nil {
			return &SourceError{Source: "visits", Err: err}
		}
		data.Visits = lo.Filter(visits, func(v models.VisitRecord, _ int) bool { return f.MatchesVisit(v) })
		return nil
	})

	g.Go(func() error {
		orders, err := fetch(gctx, e, "orders", func(ctx context.Context) ([]models.Order, error) {
			return e.sources.Orders.FetchOrders(ctx, f)
		})
		if err != nil {
			return &SourceError{Source: "orders", Err: err}
		}
		data.Orders = lo.Filter(orders, func(o models.Order, _ int) bool { return f.MatchesOrder(o) })
		return nil
	})

	if err := g.Wait(); err != nil {
		e.logger.Error("primary source unavailable", zap.Error(err))
		return Dataset{}, err
	}
	return data, nil
}

// resolveJoins reads the coupons and agencies referenced by the dataset.
// Failures leave the affected join empty instead of failing the report.
func (e *Engine) resolveJoins(ctx context.Context, data Dataset) *Joins {
	codes := referencedCodes(data.Events, data.Visits, data.Orders)
	attributed := orderAgencyIDs(data.Orders)

	var (
		coupons   []models.Coupon
		agencies  []models.Agency
		couponErr error
		agencyErr error
	)

	var g errgroup.Group
	if len(codes) > 0 && e.sources.Coupons != nil {
		g.Go(func() error {
			coupons, couponErr = fetch(ctx, e, "coupons", func(ctx context.Context) ([]models.Coupon, error) {
				return e.sources.Coupons.FetchCoupons(ctx, codes)
			})
			return nil
		})
	}
	if len(attributed) > 0 && e.sources.Agencies != nil {
		g.Go(func() error {
			agencies, agencyErr = fetch(ctx, e, "agencies", func(ctx context.Context) ([]models.Agency, error) {
				return e.sources.Agencies.FetchAgencies(ctx, attributed)
			})
			return nil
		})
	}
	_ = g.Wait()

	if extra := couponAgencyIDs(coupons, attributed); len(extra) > 0 && agencyErr == nil && e.sources.Agencies != nil {
		more, err := fetch(ctx, e, "agencies", func(ctx context.Context) ([]models.Agency, error) {
			return e.sources.Agencies.FetchAgencies(ctx, extra)
		})
		if err != nil {
			agencyErr = err
		} else {
			agencies = append(agencies, more...)
		}
	}

	if couponErr != nil {
		e.degrade("coupons", couponErr)
		coupons = nil
	}
	if agencyErr != nil {
		e.degrade("agencies", agencyErr)
		agencies = nil
	}

	j := NewJoins(coupons, agencies)
	j.couponsDegraded = couponErr != nil
	return j
}

func (e *Engine) degrade(source string, err error) {
	e.metrics.RecordDegradedJoin(source)
	e.logger.Warn("reference source unavailable, continuing without join",
		zap.String("source", source),
		zap.Error(err),
	)
}

// fetch runs one source read under the configured timeout and records it.
func fetch[T any](ctx context.Context, e *Engine, source string, read func(context.Context) ([]T, error)) ([]T, error) {
	if e.limits.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.limits.FetchTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := read(ctx)
	e.metrics.RecordSourceFetch(source, time.Since(start), err)
	return out, err
}
