package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/radiusdt/orion-attribution/internal/metrics"
	"github.com/radiusdt/orion-attribution/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedReferenceSource serves coupons and agencies from Redis and falls
// back to the wrapped sources on a miss. Redis errors are logged and treated
// as misses.
type CachedReferenceSource struct {
	client   redis.Cmdable
	coupons  CouponSource
	agencies AgencySource
	ttl      time.Duration
	prefix   string
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewCachedReferenceSource wraps coupons and agencies with a Redis cache.
func NewCachedReferenceSource(client redis.Cmdable, coupons CouponSource, agencies AgencySource, ttl time.Duration, prefix string, m *metrics.Metrics, logger *zap.Logger) *CachedReferenceSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedReferenceSource{
		client:   client,
		coupons:  coupons,
		agencies: agencies,
		ttl:      ttl,
		prefix:   prefix,
		metrics:  m,
		logger:   logger,
	}
}

func (c *CachedReferenceSource) couponKey(code string) string {
	return c.prefix + "coupon:" + code
}

func (c *CachedReferenceSource) agencyKey(id string) string {
	return c.prefix + "agency:" + id
}

// FetchCoupons returns coupons by code.
func (c *CachedReferenceSource) FetchCoupons(ctx context.Context, codes []string) ([]models.Coupon, error) {
	return readThrough(ctx, c, "coupon", codes, c.couponKey,
		func(cp models.Coupon) string { return cp.Code },
		c.coupons.FetchCoupons)
}

// FetchAgencies returns agencies by ID.
func (c *CachedReferenceSource) FetchAgencies(ctx context.Context, ids []string) ([]models.Agency, error) {
	return readThrough(ctx, c, "agency", ids, c.agencyKey,
		func(a models.Agency) string { return a.ID },
		c.agencies.FetchAgencies)
}

// readThrough looks keys up in Redis, loads the misses from the backing
// source and writes them back with the cache TTL.
func readThrough[T any](
	ctx context.Context,
	c *CachedReferenceSource,
	entity string,
	keys []string,
	cacheKey func(string) string,
	keyOf func(T) string,
	load func(context.Context, []string) ([]T, error),
) ([]T, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = cacheKey(k)
	}

	out := make([]T, 0, len(keys))
	missing := keys

	cached, err := c.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		c.logger.Warn("reference cache read failed",
			zap.String("entity", entity),
			zap.Error(err),
		)
		c.metrics.RecordCacheLookup(entity, "error", len(keys))
	} else {
		missing = make([]string, 0, len(keys))
		for i, raw := range cached {
			s, ok := raw.(string)
			if !ok {
				missing = append(missing, keys[i])
				continue
			}
			var v T
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				missing = append(missing, keys[i])
				continue
			}
			out = append(out, v)
		}
		c.metrics.RecordCacheLookup(entity, "hit", len(out))
		c.metrics.RecordCacheLookup(entity, "miss", len(missing))
	}

	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := load(ctx, missing)
	if err != nil {
		return nil, err
	}
	out = append(out, loaded...)

	pipe := c.client.Pipeline()
	for _, v := range loaded {
		data, err := json.Marshal(v)
		if err != nil {
			continue
		}
		pipe.Set(ctx, cacheKey(keyOf(v)), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("reference cache write failed",
			zap.String("entity", entity),
			zap.Error(err),
		)
	}

	return out, nil
}
