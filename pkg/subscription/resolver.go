package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/tiersync/pkg/cache"
	"github.com/dmitrymomot/tiersync/pkg/logger"
)

const (
	defaultResolverCacheSize = 256
	defaultResolverCacheTTL  = 10 * time.Minute
)

// Resolver maps opaque provider price identifiers to tiers.
// Resolution never fails: a miss or a lookup error yields TierFree and is
// recorded as a resolver miss.
type Resolver struct {
	plans  PlanSource
	cache  *cache.LRU[string, resolvedPrice]
	logger *slog.Logger
	misses atomic.Int64
}

type resolvedPrice struct {
	plan     Plan
	interval BillingInterval
}

// ResolverOption configures a Resolver.
type ResolverOption func(*resolverConfig)

type resolverConfig struct {
	logger    *slog.Logger
	cacheSize int
	cacheTTL  time.Duration
}

// WithResolverLogger sets the logger used for resolver-miss diagnostics.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(c *resolverConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithResolverCache sets the size and entry lifetime of the price cache.
// A size of zero disables caching.
func WithResolverCache(size int, ttl time.Duration) ResolverOption {
	return func(c *resolverConfig) {
		c.cacheSize = size
		c.cacheTTL = ttl
	}
}

// NewResolver creates a Resolver backed by the given plan source.
// Panics if plans is nil.
func NewResolver(plans PlanSource, opts ...ResolverOption) *Resolver {
	if plans == nil {
		panic("subscription: PlanSource is required")
	}
	cfg := &resolverConfig{
		logger:    slog.New(slog.DiscardHandler),
		cacheSize: defaultResolverCacheSize,
		cacheTTL:  defaultResolverCacheTTL,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := &Resolver{
		plans:  plans,
		logger: cfg.logger.With(logger.Component("tier_resolver")),
	}
	if cfg.cacheSize > 0 {
		r.cache = cache.NewLRU[string, resolvedPrice](cfg.cacheSize, cache.WithTTL(cfg.cacheTTL))
	}
	return r
}

// Resolve returns the tier of the plan owning priceID, or TierFree on a miss.
func (r *Resolver) Resolve(ctx context.Context, priceID string) Tier {
	plan, _, err := r.Lookup(ctx, priceID)
	if err != nil {
		r.misses.Add(1)
		r.logger.WarnContext(ctx, "resolver miss, falling back to free tier",
			logger.PriceID(priceID),
			logger.Error(err),
		)
		return TierFree
	}
	return plan.Tier
}

// Lookup returns the plan owning priceID and the interval the price bills at.
// Unlike Resolve it reports misses as ErrPlanNotFound.
func (r *Resolver) Lookup(ctx context.Context, priceID string) (*Plan, BillingInterval, error) {
	if priceID == "" {
		return nil, "", ErrMissingPriceID
	}
	if r.cache != nil {
		if hit, ok := r.cache.Get(priceID); ok {
			plan := clonePlan(hit.plan)
			return &plan, hit.interval, nil
		}
	}

	plan, err := r.plans.FindByPriceID(ctx, priceID)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return nil, "", err
		}
		return nil, "", errors.Join(ErrPlanNotFound, err)
	}
	if plan == nil || !plan.Tier.Valid() {
		return nil, "", ErrPlanNotFound
	}
	interval, ok := plan.IntervalFor(priceID)
	if !ok {
		return nil, "", ErrPlanNotFound
	}

	if r.cache != nil {
		r.cache.Put(priceID, resolvedPrice{plan: clonePlan(*plan), interval: interval})
	}
	return plan, interval, nil
}

// Misses returns the number of resolver misses since creation.
func (r *Resolver) Misses() int64 {
	return r.misses.Load()
}

// Invalidate drops cached price mappings, e.g. after plan reference data changed.
func (r *Resolver) Invalidate() {
	if r.cache != nil {
		r.cache.Clear()
	}
}
