package scraper

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/drewfead/tw-watcher/internal"
)

// Catalogs move on the chains' own release cadence; schedules churn as
// sessions sell out, so they expire faster.
const (
	catalogTTL  = time.Hour
	scheduleTTL = 30 * time.Minute

	maxCachedCatalogs  = 8
	maxCachedSchedules = 128
)

type Middleware = func(internal.ChainScraper) internal.ChainScraper

type cachedScraper struct {
	inner     internal.ChainScraper
	catalogs  *expirable.LRU[uuid.UUID, internal.Catalog]
	schedules *expirable.LRU[uuid.UUID, internal.Schedule]
}

// Cached wraps a scraper with TTL caches for both operations. Expiry is
// lazy, errors are never cached, and InvalidateCache drops everything
// for an immediate re-scrape.
func Cached() Middleware {
	return func(inner internal.ChainScraper) internal.ChainScraper {
		return &cachedScraper{
			inner:     inner,
			catalogs:  expirable.NewLRU[uuid.UUID, internal.Catalog](maxCachedCatalogs, nil, catalogTTL),
			schedules: expirable.NewLRU[uuid.UUID, internal.Schedule](maxCachedSchedules, nil, scheduleTTL),
		}
	}
}

func (c *cachedScraper) Descriptor() string {
	return c.inner.Descriptor()
}

func (c *cachedScraper) Catalog(ctx context.Context) (internal.Catalog, error) {
	key := c.cacheKey("catalog")
	if cached, ok := c.catalogs.Get(key); ok {
		slog.Debug("catalog cache hit", "scraper", c.Descriptor())
		return cached, nil
	}
	catalog, err := c.inner.Catalog(ctx)
	if err != nil {
		return internal.Catalog{}, err
	}
	c.catalogs.Add(key, catalog)
	return catalog, nil
}

func (c *cachedScraper) Schedule(ctx context.Context, req internal.ScheduleRequest) (internal.Schedule, error) {
	key := c.cacheKey(req.CanonicalKey())
	if cached, ok := c.schedules.Get(key); ok {
		slog.Debug("schedule cache hit",
			"scraper", c.Descriptor(),
			"movie", req.MovieKey,
		)
		return cached, nil
	}
	schedule, err := c.inner.Schedule(ctx, req)
	if err != nil {
		return nil, err
	}
	c.schedules.Add(key, schedule)
	return schedule, nil
}

func (c *cachedScraper) InvalidateCache() {
	c.catalogs.Purge()
	c.schedules.Purge()
	if inv, ok := c.inner.(internal.CacheInvalidator); ok {
		inv.InvalidateCache()
	}
}

func (c *cachedScraper) cacheKey(suffix string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(c.Descriptor()+"/"+suffix))
}
