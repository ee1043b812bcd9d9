// Package services exposes the application-level operations the front
// ends call: catalog and schedule lookups by chain, date-filtered views,
// and cache refresh.
package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/drewfead/tw-watcher/internal"
	"github.com/drewfead/tw-watcher/internal/config"
	"github.com/drewfead/tw-watcher/internal/dates"
	"github.com/drewfead/tw-watcher/internal/enrichment"
	"github.com/drewfead/tw-watcher/internal/scraper"
)

type Showtimes struct {
	registry *scraper.Registry
	enricher enrichment.Enricher
}

// NewShowtimes wires the chain scrapers behind their caching layer and,
// when an API key is configured, the TMDB enricher.
func NewShowtimes(cfg config.Config) *Showtimes {
	s := &Showtimes{
		registry: scraper.NewRegistry(cfg, scraper.Cached()),
	}
	enricher, err := enrichment.NewTMDB(cfg)
	switch {
	case err == nil:
		s.enricher = enricher
	case errors.Is(err, enrichment.ErrNoAPIKey):
		slog.Debug("movie enrichment disabled")
	default:
		slog.Warn("movie enrichment unavailable", "error", err)
	}
	return s
}

// Chains lists the available chain descriptors.
func (s *Showtimes) Chains() []string {
	return s.registry.Descriptors()
}

func (s *Showtimes) GetCatalog(ctx context.Context, chain string) (internal.Catalog, error) {
	sc, err := s.registry.Get(chain)
	if err != nil {
		return internal.Catalog{}, err
	}
	return sc.Catalog(ctx)
}

// GetCatalogDetails fetches a catalog and enriches the movie titles it
// names. The details map is empty when enrichment is off.
func (s *Showtimes) GetCatalogDetails(ctx context.Context, chain string) (internal.Catalog, map[string]enrichment.MovieDetails, error) {
	catalog, err := s.GetCatalog(ctx, chain)
	if err != nil {
		return internal.Catalog{}, nil, err
	}
	titles := catalog.Names
	if chain == scraper.DescriptorShowtime {
		// For this chain the movie titles are the option keys.
		titles = make([]string, 0, len(catalog.Options))
		for name := range catalog.Options {
			titles = append(titles, name)
		}
	}
	return catalog, enrichment.EnrichAll(ctx, s.enricher, titles), nil
}

func (s *Showtimes) GetSchedule(ctx context.Context, chain string, req internal.ScheduleRequest) (internal.Schedule, error) {
	sc, err := s.registry.Get(chain)
	if err != nil {
		return nil, err
	}
	return sc.Schedule(ctx, req)
}

// GetFilteredSchedule fetches a schedule and applies a date filter to
// it. The filter runs on the way out of the cache, so the cached entry
// keeps every date and different filters reuse one scrape.
func (s *Showtimes) GetFilteredSchedule(ctx context.Context, chain string, req internal.ScheduleRequest, filter dates.Filter) (internal.Schedule, error) {
	schedule, err := s.GetSchedule(ctx, chain, req)
	if err != nil {
		return nil, err
	}
	return dates.FilterSchedule(schedule, filter), nil
}

// Refresh drops the chain's cached data so the next lookup re-scrapes.
func (s *Showtimes) Refresh(chain string) error {
	return s.registry.Invalidate(chain)
}
