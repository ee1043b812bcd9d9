package internal

import (
	"context"
	"net/http"
)

type ChainScraper interface {
	// Descriptor returns the chain descriptor (e.g. for cache keys and registry lookup).
	Descriptor() string
	// Catalog fetches the chain's selectable options and secondary name list.
	// It returns a well-typed (possibly empty) Catalog rather than failing on
	// per-item upstream breakage; an error means the whole acquisition failed.
	Catalog(ctx context.Context) (Catalog, error)
	// Schedule fetches showings for one movie across the requested theaters.
	// Every requested theater appears in the result, empty when nothing was found.
	Schedule(ctx context.Context, req ScheduleRequest) (Schedule, error)
}

// CacheInvalidator is implemented by scrapers wrapped in caching middleware
// so the display layer can force a refetch on user-requested refresh.
type CacheInvalidator interface {
	InvalidateCache()
}

// GoldenScraper extends ChainScraper with the ability to pull and serve golden test data.
type GoldenScraper interface {
	ChainScraper
	PullGolden(ctx context.Context, goldenDir string) error
	MountGolden(ctx context.Context, goldenDir string) (http.Handler, error)
}
