// Package enrichment decorates scraped movie titles with metadata from
// TMDB. Enrichment is strictly additive: any lookup failure degrades to
// the bare title, never to an error surfaced to the caller.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tmdb "github.com/cyruzin/golang-tmdb"

	"github.com/drewfead/tw-watcher/internal/config"
	"github.com/drewfead/tw-watcher/internal/httputil"
)

var ErrNoAPIKey = errors.New("no tmdb api key configured")

const posterBaseURL = "https://image.tmdb.org/t/p/w342"

// MovieDetails is the slice of TMDB data worth showing next to a
// showtime listing.
type MovieDetails struct {
	Title         string
	OriginalTitle string
	Overview      string
	ReleaseDate   string
	Rating        float32
	PosterURL     string
}

type Enricher interface {
	// Enrich looks a title up; ok is false when nothing usable matched.
	Enrich(ctx context.Context, title string) (MovieDetails, bool)
}

type TMDBEnricher struct {
	client *tmdb.Client
}

// NewTMDB builds an enricher backed by TMDB's search API. Lookups go
// through an in-process response cache since titles repeat across
// catalog refreshes.
func NewTMDB(cfg config.Config) (*TMDBEnricher, error) {
	if cfg.TMDBAPIKey == "" {
		return nil, ErrNoAPIKey
	}
	client, err := tmdb.Init(cfg.TMDBAPIKey)
	if err != nil {
		return nil, fmt.Errorf("init tmdb client: %w", err)
	}
	transport, err := httputil.NewCachingTransport(nil, 256)
	if err != nil {
		return nil, fmt.Errorf("init tmdb cache: %w", err)
	}
	client.SetClientConfig(http.Client{
		Timeout:   10 * time.Second,
		Transport: transport,
	})
	return &TMDBEnricher{client: client}, nil
}

func (e *TMDBEnricher) Enrich(ctx context.Context, title string) (MovieDetails, bool) {
	search, err := e.client.GetSearchMovies(title, map[string]string{
		"language": "zh-TW",
		"region":   "TW",
	})
	if err != nil {
		slog.Debug("tmdb search failed", "title", title, "error", err)
		return MovieDetails{}, false
	}
	if ctx.Err() != nil || len(search.Results) == 0 {
		return MovieDetails{}, false
	}
	top := search.Results[0]
	details := MovieDetails{
		Title:         top.Title,
		OriginalTitle: top.OriginalTitle,
		Overview:      top.Overview,
		ReleaseDate:   top.ReleaseDate,
		Rating:        top.VoteAverage,
	}
	if top.PosterPath != "" {
		details.PosterURL = posterBaseURL + top.PosterPath
	}
	return details, true
}
