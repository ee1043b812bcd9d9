package internal

import (
	"fmt"
	"slices"
	"strings"
)

// Catalog is the result of a catalog query against one theater chain.
// Options maps display names to the opaque identifiers the upstream site
// uses to select them: theater name → theater code for the DOM chain,
// movie title → program ID for the hybrid chain. Names is the secondary
// list the same query yields (movie titles for the DOM chain, theater
// names for the hybrid chain), in first-appearance order.
type Catalog struct {
	Options map[string]string `json:"options"`
	Names   []string          `json:"names"`
}

// ScheduleRequest identifies one schedule query. MovieKey is whatever the
// chain keys movies by: the exact title for the DOM chain, the upstream
// program ID for the hybrid chain. Theaters maps the user's selected
// theater names to their upstream codes; chains that look theaters up by
// name ignore the values.
type ScheduleRequest struct {
	MovieKey string            `json:"movie_key"`
	Theaters map[string]string `json:"theaters"`
}

// CanonicalKey serializes the request into a stable string so equivalent
// requests (same movie, same theater set, any map order) cache identically.
func (r ScheduleRequest) CanonicalKey() string {
	pairs := make([]string, 0, len(r.Theaters))
	for name, code := range r.Theaters {
		pairs = append(pairs, name+"="+code)
	}
	slices.Sort(pairs)
	return fmt.Sprintf("%s|%s", r.MovieKey, strings.Join(pairs, ";"))
}

// DaySchedule is one date's showings: the localized date label exactly as
// displayed (e.g. "2月6日(五)") and the sorted, deduplicated time strings,
// each optionally suffixed with a format tag ("19:30 [IMAX]").
type DaySchedule struct {
	Label string   `json:"label"`
	Times []string `json:"times"`
}

// Schedule maps a theater display name (as matched to the user's
// selection) to its showings ordered by parsed date ascending, with
// unparseable labels last. A theater the query covered but that has no
// showings appears with an empty slice rather than being omitted.
type Schedule map[string][]DaySchedule

// RawEvent is one scheduled screening as returned by the hybrid chain's
// API. It only lives for the duration of a single acquisition call.
type RawEvent struct {
	VenueID   string `json:"venueId"`
	StartedAt string `json:"startedAt"` // ISO-8601, UTC
	Format    string `json:"format"`    // e.g. "3D", "IMAX"; empty for standard
	MovieID   string `json:"movieId"`
}

// VenueInfo is assembled per acquisition call from one or more partial
// sources (API calls, in-page capture, script injection), merged by venue
// ID with later sources filling gaps left by earlier ones.
type VenueInfo struct {
	Name string `json:"name"`
	Room string `json:"room"`
}
