package scraper

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/drewfead/tw-watcher/internal"
	"github.com/drewfead/tw-watcher/internal/dates"
)

// taipeiZone is fixed rather than loaded from the tz database; Taiwan
// has no daylight saving and cloud images may ship without zoneinfo.
var taipeiZone = time.FixedZone("Asia/Taipei", 8*60*60)

// ProcessEvents turns raw API events into a per-theater schedule. Venue
// ids resolve through venues, falling back to a placeholder name when
// the venue lookup came back incomplete. When theaters is non-empty it
// acts as a filter: events at unmatched venues are dropped, matched
// venues are reported under the requested display name, and requested
// theaters with no events still appear with an empty day list.
func ProcessEvents(events []internal.RawEvent, venues map[string]internal.VenueInfo, theaters map[string]string) internal.Schedule {
	type daySessions map[string][]string
	perTheater := map[string]daySessions{}

	for _, ev := range events {
		venueName := venueDisplayName(ev.VenueID, venues)
		theaterName := venueName
		if len(theaters) > 0 {
			matched, ok := matchTheater(venueName, theaters)
			if !ok {
				continue
			}
			theaterName = matched
		}

		started, err := time.Parse(time.RFC3339, ev.StartedAt)
		if err != nil {
			slog.Warn("skipping event with unparseable start time",
				"startedAt", ev.StartedAt,
				"venue", venueName,
			)
			continue
		}
		local := started.In(taipeiZone)
		label := dates.FormatDateWithWeekday(local)
		entry := local.Format("15:04")
		if ev.Format != "" {
			entry = fmt.Sprintf("%s [%s]", entry, ev.Format)
		}

		if perTheater[theaterName] == nil {
			perTheater[theaterName] = daySessions{}
		}
		perTheater[theaterName][label] = append(perTheater[theaterName][label], entry)
	}

	out := internal.Schedule{}
	for name := range theaters {
		out[name] = []internal.DaySchedule{}
	}
	for theater, byDay := range perTheater {
		labels := make([]string, 0, len(byDay))
		for label := range byDay {
			labels = append(labels, label)
		}
		sortDayLabels(labels)

		days := make([]internal.DaySchedule, 0, len(labels))
		for _, label := range labels {
			days = append(days, internal.DaySchedule{
				Label: label,
				Times: sortedUniqueTimes(byDay[label]),
			})
		}
		out[theater] = days
	}
	return out
}

func venueDisplayName(venueID string, venues map[string]internal.VenueInfo) string {
	if info, ok := venues[venueID]; ok && info.Name != "" {
		return info.Name
	}
	return fmt.Sprintf("未知影城(%s)", venueID)
}

// matchTheater resolves a venue name against the requested theaters by
// substring in either direction; API venue names and the site's display
// names abbreviate each other inconsistently. Candidates are checked in
// sorted order so the result is stable.
func matchTheater(venueName string, theaters map[string]string) (string, bool) {
	names := make([]string, 0, len(theaters))
	for name := range theaters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.Contains(venueName, name) || strings.Contains(name, venueName) {
			return name, true
		}
	}
	return "", false
}

// sortDayLabels orders labels by their calendar date, with unparseable
// labels after all parseable ones in their original order.
func sortDayLabels(labels []string) {
	sort.SliceStable(labels, func(i, j int) bool {
		di, iOK := dates.ParseDateFromString(labels[i])
		dj, jOK := dates.ParseDateFromString(labels[j])
		if iOK && jOK {
			return di.Before(dj)
		}
		return iOK && !jOK
	})
}

func sortedUniqueTimes(times []string) []string {
	seen := make(map[string]struct{}, len(times))
	out := make([]string, 0, len(times))
	for _, t := range times {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
