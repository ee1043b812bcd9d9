// Package dates converts between calendar dates and the localized
// 月/日(weekday) labels both upstream sites display, and filters schedule
// entries by date. Upstream labels carry no year, so parsing infers one
// from the current month; see ParseDateFromString.
package dates

import (
	"regexp"
	"strconv"
	"time"

	"github.com/drewfead/tw-watcher/internal"
)

// weekdayNames are the Taiwanese single-character weekday labels indexed
// Monday=0 through Sunday=6.
var weekdayNames = [7]string{"一", "二", "三", "四", "五", "六", "日"}

var dateLabelPat = regexp.MustCompile(`(\d{1,2})月(\d{1,2})日`)

// FormatDateWithWeekday renders d as "{month}月{day}日({weekday})" with no
// zero padding, e.g. "2月6日(五)".
func FormatDateWithWeekday(d time.Time) string {
	wd := (int(d.Weekday()) + 6) % 7 // time.Weekday is Sunday=0
	return strconv.Itoa(int(d.Month())) + "月" + strconv.Itoa(d.Day()) + "日(" + weekdayNames[wd] + ")"
}

// ParseDateFromString extracts the first 月/日 pattern from s, ignoring
// surrounding text, and returns it as a calendar date. The label carries
// no year: if the extracted month is at or past the current month the
// current year is assumed, otherwise the next year (schedules listed in
// December run into January). The second return is false when no pattern
// matches or the month/day is not a valid calendar date.
//
// The year inference anchors to "now", so the result is not stable across
// a year boundary; callers must not cache it over long spans.
func ParseDateFromString(s string) (time.Time, bool) {
	return parseDateAt(s, time.Now())
}

func parseDateAt(s string, now time.Time) (time.Time, bool) {
	m := dateLabelPat.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return time.Time{}, false
	}
	year := now.Year()
	if month < int(now.Month()) {
		year++
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (Feb 30 → Mar 2); reject such labels.
	if int(d.Month()) != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

// FilterMode selects how FilterByDate narrows a schedule.
type FilterMode string

const (
	FilterAll    FilterMode = "all"
	FilterSingle FilterMode = "single"
	FilterRange  FilterMode = "range"
)

// Filter is a date constraint applied to schedule views. Target is used in
// single mode; Start/End (inclusive) in range mode.
type Filter struct {
	Mode   FilterMode
	Target time.Time
	Start  time.Time
	End    time.Time
}

// FilterByDate keeps the days whose parsed date satisfies f. Days whose
// label fails to parse are kept unconditionally in every mode: when the
// upstream format drifts, showing an unfiltered day beats silently hiding
// it. FilterAll returns the input unchanged.
func FilterByDate(days []internal.DaySchedule, f Filter) []internal.DaySchedule {
	return filterByDateAt(days, f, time.Now())
}

func filterByDateAt(days []internal.DaySchedule, f Filter, now time.Time) []internal.DaySchedule {
	if f.Mode == FilterAll || f.Mode == "" {
		return days
	}
	var kept []internal.DaySchedule
	for _, day := range days {
		parsed, ok := parseDateAt(day.Label, now)
		if !ok {
			kept = append(kept, day)
			continue
		}
		switch f.Mode {
		case FilterSingle:
			if sameDate(parsed, f.Target) {
				kept = append(kept, day)
			}
		case FilterRange:
			if !beforeDate(parsed, f.Start) && !beforeDate(f.End, parsed) {
				kept = append(kept, day)
			}
		}
	}
	return kept
}

// FilterSchedule applies FilterByDate to every theater in the schedule.
// It builds a fresh map so cached schedules are never mutated.
func FilterSchedule(schedule internal.Schedule, f Filter) internal.Schedule {
	out := make(internal.Schedule, len(schedule))
	for theater, days := range schedule {
		out[theater] = FilterByDate(days, f)
	}
	return out
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

func beforeDate(a, b time.Time) bool {
	if a.Year() != b.Year() {
		return a.Year() < b.Year()
	}
	if a.Month() != b.Month() {
		return a.Month() < b.Month()
	}
	return a.Day() < b.Day()
}
