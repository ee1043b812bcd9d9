package dates

import (
	"testing"
	"time"

	"github.com/drewfead/tw-watcher/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnit_FormatDateWithWeekday(t *testing.T) {
	tests := []struct {
		name     string
		date     time.Time
		expected string
	}{
		{"saturday", time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC), "2月7日(六)"},
		{"monday", time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC), "2月9日(一)"},
		{"sunday", time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC), "2月8日(日)"},
		{"single digit month and day", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), "1月5日(一)"},
		{"double digit month and day", time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC), "12月25日(五)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDateWithWeekday(tt.date))
		})
	}
}

func TestUnit_ParseDateFromString(t *testing.T) {
	anchor := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	t.Run("basic format", func(t *testing.T) {
		got, ok := parseDateAt("2月6日(五)", anchor)
		require.True(t, ok)
		assert.Equal(t, time.February, got.Month())
		assert.Equal(t, 6, got.Day())
	})

	t.Run("zero padded", func(t *testing.T) {
		got, ok := parseDateAt("02月06日(四)", anchor)
		require.True(t, ok)
		assert.Equal(t, time.February, got.Month())
		assert.Equal(t, 6, got.Day())
	})

	t.Run("surrounding text ignored", func(t *testing.T) {
		got, ok := parseDateAt("場次 3月15日(日) 今日", anchor)
		require.True(t, ok)
		assert.Equal(t, time.March, got.Month())
		assert.Equal(t, 15, got.Day())
	})

	t.Run("no pattern", func(t *testing.T) {
		_, ok := parseDateAt("invalid", anchor)
		assert.False(t, ok)
	})

	t.Run("empty string", func(t *testing.T) {
		_, ok := parseDateAt("", anchor)
		assert.False(t, ok)
	})

	t.Run("invalid calendar date", func(t *testing.T) {
		_, ok := parseDateAt("2月30日(一)", anchor)
		assert.False(t, ok)
	})

	t.Run("month at current month stays in current year", func(t *testing.T) {
		got, ok := parseDateAt("1月20日(二)", anchor)
		require.True(t, ok)
		assert.Equal(t, 2026, got.Year())
	})

	t.Run("earlier month rolls to next year", func(t *testing.T) {
		december := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
		got, ok := parseDateAt("1月5日(一)", december)
		require.True(t, ok)
		assert.Equal(t, 2027, got.Year())
	})

	t.Run("later month stays in current year", func(t *testing.T) {
		got, ok := parseDateAt("11月2日(一)", anchor)
		require.True(t, ok)
		assert.Equal(t, 2026, got.Year())
	})
}

// The format/parse pair must round-trip month and day. Year is excluded:
// parsing always anchors to the current year or the next one.
func TestUnit_ParseDateFromString_RoundTrip(t *testing.T) {
	for _, d := range []time.Time{
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
	} {
		got, ok := ParseDateFromString(FormatDateWithWeekday(d))
		require.True(t, ok, "round trip %s", d)
		assert.Equal(t, d.Month(), got.Month())
		assert.Equal(t, d.Day(), got.Day())
	}
}

func sampleDays() []internal.DaySchedule {
	return []internal.DaySchedule{
		{Label: "2月6日(五)", Times: []string{"10:00", "14:00", "18:00"}},
		{Label: "2月7日(六)", Times: []string{"11:00", "15:00"}},
		{Label: "2月8日(日)", Times: []string{"13:00", "17:00"}},
	}
}

func TestUnit_FilterByDate(t *testing.T) {
	anchor := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	t.Run("all mode is identity", func(t *testing.T) {
		days := sampleDays()
		got := filterByDateAt(days, Filter{Mode: FilterAll}, anchor)
		assert.Equal(t, days, got)
	})

	t.Run("single mode keeps exact match", func(t *testing.T) {
		got := filterByDateAt(sampleDays(), Filter{
			Mode:   FilterSingle,
			Target: time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC),
		}, anchor)
		require.Len(t, got, 1)
		assert.Equal(t, "2月7日(六)", got[0].Label)
		assert.Equal(t, []string{"11:00", "15:00"}, got[0].Times)
	})

	t.Run("single mode no match", func(t *testing.T) {
		got := filterByDateAt(sampleDays(), Filter{
			Mode:   FilterSingle,
			Target: time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		}, anchor)
		assert.Empty(t, got)
	})

	t.Run("range mode inclusive bounds", func(t *testing.T) {
		got := filterByDateAt(sampleDays(), Filter{
			Mode:  FilterRange,
			Start: time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC),
		}, anchor)
		require.Len(t, got, 2)
		assert.Equal(t, "2月6日(五)", got[0].Label)
		assert.Equal(t, "2月7日(六)", got[1].Label)
	})

	t.Run("range mode covering everything", func(t *testing.T) {
		got := filterByDateAt(sampleDays(), Filter{
			Mode:  FilterRange,
			Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		}, anchor)
		assert.Len(t, got, 3)
	})

	t.Run("unparseable label survives single mode", func(t *testing.T) {
		days := []internal.DaySchedule{
			{Label: "未知日期", Times: []string{"10:00"}},
			{Label: "2月7日(六)", Times: []string{"14:00"}},
		}
		got := filterByDateAt(days, Filter{
			Mode:   FilterSingle,
			Target: time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC),
		}, anchor)
		require.Len(t, got, 2)
		assert.Equal(t, "未知日期", got[0].Label)
		assert.Equal(t, "2月7日(六)", got[1].Label)
	})

	t.Run("unparseable label survives range mode", func(t *testing.T) {
		days := []internal.DaySchedule{
			{Label: "特別場", Times: []string{"23:00"}},
		}
		got := filterByDateAt(days, Filter{
			Mode:  FilterRange,
			Start: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC),
		}, anchor)
		require.Len(t, got, 1)
		assert.Equal(t, "特別場", got[0].Label)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, filterByDateAt(nil, Filter{Mode: FilterAll}, anchor))
	})
}

func TestUnit_FilterSchedule_DoesNotMutateInput(t *testing.T) {
	schedule := internal.Schedule{
		"欣欣秀泰影城": sampleDays(),
		"台北信義威秀": {{Label: "2月8日(日)", Times: []string{"20:00"}}},
	}
	got := FilterSchedule(schedule, Filter{Mode: FilterAll})
	require.Len(t, got, 2)
	assert.Equal(t, schedule["欣欣秀泰影城"], got["欣欣秀泰影城"])

	got["欣欣秀泰影城"] = nil
	assert.Len(t, schedule["欣欣秀泰影城"], 3, "filtering must not mutate the cached schedule")
}
