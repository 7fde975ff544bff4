package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// 2024-01-01 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.January, day, hour, minute, 0, 0, time.UTC)
}

func TestWindowInclusiveBoundaries(t *testing.T) {
	t.Parallel()

	w, err := New(Spec{StartTime: "09:00", EndTime: "17:00", ActiveWeekday: "*", Location: "UTC"})
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"start boundary", at(1, 9, 0), true},
		{"end boundary", at(1, 17, 0), true},
		{"midday", at(1, 12, 30), true},
		{"before start", at(1, 8, 59), false},
		{"after end", at(1, 17, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, w.Active(tt.now))
		})
	}
}

func TestWindowWeekdayFilter(t *testing.T) {
	t.Parallel()

	w, err := New(Spec{
		StartTime:     "09:00",
		EndTime:       "17:00",
		ActiveWeekday: []any{"mon", "wed", "fri"},
		Location:      "UTC",
	})
	require.NoError(t, err)

	require.True(t, w.Active(at(1, 12, 0)), "monday")
	require.False(t, w.Active(at(2, 12, 0)), "tuesday is filtered out regardless of time")
	require.True(t, w.Active(at(3, 12, 0)), "wednesday")
	require.False(t, w.Active(at(3, 18, 0)), "wednesday outside hours")
}

func TestWindowUsesLocation(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*60*60)
	w := Window{Start: 9 * time.Hour, End: 10 * time.Hour, Location: tokyo}
	// 00:30 UTC is 09:30 in Tokyo.
	require.True(t, w.Active(at(1, 0, 30)))
	require.False(t, w.Active(at(1, 9, 30)))
}

func TestParseWeekdays(t *testing.T) {
	t.Parallel()

	days, err := ParseWeekdays("*")
	require.NoError(t, err)
	require.Nil(t, days)

	days, err = ParseWeekdays(nil)
	require.NoError(t, err)
	require.Nil(t, days)

	days, err = ParseWeekdays([]int{0, 2, 4})
	require.NoError(t, err)
	require.Equal(t, map[time.Weekday]struct{}{
		time.Monday:    {},
		time.Wednesday: {},
		time.Friday:    {},
	}, days)

	days, err = ParseWeekdays("6, sunday")
	require.NoError(t, err)
	require.Len(t, days, 1)
	require.Contains(t, days, time.Sunday)

	_, err = ParseWeekdays([]any{"7"})
	require.Error(t, err)
	_, err = ParseWeekdays("someday")
	require.Error(t, err)
	_, err = ParseWeekdays(3.5)
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Spec{StartTime: "25:00", EndTime: "17:00"})
	require.ErrorContains(t, err, "schedule.start_time")
	_, err = New(Spec{StartTime: "09:00", EndTime: "nope"})
	require.ErrorContains(t, err, "schedule.end_time")
	_, err = New(Spec{StartTime: "18:00", EndTime: "17:00"})
	require.ErrorContains(t, err, "before start_time")
	_, err = New(Spec{StartTime: "09:00", EndTime: "17:00", Location: "Mars/Olympus"})
	require.ErrorContains(t, err, "schedule.location")
}

func TestParseClockAndString(t *testing.T) {
	t.Parallel()

	d, err := ParseClock("12:27:30")
	require.NoError(t, err)
	require.Equal(t, 12*time.Hour+27*time.Minute+30*time.Second, d)

	w, err := New(Spec{StartTime: "12:27", EndTime: "13:58", ActiveWeekday: []int{0, 6}})
	require.NoError(t, err)
	require.Equal(t, "12:27:00-13:58:00 [Sun,Mon]", w.String())
}
