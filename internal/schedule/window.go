// Package schedule evaluates the time-of-day and weekday activity window.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EveryDay is the weekday filter value that disables weekday filtering.
const EveryDay = "*"

// Window is an inclusive, same-day wall-clock range with an optional weekday filter.
type Window struct {
	// Start and End are offsets from local midnight.
	Start time.Duration
	End   time.Duration
	// Weekdays is nil when every day is active.
	Weekdays map[time.Weekday]struct{}
	// Location is used to read the wall clock; nil means time.Local.
	Location *time.Location
}

// Spec is the raw configuration of a Window.
type Spec struct {
	StartTime     string
	EndTime       string
	ActiveWeekday any
	Location      string
}

// New parses a Spec into a Window.
func New(spec Spec) (Window, error) {
	start, err := ParseClock(spec.StartTime)
	if err != nil {
		return Window{}, fmt.Errorf("schedule.start_time: %w", err)
	}
	end, err := ParseClock(spec.EndTime)
	if err != nil {
		return Window{}, fmt.Errorf("schedule.end_time: %w", err)
	}
	if end < start {
		return Window{}, fmt.Errorf("schedule.end_time %s is before start_time %s", spec.EndTime, spec.StartTime)
	}
	days, err := ParseWeekdays(spec.ActiveWeekday)
	if err != nil {
		return Window{}, fmt.Errorf("schedule.active_weekday: %w", err)
	}
	loc := time.Local
	if spec.Location != "" {
		loc, err = time.LoadLocation(spec.Location)
		if err != nil {
			return Window{}, fmt.Errorf("schedule.location: %w", err)
		}
	}
	return Window{Start: start, End: end, Weekdays: days, Location: loc}, nil
}

// Active reports whether now falls inside the window. Both ends are inclusive.
func (w Window) Active(now time.Time) bool {
	if w.Location != nil {
		now = now.In(w.Location)
	}
	if w.Weekdays != nil {
		if _, ok := w.Weekdays[now.Weekday()]; !ok {
			return false
		}
	}
	h, m, s := now.Clock()
	offset := time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(now.Nanosecond())
	return offset >= w.Start && offset <= w.End
}

// ParseClock reads "HH:MM" or "HH:MM:SS" into an offset from midnight.
func ParseClock(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"15:04:05", "15:04"} {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", raw)
}

var weekdayNames = map[string]time.Weekday{
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday,
}

// ParseWeekdays reads the weekday filter. Accepted forms are "*" (or empty), a
// comma separated string, or a list. Numeric entries count from Monday=0.
func ParseWeekdays(raw any) (map[time.Weekday]struct{}, error) {
	var items []string
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" || v == EveryDay {
			return nil, nil
		}
		items = strings.Split(v, ",")
	case []string:
		items = v
	case []int:
		for _, n := range v {
			items = append(items, strconv.Itoa(n))
		}
	case []any:
		for _, entry := range v {
			items = append(items, fmt.Sprint(entry))
		}
	default:
		return nil, fmt.Errorf("unsupported weekday filter %T", raw)
	}

	days := make(map[time.Weekday]struct{}, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == EveryDay {
			return nil, nil
		}
		day, err := parseWeekday(item)
		if err != nil {
			return nil, err
		}
		days[day] = struct{}{}
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("weekday filter is empty")
	}
	return days, nil
}

func parseWeekday(item string) (time.Weekday, error) {
	if day, ok := weekdayNames[item]; ok {
		return day, nil
	}
	n, err := strconv.Atoi(item)
	if err != nil || n < 0 || n > 6 {
		return 0, fmt.Errorf("invalid weekday %q", item)
	}
	return time.Weekday((n + 1) % 7), nil
}

// String renders the window for logs.
func (w Window) String() string {
	days := EveryDay
	if w.Weekdays != nil {
		names := make([]string, 0, len(w.Weekdays))
		order := make([]int, 0, len(w.Weekdays))
		for d := range w.Weekdays {
			order = append(order, int(d))
		}
		sort.Ints(order)
		for _, d := range order {
			names = append(names, time.Weekday(d).String()[:3])
		}
		days = strings.Join(names, ",")
	}
	return fmt.Sprintf("%s-%s [%s]", formatOffset(w.Start), formatOffset(w.End), days)
}

func formatOffset(d time.Duration) string {
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
