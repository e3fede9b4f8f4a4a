package availability

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

const MinutesPerDay = 24 * 60

// Window is one recurring weekly opening. Minutes count from local midnight;
// EndMinute may be 1440 to mean "until midnight".
type Window struct {
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
}

func (w Window) String() string {
	return fmt.Sprintf("%s %s-%s", w.Weekday, FormatClock(w.StartMinute), FormatClock(w.EndMinute))
}

// On anchors the window on the calendar day of date in loc. Wall-clock times are
// kept across DST changes.
func (w Window) On(date time.Time, loc *time.Location) Interval {
	y, m, d := date.In(loc).Date()
	return Interval{
		Start: time.Date(y, m, d, 0, w.StartMinute, 0, 0, loc),
		End:   time.Date(y, m, d, 0, w.EndMinute, 0, 0, loc),
	}
}

type Violation struct {
	Index  int
	Window Window
	Reason string
}

// InvalidScheduleError lists every rejected window, not just the first.
type InvalidScheduleError struct {
	Violations []Violation
}

func (e *InvalidScheduleError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("window %d (%s): %s", v.Index, v.Window, v.Reason))
	}
	return fmt.Sprintf("invalid schedule: %d violation(s): %s", len(e.Violations), strings.Join(parts, "; "))
}

func ValidateWindows(windows []Window) error {
	if violations := validate(windows, nil); len(violations) > 0 {
		return &InvalidScheduleError{Violations: violations}
	}
	return nil
}

// ClockWindow is a window as clients send it: clock times as "HH:MM".
type ClockWindow struct {
	Weekday time.Weekday
	Start   string
	End     string
}

// ParseWindows converts clock windows and validates the result. Unparseable clock
// times are reported as violations alongside the range and overlap checks, so the
// caller sees every problem at once. Indices refer to in.
func ParseWindows(in []ClockWindow) ([]Window, error) {
	windows := make([]Window, len(in))
	parsed := make([]bool, len(in))
	var violations []Violation
	for i, c := range in {
		w := Window{Weekday: c.Weekday}
		var startErr, endErr error
		w.StartMinute, startErr = ParseClock(c.Start)
		w.EndMinute, endErr = ParseClock(c.End)
		if startErr != nil {
			violations = append(violations, Violation{Index: i, Window: w, Reason: "start " + startErr.Error()})
		}
		if endErr != nil {
			violations = append(violations, Violation{Index: i, Window: w, Reason: "end " + endErr.Error()})
		}
		windows[i] = w
		parsed[i] = startErr == nil && endErr == nil
	}

	violations = append(violations, validate(windows, parsed)...)
	if len(violations) > 0 {
		slices.SortStableFunc(violations, func(a, b Violation) int { return a.Index - b.Index })
		return nil, &InvalidScheduleError{Violations: violations}
	}
	return windows, nil
}

// validate checks ranges and same-day overlaps. Windows with parsed[i] == false
// only get the weekday check.
func validate(windows []Window, parsed []bool) []Violation {
	var violations []Violation
	add := func(i int, reason string) {
		violations = append(violations, Violation{Index: i, Window: windows[i], Reason: reason})
	}

	valid := make([]bool, len(windows))
	for i, w := range windows {
		ok := true
		if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
			add(i, "day of week must be between 0 (Sunday) and 6 (Saturday)")
			ok = false
		}
		if parsed != nil && !parsed[i] {
			continue
		}
		if w.StartMinute < 0 || w.StartMinute >= MinutesPerDay {
			add(i, "start time must be within the day")
			ok = false
		}
		if w.EndMinute <= 0 || w.EndMinute > MinutesPerDay {
			add(i, "end time must be within the day")
			ok = false
		}
		if w.StartMinute >= w.EndMinute {
			add(i, "start time must be before end time")
			ok = false
		}
		valid[i] = ok
	}

	for i := range windows {
		if !valid[i] {
			continue
		}
		for j := i + 1; j < len(windows); j++ {
			if !valid[j] || windows[i].Weekday != windows[j].Weekday {
				continue
			}
			if windows[i].StartMinute < windows[j].EndMinute && windows[j].StartMinute < windows[i].EndMinute {
				add(i, fmt.Sprintf("overlaps window %d", j))
				add(j, fmt.Sprintf("overlaps window %d", i))
			}
		}
	}
	return violations
}

// WindowsForDate returns the windows for date's weekday as concrete intervals,
// sorted by start. No windows is a normal, empty result.
func WindowsForDate(windows []Window, date time.Time, loc *time.Location) []Interval {
	weekday := date.In(loc).Weekday()
	var out []Interval
	for _, w := range windows {
		if w.Weekday == weekday {
			out = append(out, w.On(date, loc))
		}
	}
	SortByStart(out)
	return out
}

// Covers reports whether iv lies inside the provider's availability. An interval
// that crosses midnight must be covered by windows of every day it touches, and
// touching windows on adjacent days count as one continuous opening.
func Covers(windows []Window, iv Interval, loc *time.Location) bool {
	var open []Interval
	day := StartOfDay(iv.Start, loc)
	for day.Before(iv.End) {
		open = append(open, WindowsForDate(windows, day, loc)...)
		day = NextDay(day, loc)
	}
	for _, o := range Merge(open) {
		if o.Contains(iv) {
			return true
		}
	}
	return false
}

func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func NextDay(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// DaySpan is [midnight, next midnight) of date in loc. It is 23 or 25 hours long on DST days.
func DaySpan(date time.Time, loc *time.Location) Interval {
	start := StartOfDay(date, loc)
	return Interval{Start: start, End: NextDay(start, loc)}
}

// ParseClock parses "HH:MM" into minutes since midnight. "24:00" is accepted.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock time %q: out of range", s)
	}
	return h*60 + m, nil
}

func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
