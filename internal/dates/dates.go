// Package dates holds the day-level calendar arithmetic shared by the
// recurrence expander and the views. All functions are pure and work in
// the location of their argument.
package dates

import (
	"time"
)

// DateLayout is the wire format for calendar dates ("2024-01-31").
const DateLayout = "2006-01-02"

// StartOfDay returns t with the time of day zeroed.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last millisecond of t's day (23:59:59.999).
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}

// AddDays shifts t by n calendar days. Wall-clock time is preserved
// across DST transitions.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// IsSameDay reports whether a and b fall on the same calendar day. b is
// compared in a's location.
func IsSameDay(a, b time.Time) bool {
	return StartOfDay(a).Equal(StartOfDay(b.In(a.Location())))
}

// WeekStart returns the Monday 00:00 that begins t's week. Sundays belong
// to the week that started six days earlier.
func WeekStart(t time.Time) time.Time {
	day := StartOfDay(t)
	wd := int(day.Weekday())
	diff := 1 - wd
	if wd == 0 {
		diff = -6
	}
	return AddDays(day, diff)
}

// StartOfMonth returns the first day of t's month at 00:00.
func StartOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// EndOfMonth returns the last day of t's month at 00:00.
func EndOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, t.Location())
}

// InRange reports whether t's day lies within [from, to], both inclusive
// and compared by day.
func InRange(t, from, to time.Time) bool {
	day := StartOfDay(t.In(from.Location()))
	return !day.Before(StartOfDay(from)) && !day.After(StartOfDay(to))
}

// ParseDate parses a "YYYY-MM-DD" date at 00:00 in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, s, loc)
}

// FormatDate renders t as "YYYY-MM-DD".
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// FormatRange renders an inclusive day range such as "Jan 1 - Jan 7".
func FormatRange(from, to time.Time) string {
	return from.Format("Jan 2") + " - " + to.Format("Jan 2")
}

// FormatMonth renders "January 2024".
func FormatMonth(t time.Time) string {
	return t.Format("January 2006")
}

// FormatDay renders "Monday, January 1, 2024".
func FormatDay(t time.Time) string {
	return t.Format("Monday, January 2, 2006")
}

// FormatTime renders the 24h clock time "09:05".
func FormatTime(t time.Time) string {
	return t.Format("15:04")
}
