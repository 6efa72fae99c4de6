package domain

import "time"

// Day returns midnight of t's calendar date in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// EndOfDay returns 23:59:59.999 of t's calendar date in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return Day(t, loc).AddDate(0, 0, 1).Add(-time.Millisecond)
}

// SameDay reports whether a and b fall on the same calendar date in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return Day(a, loc).Equal(Day(b, loc))
}

// DayKey formats t's calendar date in loc as YYYY-MM-DD.
func DayKey(t time.Time, loc *time.Location) string {
	return Day(t, loc).Format(time.DateOnly)
}
