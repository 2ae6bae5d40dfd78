package entitlement

import "time"

// DayStart returns the start of the usage day containing t. Days roll over at
// resetHour UTC rather than midnight, so a generation at 23:30 UTC with a
// reset hour of 0 counts toward the same day as one at 01:00 the next morning
// only when the reset hour says so.
func DayStart(t time.Time, resetHour int) time.Time {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), resetHour, 0, 0, 0, time.UTC)
	if t.Before(day) {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// MonthStart returns the first day boundary of the calendar month containing
// the usage day of t.
func MonthStart(t time.Time, resetHour int) time.Time {
	day := DayStart(t, resetHour)
	return time.Date(day.Year(), day.Month(), 1, day.Hour(), 0, 0, 0, time.UTC)
}

// SameUsageDay reports whether both times fall within the same usage day.
func SameUsageDay(a, b time.Time, resetHour int) bool {
	return DayStart(a, resetHour).Equal(DayStart(b, resetHour))
}
