package subscriptions

import "time"

// addMonths moves t by months calendar months keeping anchorDay, clamped to
// the last day of the target month (Jan 31 + 1 month is Feb 28 or 29).
func addMonths(t time.Time, months, anchorDay int) time.Time {
	y, m, _ := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	day := anchorDay
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// NextDue advances next by whole billing cycles until it is on or after asOf.
// The day of month follows the start date so short months do not drift the
// schedule. next is returned unchanged when it is already due on or after asOf.
func NextDue(next, start time.Time, cycle Cycle, asOf time.Time) time.Time {
	months := cycle.Months()
	if months == 0 {
		return next
	}
	next = dateOnly(next)
	asOf = dateOnly(asOf)
	anchor := start.Day()
	for next.Before(asOf) {
		next = addMonths(next, months, anchor)
	}
	return next
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
