package engine

import (
	"log/slog"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
)

// AppliesOn reports whether the schedule's recurrence pattern selects the
// given Monday-based weekday. Unknown patterns and out-of-range weekdays
// evaluate to false: an invalid definition must never fire a reminder.
func AppliesOn(s models.Schedule, weekday int) bool {
	if weekday < 0 || weekday > 6 {
		return false
	}
	switch s.RecurrencePattern {
	case models.RecurrenceDaily:
		return true
	case models.RecurrenceWeekly, models.RecurrenceCustom:
		for _, d := range s.DaysOfWeek {
			if d == weekday {
				return true
			}
		}
		return false
	default:
		slog.Warn("AppliesOn: unknown recurrence pattern, schedule will not fire",
			"scheduleID", s.ID, "pattern", s.RecurrencePattern)
		return false
	}
}

// AppliesToday reports whether the schedule applies on the calendar day of
// the given instant.
func AppliesToday(s models.Schedule, now time.Time) bool {
	return AppliesOn(s, WeekdayIndex(now))
}
