package engine

import (
	"testing"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
)

func TestWeekdayIndex(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want int
	}{
		{"monday", time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC), 0},
		{"wednesday", time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC), 2},
		{"saturday", time.Date(2025, 6, 7, 12, 0, 0, 0, time.UTC), 5},
		{"sunday", time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC), 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WeekdayIndex(tt.t); got != tt.want {
				t.Errorf("WeekdayIndex(%v) = %d, want %d", tt.t, got, tt.want)
			}
		})
	}
}

func TestAppliesOn(t *testing.T) {
	tests := []struct {
		name     string
		pattern  models.RecurrencePattern
		days     []int
		weekday  int
		want     bool
	}{
		{"daily applies any weekday", models.RecurrenceDaily, nil, 3, true},
		{"daily applies sunday", models.RecurrenceDaily, nil, 6, true},
		{"weekly matching day", models.RecurrenceWeekly, []int{0, 2, 4}, 2, true},
		{"weekly non-matching day", models.RecurrenceWeekly, []int{0, 2, 4}, 1, false},
		{"weekly empty day set never fires", models.RecurrenceWeekly, nil, 0, false},
		{"custom matching day", models.RecurrenceCustom, []int{6}, 6, true},
		{"custom non-matching day", models.RecurrenceCustom, []int{6}, 0, false},
		{"unknown pattern fails closed", models.RecurrencePattern("biweekly"), []int{0}, 0, false},
		{"negative weekday fails closed", models.RecurrenceDaily, nil, -1, false},
		{"weekday out of range fails closed", models.RecurrenceDaily, nil, 7, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := models.Schedule{RecurrencePattern: tt.pattern, DaysOfWeek: tt.days}
			if got := AppliesOn(s, tt.weekday); got != tt.want {
				t.Errorf("AppliesOn(%s, %d) = %v, want %v", tt.pattern, tt.weekday, got, tt.want)
			}
		})
	}
}

func TestAppliesTodayUsesMondayBasedIndex(t *testing.T) {
	// Weekday 0 means Monday in schedule definitions, not Sunday.
	s := models.Schedule{RecurrencePattern: models.RecurrenceWeekly, DaysOfWeek: []int{0}}

	monday := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	if !AppliesToday(s, monday) {
		t.Error("schedule for weekday 0 did not apply on a Monday")
	}

	sunday := time.Date(2025, 6, 8, 8, 0, 0, 0, time.UTC)
	if AppliesToday(s, sunday) {
		t.Error("schedule for weekday 0 applied on a Sunday")
	}
}
