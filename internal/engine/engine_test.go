package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/notify"
)

// fakeClock is a settable Clock for driving sweeps through a timeline.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// recordingNotifier captures notifications and can be told to fail.
type recordingNotifier struct {
	mu        sync.Mutex
	reminders []notify.ReminderNotification
	alerts    []notify.AlertNotification
	fail      bool
}

func (r *recordingNotifier) SendReminder(ctx context.Context, n notify.ReminderNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("delivery failed")
	}
	r.reminders = append(r.reminders, n)
	return nil
}

func (r *recordingNotifier) SendAlert(ctx context.Context, n notify.AlertNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("delivery failed")
	}
	r.alerts = append(r.alerts, n)
	return nil
}

func (r *recordingNotifier) reminderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reminders)
}

func (r *recordingNotifier) lastReminder() notify.ReminderNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reminders[len(r.reminders)-1]
}

// mondayMorning is a fixed reference instant: Monday 2025-06-02 07:00 UTC.
var mondayMorning = time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC)

func dailySchedule(id, patientID string) models.Schedule {
	return models.Schedule{
		ID:                     id,
		PatientID:              patientID,
		Type:                   models.ScheduleTypeMeal,
		Title:                  "Breakfast",
		ScheduledTime:          "08:00",
		RecurrencePattern:      models.RecurrenceDaily,
		ReminderAdvanceMinutes: 5,
		Active:                 true,
		CreatedAt:              mondayMorning,
		UpdatedAt:              mondayMorning,
	}
}
