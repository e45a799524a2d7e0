package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/notify"
	"github.com/CareLoop/CareLoop/internal/store"
	"github.com/CareLoop/CareLoop/internal/util"
)

// Materializer turns schedule definitions into dated reminder instances.
// Each run evaluates every active schedule against the current day and
// creates a reminder when the schedule's fire time falls inside the
// look-ahead window and no reminder exists for that schedule and day yet.
type Materializer struct {
	store     store.Store
	notifier  notify.ReminderNotifier
	clock     Clock
	lookAhead time.Duration
}

// MaterializeResult summarizes one materializer run.
type MaterializeResult struct {
	Evaluated int
	Created   int
	Notified  int
	Errors    []error
}

// NewMaterializer creates a materializer over the given store and notifier.
func NewMaterializer(st store.Store, notifier notify.ReminderNotifier, opts ...Option) *Materializer {
	cfg := buildOpts(opts)
	return &Materializer{
		store:     st,
		notifier:  notifier,
		clock:     cfg.Clock,
		lookAhead: cfg.LookAhead,
	}
}

// Run executes one materializer pass. A failure on one schedule is recorded
// and the pass continues with the next.
func (m *Materializer) Run(ctx context.Context) MaterializeResult {
	var res MaterializeResult
	now := m.clock.Now()

	schedules, err := m.store.ListActiveSchedules()
	if err != nil {
		slog.Error("Materializer.Run failed to list schedules", "error", err)
		res.Errors = append(res.Errors, fmt.Errorf("failed to list active schedules: %w", err))
		return res
	}

	for _, sch := range schedules {
		res.Evaluated++
		created, notified, err := m.materializeSchedule(ctx, sch, now)
		if err != nil {
			slog.Error("Materializer.Run schedule failed", "error", err, "scheduleID", sch.ID)
			res.Errors = append(res.Errors, fmt.Errorf("schedule %s: %w", sch.ID, err))
			continue
		}
		if created {
			res.Created++
		}
		if notified {
			res.Notified++
		}
	}

	slog.Debug("Materializer.Run completed", "evaluated", res.Evaluated,
		"created", res.Created, "notified", res.Notified, "errors", len(res.Errors))
	return res
}

func (m *Materializer) materializeSchedule(ctx context.Context, sch models.Schedule, now time.Time) (created, notified bool, err error) {
	if !AppliesToday(sch, now) {
		return false, false, nil
	}

	hour, minute, err := sch.TimeOfDay()
	if err != nil {
		return false, false, fmt.Errorf("invalid scheduled_time %q: %w", sch.ScheduledTime, err)
	}

	nominal := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	fireAt := nominal.Add(-time.Duration(sch.ReminderAdvanceMinutes) * time.Minute)
	if fireAt.Before(now) || !fireAt.Before(now.Add(m.lookAhead)) {
		return false, false, nil
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)
	exists, err := m.store.ReminderExistsForScheduleOn(sch.ID, dayStart, dayEnd)
	if err != nil {
		return false, false, fmt.Errorf("failed to check existing reminders: %w", err)
	}
	if exists {
		return false, false, nil
	}

	reminder := models.Reminder{
		ID:         util.GenerateReminderID(),
		PatientID:  sch.PatientID,
		ScheduleID: sch.ID,
		Title:      sch.Title,
		Message:    speakText(sch),
		DueAt:      fireAt,
		Status:     models.ReminderStatusPending,
		MaxRetries: models.DefaultMaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.store.CreateReminder(reminder); err != nil {
		return false, false, fmt.Errorf("failed to create reminder: %w", err)
	}
	slog.Info("Materializer created reminder", "reminderID", reminder.ID,
		"scheduleID", sch.ID, "dueAt", fireAt)

	// Initial notification is best effort. The reminder is already
	// persisted, so the retry sweep covers a failed push.
	if err := m.notifyReminder(ctx, sch, reminder); err != nil {
		slog.Warn("Materializer initial notification failed", "error", err,
			"reminderID", reminder.ID)
		return true, false, nil
	}
	if err := m.store.MarkReminderSent(reminder.ID, now); err != nil {
		slog.Warn("Materializer failed to record sent time", "error", err,
			"reminderID", reminder.ID)
	}
	return true, true, nil
}

func (m *Materializer) notifyReminder(ctx context.Context, sch models.Schedule, r models.Reminder) error {
	patient, err := m.store.GetPatient(r.PatientID)
	if err != nil {
		return fmt.Errorf("failed to load patient: %w", err)
	}
	n := notify.ReminderNotification{
		ReminderID:   r.ID,
		PatientID:    r.PatientID,
		Title:        r.Title,
		SpeakText:    r.Message,
		ScheduleType: sch.Type,
		DueAt:        r.DueAt,
	}
	if patient != nil {
		n.DeviceToken = patient.DeviceToken
	}
	return m.notifier.SendReminder(ctx, n)
}

// speakText builds the sentence the device reads aloud for a reminder.
func speakText(sch models.Schedule) string {
	if sch.Description != "" {
		return sch.Description
	}
	return fmt.Sprintf("It's time for %s.", sch.Title)
}
