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

// Lifecycle drives reminder state transitions after materialization: the
// retry/escalation sweep, the missed-marking safety net, snooze requeueing,
// and patient acknowledgement. All transitions go through conditional store
// updates, so a patient acknowledging mid-sweep always wins.
type Lifecycle struct {
	store            store.Store
	reminderNotifier notify.ReminderNotifier
	clock            Clock
	retryThreshold   time.Duration
	missedTimeout    time.Duration
	alertDedupWindow time.Duration
}

// RetrySweepResult summarizes one retry/escalation sweep run.
type RetrySweepResult struct {
	Requeued  int
	Examined  int
	Retried   int
	Escalated int
	Errors    []error
}

// MissedSweepResult summarizes one missed-marking sweep run.
type MissedSweepResult struct {
	Examined int
	Marked   int
	Errors   []error
}

// NewLifecycle creates a lifecycle manager over the given store and notifier.
func NewLifecycle(st store.Store, rn notify.ReminderNotifier, opts ...Option) *Lifecycle {
	cfg := buildOpts(opts)
	return &Lifecycle{
		store:            st,
		reminderNotifier: rn,
		clock:            cfg.Clock,
		retryThreshold:   cfg.RetryThreshold,
		missedTimeout:    cfg.MissedTimeout,
		alertDedupWindow: cfg.AlertDedupWindow,
	}
}

// RunRetrySweep requeues due snoozed reminders, re-notifies pending
// reminders overdue past the retry threshold, and escalates reminders whose
// retries are exhausted into missed status plus a caregiver alert.
func (l *Lifecycle) RunRetrySweep(ctx context.Context) RetrySweepResult {
	var res RetrySweepResult
	now := l.clock.Now()

	requeued, err := l.store.RequeueDueSnoozedReminders(now)
	if err != nil {
		slog.Error("Lifecycle.RunRetrySweep snooze requeue failed", "error", err)
		res.Errors = append(res.Errors, fmt.Errorf("failed to requeue snoozed reminders: %w", err))
	}
	res.Requeued = requeued

	overdue, err := l.store.ListPendingRemindersDueBefore(now.Add(-l.retryThreshold))
	if err != nil {
		slog.Error("Lifecycle.RunRetrySweep failed to list overdue reminders", "error", err)
		res.Errors = append(res.Errors, fmt.Errorf("failed to list overdue reminders: %w", err))
		return res
	}

	for _, r := range overdue {
		res.Examined++
		retried, escalated, err := l.sweepReminder(ctx, r, now)
		if err != nil {
			slog.Error("Lifecycle.RunRetrySweep reminder failed", "error", err, "reminderID", r.ID)
			res.Errors = append(res.Errors, fmt.Errorf("reminder %s: %w", r.ID, err))
			continue
		}
		if retried {
			res.Retried++
		}
		if escalated {
			res.Escalated++
		}
	}

	slog.Debug("Lifecycle.RunRetrySweep completed", "requeued", res.Requeued,
		"examined", res.Examined, "retried", res.Retried,
		"escalated", res.Escalated, "errors", len(res.Errors))
	return res
}

func (l *Lifecycle) sweepReminder(ctx context.Context, r models.Reminder, now time.Time) (retried, escalated bool, err error) {
	if r.CanRetry() {
		applied, err := l.store.IncrementRetryIfPending(r.ID, now)
		if err != nil {
			return false, false, fmt.Errorf("failed to increment retry: %w", err)
		}
		if !applied {
			// Status changed since the list query; nothing to do.
			return false, false, nil
		}
		if err := l.notifyRetry(ctx, r, r.RetryCount+1); err != nil {
			slog.Warn("Lifecycle retry notification failed", "error", err, "reminderID", r.ID)
		} else if err := l.store.MarkReminderSent(r.ID, now); err != nil {
			slog.Warn("Lifecycle failed to record retry sent time", "error", err, "reminderID", r.ID)
		}
		return true, false, nil
	}

	// Retries exhausted: mark missed and raise a caregiver alert. The
	// conditional update loses against a concurrent acknowledgement, in
	// which case no alert is created.
	applied, err := l.store.MarkReminderMissedIfPending(r.ID, now)
	if err != nil {
		return false, false, fmt.Errorf("failed to mark missed: %w", err)
	}
	if !applied {
		return false, false, nil
	}
	slog.Info("Lifecycle marked reminder missed after exhausted retries",
		"reminderID", r.ID, "retryCount", r.RetryCount)
	if err := l.createMissedAlert(ctx, r, now); err != nil {
		return false, true, fmt.Errorf("failed to create missed alert: %w", err)
	}
	return false, true, nil
}

func (l *Lifecycle) notifyRetry(ctx context.Context, r models.Reminder, retryCount int) error {
	patient, err := l.store.GetPatient(r.PatientID)
	if err != nil {
		return fmt.Errorf("failed to load patient: %w", err)
	}
	scheduleType, _ := l.scheduleType(r)
	n := notify.ReminderNotification{
		ReminderID:   r.ID,
		PatientID:    r.PatientID,
		Title:        r.Title,
		SpeakText:    r.Message,
		ScheduleType: scheduleType,
		DueAt:        r.DueAt,
		IsRetry:      true,
		RetryCount:   retryCount,
	}
	if patient != nil {
		n.DeviceToken = patient.DeviceToken
	}
	return l.reminderNotifier.SendReminder(ctx, n)
}

func (l *Lifecycle) createMissedAlert(ctx context.Context, r models.Reminder, now time.Time) error {
	alertType := models.AlertTypeMissedReminder
	if st, err := l.scheduleType(r); err == nil && st == models.ScheduleTypeMedication {
		alertType = models.AlertTypeMissedMedication
	}

	recent, err := l.store.HasRecentUnacknowledgedAlert(r.PatientID, alertType,
		models.AlertSeverityMedium, now.Add(-l.alertDedupWindow))
	if err != nil {
		return fmt.Errorf("failed to check recent alerts: %w", err)
	}
	if recent {
		slog.Debug("Lifecycle suppressed duplicate missed alert",
			"reminderID", r.ID, "type", alertType)
		return nil
	}

	alert := models.Alert{
		ID:        util.GenerateAlertID(),
		PatientID: r.PatientID,
		Type:      alertType,
		Severity:  models.AlertSeverityMedium,
		Title:     fmt.Sprintf("Missed reminder: %s", r.Title),
		Description: fmt.Sprintf("Reminder %q was due at %s and was not acknowledged after %d attempts.",
			r.Title, r.DueAt.Format("15:04"), r.RetryCount+1),
		RecommendedAction: "Check in with the patient.",
		TriggeredBy:       "retry_sweep",
		Status:            models.AlertStatusActive,
		CreatedAt:         now,
	}
	if alertType == models.AlertTypeMissedMedication {
		alert.RecommendedAction = "Check in with the patient about their medication."
	}
	if err := l.store.CreateAlert(alert); err != nil {
		return fmt.Errorf("failed to persist alert: %w", err)
	}
	slog.Info("Lifecycle created missed-reminder alert", "alertID", alert.ID,
		"reminderID", r.ID, "type", alertType)
	return nil
}

func (l *Lifecycle) scheduleType(r models.Reminder) (models.ScheduleType, error) {
	if r.ScheduleID == "" {
		return "", fmt.Errorf("reminder %s is ad hoc", r.ID)
	}
	sch, err := l.store.GetSchedule(r.ScheduleID)
	if err != nil {
		return "", err
	}
	if sch == nil {
		return "", fmt.Errorf("schedule %s not found", r.ScheduleID)
	}
	return sch.Type, nil
}

// RunMissedSweep is the safety net behind the retry sweep: any reminder
// still pending past the missed timeout is marked missed regardless of its
// retry count. Alerts remain the retry sweep's job.
func (l *Lifecycle) RunMissedSweep(ctx context.Context) MissedSweepResult {
	var res MissedSweepResult
	now := l.clock.Now()

	stale, err := l.store.ListPendingRemindersDueBefore(now.Add(-l.missedTimeout))
	if err != nil {
		slog.Error("Lifecycle.RunMissedSweep failed to list stale reminders", "error", err)
		res.Errors = append(res.Errors, fmt.Errorf("failed to list stale reminders: %w", err))
		return res
	}

	for _, r := range stale {
		res.Examined++
		applied, err := l.store.MarkReminderMissedIfPending(r.ID, now)
		if err != nil {
			slog.Error("Lifecycle.RunMissedSweep reminder failed", "error", err, "reminderID", r.ID)
			res.Errors = append(res.Errors, fmt.Errorf("reminder %s: %w", r.ID, err))
			continue
		}
		if applied {
			res.Marked++
			slog.Warn("Lifecycle missed sweep marked stale reminder",
				"reminderID", r.ID, "dueAt", r.DueAt)
		}
	}

	slog.Debug("Lifecycle.RunMissedSweep completed", "examined", res.Examined,
		"marked", res.Marked, "errors", len(res.Errors))
	return res
}

// AcknowledgeReminder records a patient response. With snoozeMinutes > 0 the
// reminder is deferred instead of completed. Reports whether the state
// change applied; it does not when the reminder already left the expected
// status.
func (l *Lifecycle) AcknowledgeReminder(id, response string, snoozeMinutes int) (bool, error) {
	now := l.clock.Now()
	if snoozeMinutes > 0 {
		until := now.Add(time.Duration(snoozeMinutes) * time.Minute)
		applied, err := l.store.SnoozeReminderIfPending(id, until, now)
		if err != nil {
			return false, fmt.Errorf("failed to snooze reminder %s: %w", id, err)
		}
		if applied {
			slog.Info("Reminder snoozed", "reminderID", id, "until", until)
		}
		return applied, nil
	}

	applied, err := l.store.CompleteReminder(id, response, now)
	if err != nil {
		return false, fmt.Errorf("failed to complete reminder %s: %w", id, err)
	}
	if applied {
		slog.Info("Reminder completed", "reminderID", id)
	}
	return applied, nil
}
