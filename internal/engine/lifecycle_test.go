package engine

import (
	"context"
	"testing"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/store"
)

// dueAt755 is the fire time of an 08:00 schedule with 5 minutes advance.
var dueAt755 = time.Date(2025, 6, 2, 7, 55, 0, 0, time.UTC)

func seedPendingReminder(t *testing.T, st store.Store, id string, retryCount int) {
	t.Helper()
	err := st.CreateReminder(models.Reminder{
		ID:         id,
		PatientID:  "pat_1",
		ScheduleID: "sch_1",
		Title:      "Breakfast",
		Message:    "It's time for breakfast.",
		DueAt:      dueAt755,
		Status:     models.ReminderStatusPending,
		RetryCount: retryCount,
		MaxRetries: models.DefaultMaxRetries,
		CreatedAt:  dueAt755,
		UpdatedAt:  dueAt755,
	})
	if err != nil {
		t.Fatalf("CreateReminder failed: %v", err)
	}
}

func TestRetrySweepWaitsForThreshold(t *testing.T) {
	st := store.NewInMemoryStore()
	clock := newFakeClock(dueAt755.Add(10 * time.Minute)) // 08:05
	notifier := &recordingNotifier{}
	l := NewLifecycle(st, notifier, WithClock(clock))

	seedPendingReminder(t, st, "rem_1", 0)

	res := l.RunRetrySweep(context.Background())
	if res.Retried != 0 {
		t.Errorf("retried %d reminders before the 15m threshold, want 0", res.Retried)
	}
	if notifier.reminderCount() != 0 {
		t.Error("notification sent before the threshold")
	}
}

func TestRetrySweepRetriesOverdueReminder(t *testing.T) {
	st := store.NewInMemoryStore()
	clock := newFakeClock(dueAt755.Add(16 * time.Minute)) // 08:11
	notifier := &recordingNotifier{}
	l := NewLifecycle(st, notifier, WithClock(clock))

	st.SavePatient(models.Patient{ID: "pat_1", DisplayName: "Rose", DeviceToken: "tok", Active: true})
	seedPendingReminder(t, st, "rem_1", 0)

	res := l.RunRetrySweep(context.Background())
	if res.Retried != 1 {
		t.Fatalf("retried = %d, want 1", res.Retried)
	}

	r, _ := st.GetReminder("rem_1")
	if r.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", r.RetryCount)
	}
	if r.Status != models.ReminderStatusPending {
		t.Errorf("Status = %s, want pending", r.Status)
	}

	n := notifier.lastReminder()
	if !n.IsRetry {
		t.Error("retry notification not marked as retry")
	}
	if n.RetryCount != 1 {
		t.Errorf("notification retryCount = %d, want 1", n.RetryCount)
	}
}

func TestRetrySweepEscalatesAfterExhaustedRetries(t *testing.T) {
	st := store.NewInMemoryStore()
	clock := newFakeClock(dueAt755.Add(16 * time.Minute))
	notifier := &recordingNotifier{}
	l := NewLifecycle(st, notifier, WithClock(clock))

	st.SaveSchedule(dailySchedule("sch_1", "pat_1"))
	seedPendingReminder(t, st, "rem_1", 0)

	// Three sweep passes exhaust the retries, the fourth escalates.
	for i := 1; i <= 3; i++ {
		clock.Set(dueAt755.Add(time.Duration(16+5*i) * time.Minute))
		res := l.RunRetrySweep(context.Background())
		if res.Retried != 1 {
			t.Fatalf("pass %d: retried = %d, want 1", i, res.Retried)
		}
	}
	clock.Set(dueAt755.Add(40 * time.Minute))
	res := l.RunRetrySweep(context.Background())
	if res.Escalated != 1 {
		t.Fatalf("escalated = %d, want 1", res.Escalated)
	}

	r, _ := st.GetReminder("rem_1")
	if r.Status != models.ReminderStatusMissed {
		t.Errorf("Status = %s, want missed", r.Status)
	}

	alerts, _ := st.ListAlerts("pat_1", "")
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	if alerts[0].Type != models.AlertTypeMissedReminder {
		t.Errorf("alert type = %s, want missed_reminder", alerts[0].Type)
	}
	if alerts[0].Severity != models.AlertSeverityMedium {
		t.Errorf("alert severity = %s, want medium", alerts[0].Severity)
	}

	// A further pass finds nothing pending and raises no duplicate alert.
	clock.Set(dueAt755.Add(45 * time.Minute))
	res = l.RunRetrySweep(context.Background())
	if res.Escalated != 0 {
		t.Errorf("second escalation on missed reminder")
	}
	alerts, _ = st.ListAlerts("pat_1", "")
	if len(alerts) != 1 {
		t.Errorf("got %d alerts after repeat sweep, want 1", len(alerts))
	}
}

func TestRetrySweepUsesMedicationAlertType(t *testing.T) {
	st := store.NewInMemoryStore()
	clock := newFakeClock(dueAt755.Add(20 * time.Minute))
	l := NewLifecycle(st, &recordingNotifier{}, WithClock(clock))

	sch := dailySchedule("sch_1", "pat_1")
	sch.Type = models.ScheduleTypeMedication
	st.SaveSchedule(sch)
	seedPendingReminder(t, st, "rem_1", models.DefaultMaxRetries)

	res := l.RunRetrySweep(context.Background())
	if res.Escalated != 1 {
		t.Fatalf("escalated = %d, want 1", res.Escalated)
	}
	alerts, _ := st.ListAlerts("pat_1", "")
	if len(alerts) != 1 || alerts[0].Type != models.AlertTypeMissedMedication {
		t.Errorf("want a single missed_medication alert, got %+v", alerts)
	}
}

func TestRetrySweepLosesToAcknowledgement(t *testing.T) {
	st := store.NewInMemoryStore()
	clock := newFakeClock(dueAt755.Add(20 * time.Minute))
	notifier := &recordingNotifier{}
	l := NewLifecycle(st, notifier, WithClock(clock))

	seedPendingReminder(t, st, "rem_1", 0)
	if applied, err := l.AcknowledgeReminder("rem_1", "done", 0); err != nil || !applied {
		t.Fatalf("AcknowledgeReminder = (%v, %v), want applied", applied, err)
	}

	res := l.RunRetrySweep(context.Background())
	if res.Retried != 0 || res.Escalated != 0 {
		t.Errorf("sweep acted on completed reminder: %+v", res)
	}
	r, _ := st.GetReminder("rem_1")
	if r.Status != models.ReminderStatusCompleted {
		t.Errorf("Status = %s, want completed", r.Status)
	}
	if r.PatientResponse != "done" {
		t.Errorf("PatientResponse = %q, want done", r.PatientResponse)
	}
}

func TestSnoozeAndRequeue(t *testing.T) {
	st := store.NewInMemoryStore()
	clock := newFakeClock(dueAt755)
	l := NewLifecycle(st, &recordingNotifier{}, WithClock(clock))

	seedPendingReminder(t, st, "rem_1", 0)

	applied, err := l.AcknowledgeReminder("rem_1", "", 30)
	if err != nil || !applied {
		t.Fatalf("snooze AcknowledgeReminder = (%v, %v), want applied", applied, err)
	}
	r, _ := st.GetReminder("rem_1")
	if r.Status != models.ReminderStatusSnoozed {
		t.Fatalf("Status = %s, want snoozed", r.Status)
	}

	// Before snoozed_until the sweep leaves it alone.
	clock.Set(dueAt755.Add(20 * time.Minute))
	res := l.RunRetrySweep(context.Background())
	if res.Requeued != 0 {
		t.Errorf("requeued %d before snoozed_until, want 0", res.Requeued)
	}

	// After snoozed_until it flips back to pending with the deferred due time.
	clock.Set(dueAt755.Add(31 * time.Minute))
	res = l.RunRetrySweep(context.Background())
	if res.Requeued != 1 {
		t.Fatalf("requeued = %d, want 1", res.Requeued)
	}
	r, _ = st.GetReminder("rem_1")
	if r.Status != models.ReminderStatusPending {
		t.Errorf("Status = %s, want pending", r.Status)
	}
	wantDue := dueAt755.Add(30 * time.Minute)
	if !r.DueAt.Equal(wantDue) {
		t.Errorf("DueAt = %v, want %v", r.DueAt, wantDue)
	}
}

func TestMissedSweepSafetyNet(t *testing.T) {
	st := store.NewInMemoryStore()
	clock := newFakeClock(dueAt755.Add(40 * time.Minute))
	l := NewLifecycle(st, &recordingNotifier{}, WithClock(clock))

	seedPendingReminder(t, st, "rem_1", 0)

	res := l.RunMissedSweep(context.Background())
	if res.Marked != 0 {
		t.Errorf("marked %d reminders before the timeout, want 0", res.Marked)
	}

	clock.Set(dueAt755.Add(46 * time.Minute))
	res = l.RunMissedSweep(context.Background())
	if res.Marked != 1 {
		t.Fatalf("marked = %d, want 1", res.Marked)
	}
	r, _ := st.GetReminder("rem_1")
	if r.Status != models.ReminderStatusMissed {
		t.Errorf("Status = %s, want missed", r.Status)
	}
}
