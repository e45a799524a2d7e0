// Package store provides storage backends for CareLoop.
//
// It includes an in-memory store for tests and development, and persistent
// SQLite and PostgreSQL backends behind a single Store interface. Status
// transitions driven by the engine's sweeps are conditional updates: a
// record is only mutated when its status still matches the sweep's
// precondition, so concurrent sweeps cannot reach contradictory conclusions.
package store

import (
	"strings"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType determines the database type from a DSN string.
// Returns "postgres" for PostgreSQL connection strings and "sqlite" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store defines persistence operations over schedules, reminders, alerts,
// and the patient heartbeat projection.
type Store interface {
	// SaveSchedule inserts or updates a schedule definition.
	SaveSchedule(s models.Schedule) error
	// GetSchedule retrieves a schedule by ID. Returns (nil, nil) when absent.
	GetSchedule(id string) (*models.Schedule, error)
	// ListActiveSchedules retrieves all schedules with active = true.
	ListActiveSchedules() ([]models.Schedule, error)

	// CreateReminder inserts a new reminder instance.
	CreateReminder(r models.Reminder) error
	// GetReminder retrieves a reminder by ID. Returns (nil, nil) when absent.
	GetReminder(id string) (*models.Reminder, error)
	// ListReminders retrieves reminders filtered by patient and/or status.
	// Empty filter values match everything.
	ListReminders(patientID string, status models.ReminderStatus) ([]models.Reminder, error)
	// ReminderExistsForScheduleOn reports whether a reminder already exists
	// for the schedule with due_at within [dayStart, dayEnd). This is the
	// materializer's per-day dedup invariant.
	ReminderExistsForScheduleOn(scheduleID string, dayStart, dayEnd time.Time) (bool, error)
	// ListPendingRemindersDueBefore retrieves reminders with status pending
	// and due_at before the cutoff.
	ListPendingRemindersDueBefore(cutoff time.Time) ([]models.Reminder, error)
	// MarkReminderSent records the initial notification time without
	// changing status.
	MarkReminderSent(id string, at time.Time) error
	// IncrementRetryIfPending bumps retry_count by one, guarded on status
	// still pending and retry_count below max_retries. Reports whether the
	// update applied.
	IncrementRetryIfPending(id string, now time.Time) (bool, error)
	// MarkReminderMissedIfPending transitions a reminder to missed, guarded
	// on status still pending. Reports whether the update applied.
	MarkReminderMissedIfPending(id string, now time.Time) (bool, error)
	// CompleteReminder records patient acknowledgement, guarded on the
	// reminder not already being completed. Reports whether the update applied.
	CompleteReminder(id string, response string, now time.Time) (bool, error)
	// SnoozeReminderIfPending defers a pending reminder until the given
	// time. Reports whether the update applied.
	SnoozeReminderIfPending(id string, until, now time.Time) (bool, error)
	// RequeueDueSnoozedReminders flips snoozed reminders whose snoozed_until
	// has passed back to pending with due_at = snoozed_until. Returns the
	// number of requeued reminders.
	RequeueDueSnoozedReminders(now time.Time) (int, error)

	// CreateAlert inserts a new caregiver alert.
	CreateAlert(a models.Alert) error
	// ListAlerts retrieves alerts filtered by patient and/or status.
	// Empty filter values match everything.
	ListAlerts(patientID string, status models.AlertStatus) ([]models.Alert, error)
	// HasRecentUnacknowledgedAlert reports whether an active alert of the
	// same (patient, type, severity) was created at or after since. This is
	// the detectors' dedup window check.
	HasRecentUnacknowledgedAlert(patientID string, alertType models.AlertType, severity models.AlertSeverity, since time.Time) (bool, error)
	// AcknowledgeAlert transitions an active alert to acknowledged.
	// Reports whether the update applied.
	AcknowledgeAlert(id string, now time.Time) (bool, error)

	// SavePatient inserts or updates a patient projection row.
	SavePatient(p models.Patient) error
	// GetPatient retrieves a patient by ID. Returns (nil, nil) when absent.
	GetPatient(id string) (*models.Patient, error)
	// ListActivePatients retrieves all patients with active = true.
	ListActivePatients() ([]models.Patient, error)
	// RecordHeartbeat updates the patient's last-seen timestamps. When
	// heartbeat is true both last_heartbeat_at and last_active_at are set;
	// otherwise only last_active_at.
	RecordHeartbeat(patientID string, at time.Time, heartbeat bool) error

	// Close releases the underlying database resources.
	Close() error
}
