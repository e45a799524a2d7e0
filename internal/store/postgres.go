// Package store provides storage backends for CareLoop.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/CareLoop/CareLoop/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveSchedule stores or updates a schedule definition.
func (s *PostgresStore) SaveSchedule(sch models.Schedule) error {
	daysJSON, err := encodeDaysOfWeek(sch.DaysOfWeek)
	if err != nil {
		slog.Error("PostgresStore SaveSchedule encode failed", "error", err, "id", sch.ID)
		return err
	}
	query := `
		INSERT INTO schedules (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id)
		DO UPDATE SET
			patient_id = EXCLUDED.patient_id,
			type = EXCLUDED.type,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			scheduled_time = EXCLUDED.scheduled_time,
			recurrence_pattern = EXCLUDED.recurrence_pattern,
			days_of_week = EXCLUDED.days_of_week,
			reminder_advance_minutes = EXCLUDED.reminder_advance_minutes,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`

	_, err = s.db.Exec(query, sch.ID, sch.PatientID, string(sch.Type), sch.Title, nilIfEmpty(sch.Description),
		sch.ScheduledTime, string(sch.RecurrencePattern), daysJSON, sch.ReminderAdvanceMinutes, sch.Active,
		sch.CreatedAt, sch.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSchedule failed", "error", err, "id", sch.ID)
		return fmt.Errorf("failed to save schedule %s: %w", sch.ID, err)
	}
	slog.Debug("PostgresStore SaveSchedule succeeded", "id", sch.ID, "patientID", sch.PatientID)
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *PostgresStore) GetSchedule(id string) (*models.Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
	sch, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetSchedule not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSchedule failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get schedule %s: %w", id, err)
	}
	return &sch, nil
}

// ListActiveSchedules retrieves all schedules with active = true.
func (s *PostgresStore) ListActiveSchedules() ([]models.Schedule, error) {
	rows, err := s.db.Query(`SELECT ` + scheduleColumns + ` FROM schedules WHERE active = TRUE ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListActiveSchedules query failed", "error", err)
		return nil, fmt.Errorf("failed to query active schedules: %w", err)
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			slog.Error("PostgresStore ListActiveSchedules scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		schedules = append(schedules, sch)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListActiveSchedules rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate schedule rows: %w", err)
	}
	slog.Debug("PostgresStore ListActiveSchedules succeeded", "count", len(schedules))
	return schedules, nil
}

// CreateReminder inserts a new reminder instance.
func (s *PostgresStore) CreateReminder(r models.Reminder) error {
	query := `
		INSERT INTO reminders (` + reminderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := s.db.Exec(query, r.ID, r.PatientID, nilIfEmpty(r.ScheduleID), r.Title, nilIfEmpty(r.Message),
		r.DueAt, nilIfZeroTime(r.SentAt), nilIfZeroTime(r.DeliveredAt), nilIfZeroTime(r.CompletedAt),
		nilIfZeroTime(r.SnoozedUntil), string(r.Status), r.RetryCount, r.MaxRetries,
		nilIfEmpty(r.PatientResponse), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateReminder failed", "error", err, "id", r.ID)
		return fmt.Errorf("failed to insert reminder %s: %w", r.ID, err)
	}
	slog.Debug("PostgresStore CreateReminder succeeded", "id", r.ID, "patientID", r.PatientID, "dueAt", r.DueAt)
	return nil
}

// GetReminder retrieves a reminder by ID.
func (s *PostgresStore) GetReminder(id string) (*models.Reminder, error) {
	row := s.db.QueryRow(`SELECT `+reminderColumns+` FROM reminders WHERE id = $1`, id)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetReminder not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetReminder failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get reminder %s: %w", id, err)
	}
	return &r, nil
}

// ListReminders retrieves reminders filtered by patient and/or status.
func (s *PostgresStore) ListReminders(patientID string, status models.ReminderStatus) ([]models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE 1=1`
	args := []interface{}{}
	if patientID != "" {
		args = append(args, patientID)
		query += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	if status != "" {
		args = append(args, string(status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY due_at"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore ListReminders query failed", "error", err)
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			slog.Error("PostgresStore ListReminders scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan reminder row: %w", err)
		}
		reminders = append(reminders, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListReminders rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate reminder rows: %w", err)
	}
	slog.Debug("PostgresStore ListReminders succeeded", "count", len(reminders))
	return reminders, nil
}

// ReminderExistsForScheduleOn reports whether a reminder exists for the
// schedule with due_at within [dayStart, dayEnd).
func (s *PostgresStore) ReminderExistsForScheduleOn(scheduleID string, dayStart, dayEnd time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM reminders WHERE schedule_id = $1 AND due_at >= $2 AND due_at < $3)`,
		scheduleID, dayStart, dayEnd,
	).Scan(&exists)
	if err != nil {
		slog.Error("PostgresStore ReminderExistsForScheduleOn failed", "error", err, "scheduleID", scheduleID)
		return false, fmt.Errorf("failed to check reminder existence for schedule %s: %w", scheduleID, err)
	}
	return exists, nil
}

// ListPendingRemindersDueBefore retrieves pending reminders past the cutoff.
func (s *PostgresStore) ListPendingRemindersDueBefore(cutoff time.Time) ([]models.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderColumns+` FROM reminders WHERE status = 'pending' AND due_at < $1 ORDER BY due_at`,
		cutoff,
	)
	if err != nil {
		slog.Error("PostgresStore ListPendingRemindersDueBefore query failed", "error", err)
		return nil, fmt.Errorf("failed to query pending reminders: %w", err)
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			slog.Error("PostgresStore ListPendingRemindersDueBefore scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan reminder row: %w", err)
		}
		reminders = append(reminders, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListPendingRemindersDueBefore rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate reminder rows: %w", err)
	}
	slog.Debug("PostgresStore ListPendingRemindersDueBefore succeeded", "count", len(reminders), "cutoff", cutoff)
	return reminders, nil
}

// MarkReminderSent records the initial notification time.
func (s *PostgresStore) MarkReminderSent(id string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE reminders SET sent_at = $1, updated_at = $1 WHERE id = $2`,
		at, id,
	)
	if err != nil {
		slog.Error("PostgresStore MarkReminderSent failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark reminder %s sent: %w", id, err)
	}
	slog.Debug("PostgresStore MarkReminderSent succeeded", "id", id)
	return nil
}

// IncrementRetryIfPending bumps retry_count guarded on the pending precondition.
func (s *PostgresStore) IncrementRetryIfPending(id string, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET retry_count = retry_count + 1, updated_at = $1
		 WHERE id = $2 AND status = 'pending' AND retry_count < max_retries`,
		now, id,
	)
	if err != nil {
		slog.Error("PostgresStore IncrementRetryIfPending failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to increment retry for reminder %s: %w", id, err)
	}
	n, _ := result.RowsAffected()
	slog.Debug("PostgresStore IncrementRetryIfPending", "id", id, "applied", n > 0)
	return n > 0, nil
}

// MarkReminderMissedIfPending transitions to missed guarded on the pending precondition.
func (s *PostgresStore) MarkReminderMissedIfPending(id string, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'missed', updated_at = $1 WHERE id = $2 AND status = 'pending'`,
		now, id,
	)
	if err != nil {
		slog.Error("PostgresStore MarkReminderMissedIfPending failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to mark reminder %s missed: %w", id, err)
	}
	n, _ := result.RowsAffected()
	slog.Debug("PostgresStore MarkReminderMissedIfPending", "id", id, "applied", n > 0)
	return n > 0, nil
}

// CompleteReminder records patient acknowledgement.
func (s *PostgresStore) CompleteReminder(id string, response string, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'completed', completed_at = $1, patient_response = COALESCE($2, patient_response), updated_at = $1
		 WHERE id = $3 AND status != 'completed'`,
		now, nilIfEmpty(response), id,
	)
	if err != nil {
		slog.Error("PostgresStore CompleteReminder failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to complete reminder %s: %w", id, err)
	}
	n, _ := result.RowsAffected()
	slog.Debug("PostgresStore CompleteReminder", "id", id, "applied", n > 0)
	return n > 0, nil
}

// SnoozeReminderIfPending defers a pending reminder until the given time.
func (s *PostgresStore) SnoozeReminderIfPending(id string, until, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'snoozed', snoozed_until = $1, updated_at = $2
		 WHERE id = $3 AND status = 'pending'`,
		until, now, id,
	)
	if err != nil {
		slog.Error("PostgresStore SnoozeReminderIfPending failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to snooze reminder %s: %w", id, err)
	}
	n, _ := result.RowsAffected()
	slog.Debug("PostgresStore SnoozeReminderIfPending", "id", id, "until", until, "applied", n > 0)
	return n > 0, nil
}

// RequeueDueSnoozedReminders flips elapsed snoozes back to pending.
func (s *PostgresStore) RequeueDueSnoozedReminders(now time.Time) (int, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'pending', due_at = snoozed_until, snoozed_until = NULL, updated_at = $1
		 WHERE status = 'snoozed' AND snoozed_until <= $1`,
		now,
	)
	if err != nil {
		slog.Error("PostgresStore RequeueDueSnoozedReminders failed", "error", err)
		return 0, fmt.Errorf("failed to requeue snoozed reminders: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Debug("PostgresStore RequeueDueSnoozedReminders succeeded", "count", n)
	}
	return int(n), nil
}

// CreateAlert inserts a new caregiver alert.
func (s *PostgresStore) CreateAlert(a models.Alert) error {
	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.Exec(query, a.ID, a.PatientID, string(a.Type), string(a.Severity), a.Title,
		a.Description, nilIfEmpty(a.RecommendedAction), nilIfEmpty(a.TriggeredBy), string(a.Status),
		a.CreatedAt, nilIfZeroTime(a.AcknowledgedAt), nilIfZeroTime(a.ResolvedAt))
	if err != nil {
		slog.Error("PostgresStore CreateAlert failed", "error", err, "id", a.ID)
		return fmt.Errorf("failed to insert alert %s: %w", a.ID, err)
	}
	slog.Debug("PostgresStore CreateAlert succeeded", "id", a.ID, "patientID", a.PatientID, "severity", a.Severity)
	return nil
}

// ListAlerts retrieves alerts filtered by patient and/or status.
func (s *PostgresStore) ListAlerts(patientID string, status models.AlertStatus) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	args := []interface{}{}
	if patientID != "" {
		args = append(args, patientID)
		query += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	if status != "" {
		args = append(args, string(status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore ListAlerts query failed", "error", err)
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			slog.Error("PostgresStore ListAlerts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListAlerts rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate alert rows: %w", err)
	}
	slog.Debug("PostgresStore ListAlerts succeeded", "count", len(alerts))
	return alerts, nil
}

// HasRecentUnacknowledgedAlert implements the detectors' dedup window check.
func (s *PostgresStore) HasRecentUnacknowledgedAlert(patientID string, alertType models.AlertType, severity models.AlertSeverity, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(
			SELECT 1 FROM alerts
			WHERE patient_id = $1 AND type = $2 AND severity = $3 AND status = 'active' AND created_at >= $4
		)`,
		patientID, string(alertType), string(severity), since,
	).Scan(&exists)
	if err != nil {
		slog.Error("PostgresStore HasRecentUnacknowledgedAlert failed", "error", err, "patientID", patientID)
		return false, fmt.Errorf("failed to check recent alerts for patient %s: %w", patientID, err)
	}
	return exists, nil
}

// AcknowledgeAlert transitions an active alert to acknowledged.
func (s *PostgresStore) AcknowledgeAlert(id string, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE alerts SET status = 'acknowledged', acknowledged_at = $1 WHERE id = $2 AND status = 'active'`,
		now, id,
	)
	if err != nil {
		slog.Error("PostgresStore AcknowledgeAlert failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to acknowledge alert %s: %w", id, err)
	}
	n, _ := result.RowsAffected()
	slog.Debug("PostgresStore AcknowledgeAlert", "id", id, "applied", n > 0)
	return n > 0, nil
}

// SavePatient stores or updates a patient projection row.
func (s *PostgresStore) SavePatient(p models.Patient) error {
	query := `
		INSERT INTO patients (` + patientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id)
		DO UPDATE SET
			display_name = EXCLUDED.display_name,
			device_token = EXCLUDED.device_token,
			emergency_contact_name = EXCLUDED.emergency_contact_name,
			emergency_contact_phone = EXCLUDED.emergency_contact_phone,
			active = EXCLUDED.active,
			last_heartbeat_at = EXCLUDED.last_heartbeat_at,
			last_active_at = EXCLUDED.last_active_at`

	_, err := s.db.Exec(query, p.ID, p.DisplayName, nilIfEmpty(p.DeviceToken),
		nilIfEmpty(p.EmergencyContactName), nilIfEmpty(p.EmergencyContactPhone), p.Active,
		nilIfZeroTime(p.LastHeartbeatAt), nilIfZeroTime(p.LastActiveAt))
	if err != nil {
		slog.Error("PostgresStore SavePatient failed", "error", err, "id", p.ID)
		return fmt.Errorf("failed to save patient %s: %w", p.ID, err)
	}
	slog.Debug("PostgresStore SavePatient succeeded", "id", p.ID)
	return nil
}

// GetPatient retrieves a patient by ID.
func (s *PostgresStore) GetPatient(id string) (*models.Patient, error) {
	row := s.db.QueryRow(`SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	p, err := scanPatient(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetPatient not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetPatient failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get patient %s: %w", id, err)
	}
	return &p, nil
}

// ListActivePatients retrieves all patients with active = true.
func (s *PostgresStore) ListActivePatients() ([]models.Patient, error) {
	rows, err := s.db.Query(`SELECT ` + patientColumns + ` FROM patients WHERE active = TRUE ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListActivePatients query failed", "error", err)
		return nil, fmt.Errorf("failed to query active patients: %w", err)
	}
	defer rows.Close()

	var patients []models.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			slog.Error("PostgresStore ListActivePatients scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan patient row: %w", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListActivePatients rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate patient rows: %w", err)
	}
	slog.Debug("PostgresStore ListActivePatients succeeded", "count", len(patients))
	return patients, nil
}

// RecordHeartbeat updates the patient's last-seen timestamps.
func (s *PostgresStore) RecordHeartbeat(patientID string, at time.Time, heartbeat bool) error {
	var err error
	if heartbeat {
		_, err = s.db.Exec(
			`UPDATE patients SET last_heartbeat_at = $1, last_active_at = $1 WHERE id = $2`,
			at, patientID,
		)
	} else {
		_, err = s.db.Exec(
			`UPDATE patients SET last_active_at = $1 WHERE id = $2`,
			at, patientID,
		)
	}
	if err != nil {
		slog.Error("PostgresStore RecordHeartbeat failed", "error", err, "patientID", patientID)
		return fmt.Errorf("failed to record heartbeat for patient %s: %w", patientID, err)
	}
	slog.Debug("PostgresStore RecordHeartbeat succeeded", "patientID", patientID, "heartbeat", heartbeat)
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
