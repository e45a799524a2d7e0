// Package store provides storage backends for CareLoop.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/CareLoop/CareLoop/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveSchedule(sch models.Schedule) error {
	daysJSON, err := encodeDaysOfWeek(sch.DaysOfWeek)
	if err != nil {
		slog.Error("SQLiteStore SaveSchedule encode failed", "error", err, "id", sch.ID)
		return err
	}
	query := `INSERT OR REPLACE INTO schedules (` + scheduleColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.Exec(query, sch.ID, sch.PatientID, string(sch.Type), sch.Title, nilIfEmpty(sch.Description),
		sch.ScheduledTime, string(sch.RecurrencePattern), daysJSON, sch.ReminderAdvanceMinutes, sch.Active,
		sch.CreatedAt, sch.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveSchedule failed", "error", err, "id", sch.ID)
		return fmt.Errorf("failed to save schedule %s: %w", sch.ID, err)
	}
	slog.Debug("SQLiteStore SaveSchedule succeeded", "id", sch.ID)
	return nil
}

func (s *SQLiteStore) GetSchedule(id string) (*models.Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sch, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSchedule failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get schedule %s: %w", id, err)
	}
	return &sch, nil
}

func (s *SQLiteStore) ListActiveSchedules() ([]models.Schedule, error) {
	rows, err := s.db.Query(`SELECT ` + scheduleColumns + ` FROM schedules WHERE active = 1 ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListActiveSchedules query failed", "error", err)
		return nil, fmt.Errorf("failed to query active schedules: %w", err)
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			slog.Error("SQLiteStore ListActiveSchedules scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		schedules = append(schedules, sch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schedule rows: %w", err)
	}
	slog.Debug("SQLiteStore ListActiveSchedules succeeded", "count", len(schedules))
	return schedules, nil
}

func (s *SQLiteStore) CreateReminder(r models.Reminder) error {
	query := `INSERT INTO reminders (` + reminderColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, r.ID, r.PatientID, nilIfEmpty(r.ScheduleID), r.Title, nilIfEmpty(r.Message),
		r.DueAt, nilIfZeroTime(r.SentAt), nilIfZeroTime(r.DeliveredAt), nilIfZeroTime(r.CompletedAt),
		nilIfZeroTime(r.SnoozedUntil), string(r.Status), r.RetryCount, r.MaxRetries,
		nilIfEmpty(r.PatientResponse), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateReminder failed", "error", err, "id", r.ID)
		return fmt.Errorf("failed to insert reminder %s: %w", r.ID, err)
	}
	slog.Debug("SQLiteStore CreateReminder succeeded", "id", r.ID, "dueAt", r.DueAt)
	return nil
}

func (s *SQLiteStore) GetReminder(id string) (*models.Reminder, error) {
	row := s.db.QueryRow(`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetReminder failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get reminder %s: %w", id, err)
	}
	return &r, nil
}

func (s *SQLiteStore) ListReminders(patientID string, status models.ReminderStatus) ([]models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE 1=1`
	args := []interface{}{}
	if patientID != "" {
		query += " AND patient_id = ?"
		args = append(args, patientID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY due_at"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListReminders query failed", "error", err)
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			slog.Error("SQLiteStore ListReminders scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan reminder row: %w", err)
		}
		reminders = append(reminders, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminder rows: %w", err)
	}
	slog.Debug("SQLiteStore ListReminders succeeded", "count", len(reminders))
	return reminders, nil
}

func (s *SQLiteStore) ReminderExistsForScheduleOn(scheduleID string, dayStart, dayEnd time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM reminders WHERE schedule_id = ? AND due_at >= ? AND due_at < ?)`,
		scheduleID, dayStart, dayEnd,
	).Scan(&exists)
	if err != nil {
		slog.Error("SQLiteStore ReminderExistsForScheduleOn failed", "error", err, "scheduleID", scheduleID)
		return false, fmt.Errorf("failed to check reminder existence for schedule %s: %w", scheduleID, err)
	}
	return exists, nil
}

func (s *SQLiteStore) ListPendingRemindersDueBefore(cutoff time.Time) ([]models.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderColumns+` FROM reminders WHERE status = 'pending' AND due_at < ? ORDER BY due_at`,
		cutoff,
	)
	if err != nil {
		slog.Error("SQLiteStore ListPendingRemindersDueBefore query failed", "error", err)
		return nil, fmt.Errorf("failed to query pending reminders: %w", err)
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			slog.Error("SQLiteStore ListPendingRemindersDueBefore scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan reminder row: %w", err)
		}
		reminders = append(reminders, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminder rows: %w", err)
	}
	return reminders, nil
}

func (s *SQLiteStore) MarkReminderSent(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE reminders SET sent_at = ?, updated_at = ? WHERE id = ?`, at, at, id)
	if err != nil {
		slog.Error("SQLiteStore MarkReminderSent failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark reminder %s sent: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) IncrementRetryIfPending(id string, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET retry_count = retry_count + 1, updated_at = ?
		 WHERE id = ? AND status = 'pending' AND retry_count < max_retries`,
		now, id,
	)
	if err != nil {
		slog.Error("SQLiteStore IncrementRetryIfPending failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to increment retry for reminder %s: %w", id, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) MarkReminderMissedIfPending(id string, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'missed', updated_at = ? WHERE id = ? AND status = 'pending'`,
		now, id,
	)
	if err != nil {
		slog.Error("SQLiteStore MarkReminderMissedIfPending failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to mark reminder %s missed: %w", id, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) CompleteReminder(id string, response string, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'completed', completed_at = ?, patient_response = COALESCE(?, patient_response), updated_at = ?
		 WHERE id = ? AND status != 'completed'`,
		now, nilIfEmpty(response), now, id,
	)
	if err != nil {
		slog.Error("SQLiteStore CompleteReminder failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to complete reminder %s: %w", id, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) SnoozeReminderIfPending(id string, until, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'snoozed', snoozed_until = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		until, now, id,
	)
	if err != nil {
		slog.Error("SQLiteStore SnoozeReminderIfPending failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to snooze reminder %s: %w", id, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) RequeueDueSnoozedReminders(now time.Time) (int, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'pending', due_at = snoozed_until, snoozed_until = NULL, updated_at = ?
		 WHERE status = 'snoozed' AND snoozed_until <= ?`,
		now, now,
	)
	if err != nil {
		slog.Error("SQLiteStore RequeueDueSnoozedReminders failed", "error", err)
		return 0, fmt.Errorf("failed to requeue snoozed reminders: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) CreateAlert(a models.Alert) error {
	query := `INSERT INTO alerts (` + alertColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, a.ID, a.PatientID, string(a.Type), string(a.Severity), a.Title,
		a.Description, nilIfEmpty(a.RecommendedAction), nilIfEmpty(a.TriggeredBy), string(a.Status),
		a.CreatedAt, nilIfZeroTime(a.AcknowledgedAt), nilIfZeroTime(a.ResolvedAt))
	if err != nil {
		slog.Error("SQLiteStore CreateAlert failed", "error", err, "id", a.ID)
		return fmt.Errorf("failed to insert alert %s: %w", a.ID, err)
	}
	slog.Debug("SQLiteStore CreateAlert succeeded", "id", a.ID, "severity", a.Severity)
	return nil
}

func (s *SQLiteStore) ListAlerts(patientID string, status models.AlertStatus) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	args := []interface{}{}
	if patientID != "" {
		query += " AND patient_id = ?"
		args = append(args, patientID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListAlerts query failed", "error", err)
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			slog.Error("SQLiteStore ListAlerts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert rows: %w", err)
	}
	slog.Debug("SQLiteStore ListAlerts succeeded", "count", len(alerts))
	return alerts, nil
}

func (s *SQLiteStore) HasRecentUnacknowledgedAlert(patientID string, alertType models.AlertType, severity models.AlertSeverity, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(
			SELECT 1 FROM alerts
			WHERE patient_id = ? AND type = ? AND severity = ? AND status = 'active' AND created_at >= ?
		)`,
		patientID, string(alertType), string(severity), since,
	).Scan(&exists)
	if err != nil {
		slog.Error("SQLiteStore HasRecentUnacknowledgedAlert failed", "error", err, "patientID", patientID)
		return false, fmt.Errorf("failed to check recent alerts for patient %s: %w", patientID, err)
	}
	return exists, nil
}

func (s *SQLiteStore) AcknowledgeAlert(id string, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE alerts SET status = 'acknowledged', acknowledged_at = ? WHERE id = ? AND status = 'active'`,
		now, id,
	)
	if err != nil {
		slog.Error("SQLiteStore AcknowledgeAlert failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to acknowledge alert %s: %w", id, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) SavePatient(p models.Patient) error {
	query := `INSERT OR REPLACE INTO patients (` + patientColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, p.ID, p.DisplayName, nilIfEmpty(p.DeviceToken),
		nilIfEmpty(p.EmergencyContactName), nilIfEmpty(p.EmergencyContactPhone), p.Active,
		nilIfZeroTime(p.LastHeartbeatAt), nilIfZeroTime(p.LastActiveAt))
	if err != nil {
		slog.Error("SQLiteStore SavePatient failed", "error", err, "id", p.ID)
		return fmt.Errorf("failed to save patient %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetPatient(id string) (*models.Patient, error) {
	row := s.db.QueryRow(`SELECT `+patientColumns+` FROM patients WHERE id = ?`, id)
	p, err := scanPatient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetPatient failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get patient %s: %w", id, err)
	}
	return &p, nil
}

func (s *SQLiteStore) ListActivePatients() ([]models.Patient, error) {
	rows, err := s.db.Query(`SELECT ` + patientColumns + ` FROM patients WHERE active = 1 ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListActivePatients query failed", "error", err)
		return nil, fmt.Errorf("failed to query active patients: %w", err)
	}
	defer rows.Close()

	var patients []models.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			slog.Error("SQLiteStore ListActivePatients scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan patient row: %w", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patient rows: %w", err)
	}
	slog.Debug("SQLiteStore ListActivePatients succeeded", "count", len(patients))
	return patients, nil
}

func (s *SQLiteStore) RecordHeartbeat(patientID string, at time.Time, heartbeat bool) error {
	var err error
	if heartbeat {
		_, err = s.db.Exec(`UPDATE patients SET last_heartbeat_at = ?, last_active_at = ? WHERE id = ?`, at, at, patientID)
	} else {
		_, err = s.db.Exec(`UPDATE patients SET last_active_at = ? WHERE id = ?`, at, patientID)
	}
	if err != nil {
		slog.Error("SQLiteStore RecordHeartbeat failed", "error", err, "patientID", patientID)
		return fmt.Errorf("failed to record heartbeat for patient %s: %w", patientID, err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
