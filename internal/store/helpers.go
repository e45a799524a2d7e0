package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
)

// rowScanner abstracts over *sql.Row and *sql.Rows so the scan helpers can
// serve both single-row and multi-row queries.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZeroTime returns nil if t is nil, otherwise the dereferenced time.
func nilIfZeroTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// encodeDaysOfWeek serializes a weekday set as JSON for storage.
func encodeDaysOfWeek(days []int) (interface{}, error) {
	if len(days) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(days)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize days_of_week: %w", err)
	}
	return string(b), nil
}

// decodeDaysOfWeek deserializes a stored weekday set.
func decodeDaysOfWeek(raw sql.NullString) ([]int, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var days []int
	if err := json.Unmarshal([]byte(raw.String), &days); err != nil {
		return nil, fmt.Errorf("failed to deserialize days_of_week: %w", err)
	}
	return days, nil
}

// scanSchedule scans a schedule row in the column order of scheduleColumns.
func scanSchedule(row rowScanner) (models.Schedule, error) {
	var s models.Schedule
	var description, daysJSON sql.NullString
	err := row.Scan(
		&s.ID, &s.PatientID, (*string)(&s.Type), &s.Title, &description, &s.ScheduledTime,
		(*string)(&s.RecurrencePattern), &daysJSON, &s.ReminderAdvanceMinutes, &s.Active,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return s, err
	}
	s.Description = description.String
	s.DaysOfWeek, err = decodeDaysOfWeek(daysJSON)
	if err != nil {
		return s, err
	}
	return s, nil
}

// scanReminder scans a reminder row in the column order of reminderColumns.
func scanReminder(row rowScanner) (models.Reminder, error) {
	var r models.Reminder
	var scheduleID, message, response sql.NullString
	var sentAt, deliveredAt, completedAt, snoozedUntil sql.NullTime
	err := row.Scan(
		&r.ID, &r.PatientID, &scheduleID, &r.Title, &message, &r.DueAt,
		&sentAt, &deliveredAt, &completedAt, &snoozedUntil,
		(*string)(&r.Status), &r.RetryCount, &r.MaxRetries, &response,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return r, err
	}
	r.ScheduleID = scheduleID.String
	r.Message = message.String
	r.PatientResponse = response.String
	if sentAt.Valid {
		r.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		r.DeliveredAt = &deliveredAt.Time
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	if snoozedUntil.Valid {
		r.SnoozedUntil = &snoozedUntil.Time
	}
	return r, nil
}

// scanAlert scans an alert row in the column order of alertColumns.
func scanAlert(row rowScanner) (models.Alert, error) {
	var a models.Alert
	var action, triggeredBy sql.NullString
	var acknowledgedAt, resolvedAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.PatientID, (*string)(&a.Type), (*string)(&a.Severity), &a.Title,
		&a.Description, &action, &triggeredBy, (*string)(&a.Status),
		&a.CreatedAt, &acknowledgedAt, &resolvedAt,
	)
	if err != nil {
		return a, err
	}
	a.RecommendedAction = action.String
	a.TriggeredBy = triggeredBy.String
	if acknowledgedAt.Valid {
		a.AcknowledgedAt = &acknowledgedAt.Time
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	return a, nil
}

// scanPatient scans a patient row in the column order of patientColumns.
func scanPatient(row rowScanner) (models.Patient, error) {
	var p models.Patient
	var token, contactName, contactPhone sql.NullString
	var heartbeatAt, activeAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.DisplayName, &token, &contactName, &contactPhone, &p.Active,
		&heartbeatAt, &activeAt,
	)
	if err != nil {
		return p, err
	}
	p.DeviceToken = token.String
	p.EmergencyContactName = contactName.String
	p.EmergencyContactPhone = contactPhone.String
	if heartbeatAt.Valid {
		p.LastHeartbeatAt = &heartbeatAt.Time
	}
	if activeAt.Valid {
		p.LastActiveAt = &activeAt.Time
	}
	return p, nil
}

// Shared column lists keep SELECTs and scan helpers in one order.
const (
	scheduleColumns = `id, patient_id, type, title, description, scheduled_time, recurrence_pattern, days_of_week, reminder_advance_minutes, active, created_at, updated_at`
	reminderColumns = `id, patient_id, schedule_id, title, message, due_at, sent_at, delivered_at, completed_at, snoozed_until, status, retry_count, max_retries, patient_response, created_at, updated_at`
	alertColumns    = `id, patient_id, type, severity, title, description, recommended_action, triggered_by, status, created_at, acknowledged_at, resolved_at`
	patientColumns  = `id, display_name, device_token, emergency_contact_name, emergency_contact_phone, active, last_heartbeat_at, last_active_at`
)
