// Package models defines the core data structures for CareLoop.
//
// It includes types for schedules, reminders, alerts, and patient state,
// which are shared across modules.
package models

import (
	"errors"
	"time"
)

// RecurrencePattern defines how often a schedule repeats.
type RecurrencePattern string

const (
	// RecurrenceDaily applies every day of the week.
	RecurrenceDaily RecurrencePattern = "daily"
	// RecurrenceWeekly applies on the weekdays listed in DaysOfWeek.
	RecurrenceWeekly RecurrencePattern = "weekly"
	// RecurrenceCustom applies on a caregiver-chosen weekday set.
	RecurrenceCustom RecurrencePattern = "custom"
)

// ScheduleType identifies the kind of care obligation. It is an open set;
// the engine only treats medication specially when escalating.
type ScheduleType string

const (
	// ScheduleTypeMedication is a medication obligation.
	ScheduleTypeMedication ScheduleType = "medication"
	// ScheduleTypeMeal is a meal obligation.
	ScheduleTypeMeal ScheduleType = "meal"
)

// ReminderStatus represents the lifecycle state of a reminder.
type ReminderStatus string

const (
	// ReminderStatusPending indicates the reminder awaits acknowledgement.
	ReminderStatusPending ReminderStatus = "pending"
	// ReminderStatusSent indicates the push notification was sent.
	ReminderStatusSent ReminderStatus = "sent"
	// ReminderStatusDelivered indicates the device confirmed delivery.
	ReminderStatusDelivered ReminderStatus = "delivered"
	// ReminderStatusCompleted indicates the patient acknowledged.
	ReminderStatusCompleted ReminderStatus = "completed"
	// ReminderStatusMissed indicates retries were exhausted or the timeout hit.
	ReminderStatusMissed ReminderStatus = "missed"
	// ReminderStatusSnoozed indicates the patient deferred the reminder.
	ReminderStatusSnoozed ReminderStatus = "snoozed"
)

// AlertType identifies which problem class an alert describes.
type AlertType string

const (
	// AlertTypeMissedReminder is raised when reminder retries are exhausted.
	AlertTypeMissedReminder AlertType = "missed_reminder"
	// AlertTypeMissedMedication is the medication-specific variant.
	AlertTypeMissedMedication AlertType = "missed_medication"
	// AlertTypeInactivity is raised by the inactivity detector.
	AlertTypeInactivity AlertType = "inactivity"
)

// AlertSeverity represents how urgent an alert is.
type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertStatus represents the caregiver-facing state of an alert.
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// Validation constants for input validation
const (
	// MaxTitleLength defines the maximum allowed length for titles.
	MaxTitleLength = 200
	// MaxMessageLength defines the maximum allowed length for reminder messages.
	MaxMessageLength = 1000
	// DefaultMaxRetries is the number of retry attempts before escalation.
	DefaultMaxRetries = 3
	// DefaultAdvanceMinutes is how far before the nominal time a reminder fires.
	DefaultAdvanceMinutes = 5
)

// Error variables for better error handling and testability
var (
	ErrEmptyPatientID        = errors.New("patient ID cannot be empty")
	ErrEmptyTitle            = errors.New("title cannot be empty")
	ErrTitleTooLong          = errors.New("title exceeds maximum length")
	ErrMessageTooLong        = errors.New("message exceeds maximum length")
	ErrInvalidRecurrence     = errors.New("invalid recurrence pattern")
	ErrInvalidScheduledTime  = errors.New("scheduled_time must be in HH:MM format")
	ErrInvalidWeekday        = errors.New("days_of_week values must be in range 0-6")
	ErrMissingWeekdays       = errors.New("days_of_week is required for weekly and custom recurrence")
	ErrNegativeAdvance       = errors.New("reminder_advance_minutes cannot be negative")
	ErrInvalidAlertSeverity  = errors.New("invalid alert severity")
	ErrInvalidAlertType      = errors.New("invalid alert type")
	ErrInvalidReminderStatus = errors.New("invalid reminder status")
)

// IsValidRecurrencePattern checks if the given recurrence pattern is supported.
func IsValidRecurrencePattern(p RecurrencePattern) bool {
	switch p {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceCustom:
		return true
	default:
		return false
	}
}

// IsValidReminderStatus checks if the given reminder status is valid.
func IsValidReminderStatus(s ReminderStatus) bool {
	switch s {
	case ReminderStatusPending, ReminderStatusSent, ReminderStatusDelivered,
		ReminderStatusCompleted, ReminderStatusMissed, ReminderStatusSnoozed:
		return true
	default:
		return false
	}
}

// IsValidAlertSeverity checks if the given alert severity is valid.
func IsValidAlertSeverity(s AlertSeverity) bool {
	switch s {
	case AlertSeverityLow, AlertSeverityMedium, AlertSeverityHigh, AlertSeverityCritical:
		return true
	default:
		return false
	}
}

// Schedule represents a recurring care obligation defined by a caregiver.
// The engine treats schedules as read-only: they are created and edited
// through the caregiver surface, and soft-disabled via Active.
type Schedule struct {
	ID                     string            `json:"id"`
	PatientID              string            `json:"patient_id"`
	Type                   ScheduleType      `json:"type"`
	Title                  string            `json:"title"`
	Description            string            `json:"description,omitempty"`
	ScheduledTime          string            `json:"scheduled_time"` // "HH:MM", server reference clock
	RecurrencePattern      RecurrencePattern `json:"recurrence_pattern"`
	DaysOfWeek             []int             `json:"days_of_week,omitempty"` // 0=Monday .. 6=Sunday
	ReminderAdvanceMinutes int               `json:"reminder_advance_minutes"`
	Active                 bool              `json:"active"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// Validate performs comprehensive validation on a Schedule structure.
func (s *Schedule) Validate() error {
	if s.PatientID == "" {
		return ErrEmptyPatientID
	}
	if s.Title == "" {
		return ErrEmptyTitle
	}
	if len(s.Title) > MaxTitleLength {
		return ErrTitleTooLong
	}
	if !IsValidRecurrencePattern(s.RecurrencePattern) {
		return ErrInvalidRecurrence
	}
	if _, err := time.Parse("15:04", s.ScheduledTime); err != nil {
		return ErrInvalidScheduledTime
	}
	if s.ReminderAdvanceMinutes < 0 {
		return ErrNegativeAdvance
	}
	if s.RecurrencePattern != RecurrenceDaily && len(s.DaysOfWeek) == 0 {
		return ErrMissingWeekdays
	}
	for _, d := range s.DaysOfWeek {
		if d < 0 || d > 6 {
			return ErrInvalidWeekday
		}
	}
	return nil
}

// TimeOfDay parses ScheduledTime into hour and minute components.
func (s *Schedule) TimeOfDay() (hour, minute int, err error) {
	t, err := time.Parse("15:04", s.ScheduledTime)
	if err != nil {
		return 0, 0, ErrInvalidScheduledTime
	}
	return t.Hour(), t.Minute(), nil
}

// Reminder represents one dated, stateful instance of a care obligation.
// At most one reminder exists per (schedule, calendar day).
type Reminder struct {
	ID              string         `json:"id"`
	PatientID       string         `json:"patient_id"`
	ScheduleID      string         `json:"schedule_id,omitempty"` // empty for ad-hoc reminders
	Title           string         `json:"title"`
	Message         string         `json:"message,omitempty"`
	DueAt           time.Time      `json:"due_at"`
	SentAt          *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt     *time.Time     `json:"delivered_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	SnoozedUntil    *time.Time     `json:"snoozed_until,omitempty"`
	Status          ReminderStatus `json:"status"`
	RetryCount      int            `json:"retry_count"`
	MaxRetries      int            `json:"max_retries"`
	PatientResponse string         `json:"patient_response,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// CanRetry reports whether the retry sweep may attempt this reminder again.
func (r *Reminder) CanRetry() bool {
	return r.Status == ReminderStatusPending && r.RetryCount < r.MaxRetries
}

// Alert represents a caregiver-facing record of an unresolved problem.
type Alert struct {
	ID                string        `json:"id"`
	PatientID         string        `json:"patient_id"`
	Type              AlertType     `json:"type"`
	Severity          AlertSeverity `json:"severity"`
	Title             string        `json:"title"`
	Description       string        `json:"description"`
	RecommendedAction string        `json:"recommended_action,omitempty"`
	TriggeredBy       string        `json:"triggered_by,omitempty"` // origin tag, e.g. "retry_sweep"
	Status            AlertStatus   `json:"status"`
	CreatedAt         time.Time     `json:"created_at"`
	AcknowledgedAt    *time.Time    `json:"acknowledged_at,omitempty"`
	ResolvedAt        *time.Time    `json:"resolved_at,omitempty"`
}

// Validate performs validation on an Alert structure.
func (a *Alert) Validate() error {
	if a.PatientID == "" {
		return ErrEmptyPatientID
	}
	if a.Title == "" {
		return ErrEmptyTitle
	}
	if !IsValidAlertSeverity(a.Severity) {
		return ErrInvalidAlertSeverity
	}
	switch a.Type {
	case AlertTypeMissedReminder, AlertTypeMissedMedication, AlertTypeInactivity:
		return nil
	default:
		return ErrInvalidAlertType
	}
}

// Patient is the engine's read-only projection of a monitored person:
// delivery target, emergency contact, and last-seen timestamps. The full
// patient record lives in the caregiver CRUD surface.
type Patient struct {
	ID                    string     `json:"id"`
	DisplayName           string     `json:"display_name"`
	DeviceToken           string     `json:"device_token,omitempty"`
	EmergencyContactName  string     `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone string     `json:"emergency_contact_phone,omitempty"`
	Active                bool       `json:"active"`
	LastHeartbeatAt       *time.Time `json:"last_heartbeat_at,omitempty"`
	LastActiveAt          *time.Time `json:"last_active_at,omitempty"`
}

// LastSeen returns the most recent activity timestamp for the patient,
// preferring the heartbeat. Returns nil when the patient has never checked in.
func (p *Patient) LastSeen() *time.Time {
	if p.LastHeartbeatAt != nil && (p.LastActiveAt == nil || p.LastHeartbeatAt.After(*p.LastActiveAt)) {
		return p.LastHeartbeatAt
	}
	return p.LastActiveAt
}
