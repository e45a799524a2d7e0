// Package notify delivers engine notifications: reminder pushes to the
// patient device and alert escalations to the caregiver.
//
// Delivery is best effort. Senders return an error for logging, but callers
// never let a delivery failure block persistence or a sweep.
package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
)

// ReminderNotification is the payload pushed to the patient device.
type ReminderNotification struct {
	ReminderID  string
	PatientID   string
	DeviceToken string
	Title       string
	// SpeakText is the sentence the device voice assistant reads aloud.
	SpeakText    string
	ScheduleType models.ScheduleType
	DueAt        time.Time
	IsRetry      bool
	RetryCount   int
}

// Data flattens the notification into the string map carried in the push
// message payload.
func (n ReminderNotification) Data() map[string]string {
	return map[string]string{
		"type":          "reminder",
		"reminder_id":   n.ReminderID,
		"speak_text":    n.SpeakText,
		"reminder_type": string(n.ScheduleType),
		"isRetry":       strconv.FormatBool(n.IsRetry),
		"retryCount":    strconv.Itoa(n.RetryCount),
	}
}

// AlertNotification is the payload escalated to the caregiver.
type AlertNotification struct {
	AlertID        string
	PatientID      string
	PatientName    string
	Severity       models.AlertSeverity
	Title          string
	Description    string
	CaregiverPhone string
}

// ReminderNotifier sends reminder notifications to the patient device.
type ReminderNotifier interface {
	SendReminder(ctx context.Context, n ReminderNotification) error
}

// AlertNotifier escalates alerts to the caregiver.
type AlertNotifier interface {
	SendAlert(ctx context.Context, n AlertNotification) error
}
