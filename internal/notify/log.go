package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes notifications to the log instead of delivering them.
// It is the fallback when FCM or Twilio credentials are not configured, and
// keeps the engine runnable in development.
type LogNotifier struct{}

var (
	_ ReminderNotifier = LogNotifier{}
	_ AlertNotifier    = LogNotifier{}
)

func (LogNotifier) SendReminder(ctx context.Context, n ReminderNotification) error {
	slog.Info("LogNotifier reminder", "reminderID", n.ReminderID, "patientID", n.PatientID,
		"title", n.Title, "isRetry", n.IsRetry, "retryCount", n.RetryCount)
	return nil
}

func (LogNotifier) SendAlert(ctx context.Context, n AlertNotification) error {
	slog.Info("LogNotifier alert", "alertID", n.AlertID, "patientID", n.PatientID,
		"severity", n.Severity, "title", n.Title)
	return nil
}
