package notify

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMOpts holds configuration options for the FCM notifier.
type FCMOpts struct {
	CredentialsFile string
	CredentialsJSON []byte
}

// FCMOption defines a configuration option for the FCM notifier.
type FCMOption func(*FCMOpts)

// WithCredentialsFile sets the path to the Firebase service account file.
func WithCredentialsFile(path string) FCMOption {
	return func(o *FCMOpts) { o.CredentialsFile = path }
}

// WithCredentialsJSON sets the Firebase service account JSON directly.
func WithCredentialsJSON(data []byte) FCMOption {
	return func(o *FCMOpts) { o.CredentialsJSON = data }
}

// FCMNotifier sends reminder pushes through Firebase Cloud Messaging.
type FCMNotifier struct {
	client *messaging.Client
}

var _ ReminderNotifier = (*FCMNotifier)(nil)

// NewFCMNotifier creates an FCM-backed reminder notifier.
func NewFCMNotifier(ctx context.Context, opts ...FCMOption) (*FCMNotifier, error) {
	var cfg FCMOpts
	for _, opt := range opts {
		opt(&cfg)
	}

	var clientOpts []option.ClientOption
	switch {
	case len(cfg.CredentialsJSON) > 0:
		clientOpts = append(clientOpts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	case cfg.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	default:
		return nil, fmt.Errorf("firebase credentials not set")
	}

	app, err := firebase.NewApp(ctx, nil, clientOpts...)
	if err != nil {
		slog.Error("FCMNotifier failed to initialize Firebase app", "error", err)
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		slog.Error("FCMNotifier failed to create messaging client", "error", err)
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}
	slog.Info("FCMNotifier initialized")
	return &FCMNotifier{client: client}, nil
}

// SendReminder pushes a reminder notification to the patient device.
func (f *FCMNotifier) SendReminder(ctx context.Context, n ReminderNotification) error {
	if n.DeviceToken == "" {
		slog.Warn("FCMNotifier SendReminder skipped: patient has no device token",
			"reminderID", n.ReminderID, "patientID", n.PatientID)
		return fmt.Errorf("patient %s has no device token", n.PatientID)
	}

	msg := &messaging.Message{
		Token: n.DeviceToken,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.SpeakText,
		},
		Data: n.Data(),
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	id, err := f.client.Send(ctx, msg)
	if err != nil {
		slog.Error("FCMNotifier SendReminder failed", "error", err,
			"reminderID", n.ReminderID, "patientID", n.PatientID)
		return fmt.Errorf("failed to send reminder push: %w", err)
	}
	slog.Debug("FCMNotifier SendReminder succeeded", "reminderID", n.ReminderID,
		"messageID", id, "isRetry", n.IsRetry, "retryCount", n.RetryCount)
	return nil
}
