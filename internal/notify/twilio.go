package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SMSOpts holds configuration options for the Twilio SMS notifier.
type SMSOpts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// SMSOption defines a configuration option for the Twilio SMS notifier.
type SMSOption func(*SMSOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) SMSOption {
	return func(o *SMSOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) SMSOption {
	return func(o *SMSOpts) { o.AuthToken = token }
}

// WithFromNumber sets the Twilio sender number.
func WithFromNumber(number string) SMSOption {
	return func(o *SMSOpts) { o.FromNumber = number }
}

// SMSNotifier escalates alerts to the caregiver's phone over Twilio SMS.
type SMSNotifier struct {
	client *twilio.RestClient
	from   string
}

var _ AlertNotifier = (*SMSNotifier)(nil)

// NewSMSNotifier creates a Twilio-backed alert notifier.
func NewSMSNotifier(opts ...SMSOption) (*SMSNotifier, error) {
	var cfg SMSOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil, fmt.Errorf("twilio account SID, auth token, and from number must all be set")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	slog.Info("SMSNotifier initialized", "from", cfg.FromNumber)
	return &SMSNotifier{client: client, from: cfg.FromNumber}, nil
}

// SendAlert sends the alert as an SMS to the caregiver phone number.
func (s *SMSNotifier) SendAlert(ctx context.Context, n AlertNotification) error {
	if n.CaregiverPhone == "" {
		slog.Warn("SMSNotifier SendAlert skipped: no caregiver phone on record",
			"alertID", n.AlertID, "patientID", n.PatientID)
		return fmt.Errorf("alert %s has no caregiver phone", n.AlertID)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "[CareLoop %s] %s", strings.ToUpper(string(n.Severity)), n.Title)
	if n.PatientName != "" {
		fmt.Fprintf(&body, " (patient: %s)", n.PatientName)
	}
	if n.Description != "" {
		fmt.Fprintf(&body, "\n%s", n.Description)
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(n.CaregiverPhone)
	params.SetFrom(s.from)
	params.SetBody(body.String())

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("SMSNotifier SendAlert failed", "error", err, "alertID", n.AlertID)
		return fmt.Errorf("failed to send alert SMS: %w", err)
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("SMSNotifier SendAlert succeeded", "alertID", n.AlertID, "messageSID", sid)
	return nil
}
