package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/notify"
	"github.com/CareLoop/CareLoop/internal/store"
	"github.com/CareLoop/CareLoop/internal/util"
)

// InactivityDetector raises tiered caregiver alerts when an active patient
// has not been seen for too long. Tiers at 2h, 4h, and 6h map to medium,
// high, and critical severity; only the highest matching tier fires, and a
// 24h window deduplicates against unacknowledged alerts of the same
// severity. Critical alerts carry the emergency contact and are escalated
// over SMS when an alert notifier is configured.
type InactivityDetector struct {
	store            store.Store
	alertNotifier    notify.AlertNotifier
	clock            Clock
	alertDedupWindow time.Duration
}

// InactivityResult summarizes one detector run.
type InactivityResult struct {
	Evaluated int
	Alerted   int
	Errors    []error
}

// NewInactivityDetector creates a detector over the given store. The alert
// notifier may be nil, disabling SMS escalation.
func NewInactivityDetector(st store.Store, an notify.AlertNotifier, opts ...Option) *InactivityDetector {
	cfg := buildOpts(opts)
	return &InactivityDetector{
		store:            st,
		alertNotifier:    an,
		clock:            cfg.Clock,
		alertDedupWindow: cfg.AlertDedupWindow,
	}
}

// Run executes one detector pass over all active patients.
func (d *InactivityDetector) Run(ctx context.Context) InactivityResult {
	var res InactivityResult
	now := d.clock.Now()

	patients, err := d.store.ListActivePatients()
	if err != nil {
		slog.Error("InactivityDetector.Run failed to list patients", "error", err)
		res.Errors = append(res.Errors, fmt.Errorf("failed to list active patients: %w", err))
		return res
	}

	for _, p := range patients {
		res.Evaluated++
		alerted, err := d.checkPatient(ctx, p, now)
		if err != nil {
			slog.Error("InactivityDetector.Run patient failed", "error", err, "patientID", p.ID)
			res.Errors = append(res.Errors, fmt.Errorf("patient %s: %w", p.ID, err))
			continue
		}
		if alerted {
			res.Alerted++
		}
	}

	slog.Debug("InactivityDetector.Run completed", "evaluated", res.Evaluated,
		"alerted", res.Alerted, "errors", len(res.Errors))
	return res
}

func (d *InactivityDetector) checkPatient(ctx context.Context, p models.Patient, now time.Time) (bool, error) {
	lastSeen := p.LastSeen()
	if lastSeen == nil {
		// Never checked in; there is no baseline to measure inactivity from.
		slog.Debug("InactivityDetector skipping patient with no activity history", "patientID", p.ID)
		return false, nil
	}

	gap := now.Sub(*lastSeen)
	severity, ok := severityForGap(gap)
	if !ok {
		return false, nil
	}

	recent, err := d.store.HasRecentUnacknowledgedAlert(p.ID, models.AlertTypeInactivity,
		severity, now.Add(-d.alertDedupWindow))
	if err != nil {
		return false, fmt.Errorf("failed to check recent alerts: %w", err)
	}
	if recent {
		return false, nil
	}

	alert := d.buildAlert(p, gap, severity, *lastSeen, now)
	if err := d.store.CreateAlert(alert); err != nil {
		return false, fmt.Errorf("failed to persist alert: %w", err)
	}
	slog.Info("InactivityDetector created alert", "alertID", alert.ID,
		"patientID", p.ID, "severity", severity, "gap", gap.Round(time.Minute))

	if severity == models.AlertSeverityCritical && d.alertNotifier != nil {
		n := notify.AlertNotification{
			AlertID:        alert.ID,
			PatientID:      p.ID,
			PatientName:    p.DisplayName,
			Severity:       severity,
			Title:          alert.Title,
			Description:    alert.Description,
			CaregiverPhone: p.EmergencyContactPhone,
		}
		if err := d.alertNotifier.SendAlert(ctx, n); err != nil {
			slog.Warn("InactivityDetector SMS escalation failed", "error", err, "alertID", alert.ID)
		}
	}
	return true, nil
}

// severityForGap maps an inactivity gap onto the highest matching tier.
func severityForGap(gap time.Duration) (models.AlertSeverity, bool) {
	switch {
	case gap >= InactivityCriticalAfter:
		return models.AlertSeverityCritical, true
	case gap >= InactivityHighAfter:
		return models.AlertSeverityHigh, true
	case gap >= InactivityMediumAfter:
		return models.AlertSeverityMedium, true
	default:
		return "", false
	}
}

func (d *InactivityDetector) buildAlert(p models.Patient, gap time.Duration, severity models.AlertSeverity, lastSeen, now time.Time) models.Alert {
	hours := int(gap.Hours())
	alert := models.Alert{
		ID:        util.GenerateAlertID(),
		PatientID: p.ID,
		Type:      models.AlertTypeInactivity,
		Severity:  severity,
		Title:     fmt.Sprintf("No activity from %s for %d hours", p.DisplayName, hours),
		Description: fmt.Sprintf("%s was last seen at %s.", p.DisplayName,
			lastSeen.Format("2006-01-02 15:04")),
		RecommendedAction: "Try to reach the patient.",
		TriggeredBy:       "inactivity_detector",
		Status:            models.AlertStatusActive,
		CreatedAt:         now,
	}
	if severity == models.AlertSeverityCritical && p.EmergencyContactName != "" {
		alert.Description = fmt.Sprintf("%s Emergency contact: %s (%s).",
			alert.Description, p.EmergencyContactName, p.EmergencyContactPhone)
		alert.RecommendedAction = fmt.Sprintf("Call the emergency contact %s at %s immediately.",
			p.EmergencyContactName, p.EmergencyContactPhone)
	}
	return alert
}
