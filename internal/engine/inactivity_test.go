package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/store"
)

func seedPatient(t *testing.T, st store.Store, lastSeen time.Time) {
	t.Helper()
	err := st.SavePatient(models.Patient{
		ID:                    "pat_1",
		DisplayName:           "Rose",
		EmergencyContactName:  "Sam",
		EmergencyContactPhone: "+15550001111",
		Active:                true,
		LastHeartbeatAt:       &lastSeen,
	})
	if err != nil {
		t.Fatalf("SavePatient failed: %v", err)
	}
}

func TestInactivityDetectorTiers(t *testing.T) {
	tests := []struct {
		name         string
		gap          time.Duration
		wantSeverity models.AlertSeverity
		wantAlert    bool
	}{
		{"one hour is fine", time.Hour, "", false},
		{"just under two hours", 2*time.Hour - time.Minute, "", false},
		{"three hours is medium", 3 * time.Hour, models.AlertSeverityMedium, true},
		{"four and a half hours is high", 4*time.Hour + 30*time.Minute, models.AlertSeverityHigh, true},
		{"six and a half hours is critical", 6*time.Hour + 30*time.Minute, models.AlertSeverityCritical, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewInMemoryStore()
			now := mondayMorning.Add(12 * time.Hour)
			d := NewInactivityDetector(st, &recordingNotifier{}, WithClock(newFakeClock(now)))
			seedPatient(t, st, now.Add(-tt.gap))

			res := d.Run(context.Background())
			alerts, _ := st.ListAlerts("pat_1", "")
			if !tt.wantAlert {
				if res.Alerted != 0 || len(alerts) != 0 {
					t.Fatalf("gap %v raised an alert, want none", tt.gap)
				}
				return
			}
			if res.Alerted != 1 || len(alerts) != 1 {
				t.Fatalf("gap %v: alerted = %d, alerts = %d; want 1, 1", tt.gap, res.Alerted, len(alerts))
			}
			if alerts[0].Severity != tt.wantSeverity {
				t.Errorf("severity = %s, want %s", alerts[0].Severity, tt.wantSeverity)
			}
			if alerts[0].Type != models.AlertTypeInactivity {
				t.Errorf("type = %s, want inactivity", alerts[0].Type)
			}
		})
	}
}

func TestInactivityDetectorDeduplicates(t *testing.T) {
	st := store.NewInMemoryStore()
	now := mondayMorning.Add(12 * time.Hour)
	clock := newFakeClock(now)
	d := NewInactivityDetector(st, &recordingNotifier{}, WithClock(clock))
	seedPatient(t, st, now.Add(-3*time.Hour))

	if res := d.Run(context.Background()); res.Alerted != 1 {
		t.Fatalf("first run alerted = %d, want 1", res.Alerted)
	}
	clock.Set(now.Add(15 * time.Minute))
	if res := d.Run(context.Background()); res.Alerted != 0 {
		t.Errorf("second run alerted = %d, want 0 within the dedup window", res.Alerted)
	}
	alerts, _ := st.ListAlerts("pat_1", "")
	if len(alerts) != 1 {
		t.Errorf("got %d alerts, want 1", len(alerts))
	}
}

func TestInactivityDetectorEscalatesAcrossTiers(t *testing.T) {
	// A medium alert must not suppress the later high alert: the dedup key
	// includes the severity.
	st := store.NewInMemoryStore()
	lastSeen := mondayMorning
	clock := newFakeClock(mondayMorning.Add(2*time.Hour + 30*time.Minute))
	d := NewInactivityDetector(st, &recordingNotifier{}, WithClock(clock))
	seedPatient(t, st, lastSeen)

	if res := d.Run(context.Background()); res.Alerted != 1 {
		t.Fatalf("medium tier run alerted = %d, want 1", res.Alerted)
	}
	clock.Set(mondayMorning.Add(4*time.Hour + 30*time.Minute))
	if res := d.Run(context.Background()); res.Alerted != 1 {
		t.Fatalf("high tier run alerted = %d, want 1", res.Alerted)
	}

	alerts, _ := st.ListAlerts("pat_1", "")
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want medium and high", len(alerts))
	}
}

func TestInactivityDetectorCriticalCarriesEmergencyContact(t *testing.T) {
	st := store.NewInMemoryStore()
	now := mondayMorning.Add(12 * time.Hour)
	notifier := &recordingNotifier{}
	d := NewInactivityDetector(st, notifier, WithClock(newFakeClock(now)))
	seedPatient(t, st, now.Add(-7*time.Hour))

	if res := d.Run(context.Background()); res.Alerted != 1 {
		t.Fatalf("alerted = %d, want 1", res.Alerted)
	}

	alerts, _ := st.ListAlerts("pat_1", "")
	a := alerts[0]
	if a.Severity != models.AlertSeverityCritical {
		t.Fatalf("severity = %s, want critical", a.Severity)
	}
	for _, want := range []string{"Sam", "+15550001111"} {
		if !strings.Contains(a.Description+a.RecommendedAction, want) {
			t.Errorf("critical alert missing emergency contact detail %q", want)
		}
	}

	if len(notifier.alerts) != 1 {
		t.Fatalf("got %d SMS escalations, want 1", len(notifier.alerts))
	}
	if notifier.alerts[0].CaregiverPhone != "+15550001111" {
		t.Errorf("SMS target = %q, want emergency contact phone", notifier.alerts[0].CaregiverPhone)
	}
}

func TestInactivityDetectorSkipsPatientWithNoHistory(t *testing.T) {
	st := store.NewInMemoryStore()
	d := NewInactivityDetector(st, &recordingNotifier{}, WithClock(newFakeClock(mondayMorning)))
	st.SavePatient(models.Patient{ID: "pat_1", DisplayName: "Rose", Active: true})

	res := d.Run(context.Background())
	if res.Alerted != 0 || len(res.Errors) != 0 {
		t.Errorf("patient with no history produced alerts or errors: %+v", res)
	}
}
