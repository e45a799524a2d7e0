package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CareLoop/CareLoop/internal/engine"
	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/notify"
	"github.com/CareLoop/CareLoop/internal/store"
)

type fakeScheduler struct{}

func (fakeScheduler) Status() models.SchedulerStatus {
	return models.SchedulerStatus{
		Running: true,
		Jobs: []models.SchedulerJobStatus{
			{ID: "materializer", Spec: "@every 60s", NextRun: time.Now().Add(time.Minute)},
		},
	}
}

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	lifecycle := engine.NewLifecycle(st, notify.LogNotifier{})
	return NewServer(st, lifecycle, fakeScheduler{}), st
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return resp
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Status != string(models.APIStatusOK) {
		t.Errorf("response status = %q, want ok", resp.Status)
	}
}

func TestSchedulerStatusHandler(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scheduler/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "materializer") || !strings.Contains(body, "@every 60s") {
		t.Errorf("scheduler status body missing job details: %s", body)
	}
}

func TestListRemindersHandler(t *testing.T) {
	s, st := newTestServer(t)
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	st.CreateReminder(models.Reminder{ID: "rem_1", PatientID: "pat_1", Title: "Pills",
		DueAt: now, Status: models.ReminderStatusPending, MaxRetries: 3, CreatedAt: now, UpdatedAt: now})
	st.CreateReminder(models.Reminder{ID: "rem_2", PatientID: "pat_2", Title: "Lunch",
		DueAt: now, Status: models.ReminderStatusMissed, MaxRetries: 3, CreatedAt: now, UpdatedAt: now})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reminders?patient_id=pat_1&status=pending", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "rem_1") || strings.Contains(body, "rem_2") {
		t.Errorf("filtered list wrong: %s", body)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reminders?status=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid status filter: status = %d, want 400", rec.Code)
	}
}

func TestAcknowledgeReminderHandler(t *testing.T) {
	s, st := newTestServer(t)
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	st.CreateReminder(models.Reminder{ID: "rem_1", PatientID: "pat_1", Title: "Pills",
		DueAt: now, Status: models.ReminderStatusPending, MaxRetries: 3, CreatedAt: now, UpdatedAt: now})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reminders/rem_1/acknowledge",
		strings.NewReader(`{"response":"taken"}`))
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body.String())
	}

	r, _ := st.GetReminder("rem_1")
	if r.Status != models.ReminderStatusCompleted {
		t.Errorf("reminder status = %s, want completed", r.Status)
	}
	if r.PatientResponse != "taken" {
		t.Errorf("patient response = %q, want taken", r.PatientResponse)
	}

	// A second acknowledge conflicts: the reminder is already completed.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/reminders/rem_1/acknowledge", strings.NewReader(`{}`))
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("repeat acknowledge status = %d, want 409", rec.Code)
	}
}

func TestAcknowledgeReminderSnooze(t *testing.T) {
	s, st := newTestServer(t)
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	st.CreateReminder(models.Reminder{ID: "rem_1", PatientID: "pat_1", Title: "Pills",
		DueAt: now, Status: models.ReminderStatusPending, MaxRetries: 3, CreatedAt: now, UpdatedAt: now})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reminders/rem_1/acknowledge",
		strings.NewReader(`{"snooze_minutes":15}`))
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body.String())
	}

	r, _ := st.GetReminder("rem_1")
	if r.Status != models.ReminderStatusSnoozed {
		t.Errorf("reminder status = %s, want snoozed", r.Status)
	}
	if r.SnoozedUntil == nil {
		t.Error("SnoozedUntil not set")
	}
}

func TestAcknowledgeReminderNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reminders/rem_missing/acknowledge",
		strings.NewReader(`{}`))
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAcknowledgeAlertHandler(t *testing.T) {
	s, st := newTestServer(t)
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	st.CreateAlert(models.Alert{ID: "alr_1", PatientID: "pat_1", Type: models.AlertTypeInactivity,
		Severity: models.AlertSeverityHigh, Title: "No activity", Description: "4 hours",
		Status: models.AlertStatusActive, CreatedAt: now})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts/alr_1/acknowledge", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	alerts, _ := st.ListAlerts("pat_1", models.AlertStatusAcknowledged)
	if len(alerts) != 1 {
		t.Errorf("got %d acknowledged alerts, want 1", len(alerts))
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts/alr_1/acknowledge", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("repeat acknowledge status = %d, want 409", rec.Code)
	}
}

func TestHeartbeatHandler(t *testing.T) {
	s, st := newTestServer(t)
	st.SavePatient(models.Patient{ID: "pat_1", DisplayName: "Rose", Active: true})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/patients/pat_1/heartbeat", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body.String())
	}

	p, _ := st.GetPatient("pat_1")
	if p.LastHeartbeatAt == nil {
		t.Error("LastHeartbeatAt not recorded")
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/patients/pat_missing/heartbeat", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown patient status = %d, want 404", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/reminders"},
		{http.MethodGet, "/reminders/rem_1/acknowledge"},
		{http.MethodDelete, "/alerts"},
		{http.MethodGet, "/patients/pat_1/heartbeat"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: status = %d, want 405", tt.method, tt.path, rec.Code)
		}
	}
}

func TestSplitAction(t *testing.T) {
	tests := []struct {
		path       string
		prefix     string
		wantID     string
		wantAction string
		wantOK     bool
	}{
		{"/reminders/rem_1/acknowledge", "/reminders/", "rem_1", "acknowledge", true},
		{"/reminders/rem_1/acknowledge/", "/reminders/", "rem_1", "acknowledge", true},
		{"/reminders/rem_1", "/reminders/", "", "", false},
		{"/reminders//acknowledge", "/reminders/", "", "", false},
		{"/alerts/a/b/c", "/alerts/", "", "", false},
	}
	for _, tt := range tests {
		id, action, ok := splitAction(tt.path, tt.prefix)
		if id != tt.wantID || action != tt.wantAction || ok != tt.wantOK {
			t.Errorf("splitAction(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.path, id, action, ok, tt.wantID, tt.wantAction, tt.wantOK)
		}
	}
}
