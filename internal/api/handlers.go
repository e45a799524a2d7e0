// Package api provides HTTP handlers for CareLoop endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}

func (s *Server) schedulerStatusHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.schedulerStatusHandler: processing request", "method", r.Method)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.sched.Status()))
}

func (s *Server) listRemindersHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.listRemindersHandler: processing request", "method", r.Method)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	patientID := r.URL.Query().Get("patient_id")
	status := models.ReminderStatus(r.URL.Query().Get("status"))
	if status != "" && !models.IsValidReminderStatus(status) {
		slog.Warn("Server.listRemindersHandler: invalid status filter", "status", status)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid reminder status"))
		return
	}

	reminders, err := s.st.ListReminders(patientID, status)
	if err != nil {
		slog.Error("Server.listRemindersHandler: failed to list reminders", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch reminders"))
		return
	}
	slog.Debug("Server.listRemindersHandler: reminders fetched", "count", len(reminders))
	writeJSONResponse(w, http.StatusOK, models.Success(reminders))
}

// reminderActionHandler routes POST /reminders/{id}/acknowledge.
func (s *Server) reminderActionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id, action, ok := splitAction(r.URL.Path, "/reminders/")
	if !ok || action != "acknowledge" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.AcknowledgeReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.reminderActionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.SnoozeMinutes < 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("snooze_minutes cannot be negative"))
		return
	}

	reminder, err := s.st.GetReminder(id)
	if err != nil {
		slog.Error("Server.reminderActionHandler: failed to load reminder", "error", err, "reminderID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load reminder"))
		return
	}
	if reminder == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Reminder not found"))
		return
	}

	applied, err := s.lifecycle.AcknowledgeReminder(id, req.Response, req.SnoozeMinutes)
	if err != nil {
		slog.Error("Server.reminderActionHandler: acknowledgement failed", "error", err, "reminderID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to acknowledge reminder"))
		return
	}
	if !applied {
		// The reminder left the expected status before this request landed.
		writeJSONResponse(w, http.StatusConflict, models.Error("Reminder is not in an acknowledgeable state"))
		return
	}
	slog.Info("Server.reminderActionHandler: reminder acknowledged", "reminderID", id,
		"snoozeMinutes", req.SnoozeMinutes)
	writeJSONResponse(w, http.StatusOK, models.Recorded())
}

func (s *Server) listAlertsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.listAlertsHandler: processing request", "method", r.Method)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	patientID := r.URL.Query().Get("patient_id")
	status := models.AlertStatus(r.URL.Query().Get("status"))
	alerts, err := s.st.ListAlerts(patientID, status)
	if err != nil {
		slog.Error("Server.listAlertsHandler: failed to list alerts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch alerts"))
		return
	}
	slog.Debug("Server.listAlertsHandler: alerts fetched", "count", len(alerts))
	writeJSONResponse(w, http.StatusOK, models.Success(alerts))
}

// alertActionHandler routes POST /alerts/{id}/acknowledge.
func (s *Server) alertActionHandler(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitAction(r.URL.Path, "/alerts/")
	if !ok || action != "acknowledge" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	applied, err := s.st.AcknowledgeAlert(id, time.Now())
	if err != nil {
		slog.Error("Server.alertActionHandler: acknowledgement failed", "error", err, "alertID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to acknowledge alert"))
		return
	}
	if !applied {
		writeJSONResponse(w, http.StatusConflict, models.Error("Alert is not active"))
		return
	}
	slog.Info("Server.alertActionHandler: alert acknowledged", "alertID", id)
	writeJSONResponse(w, http.StatusOK, models.Recorded())
}

// patientActionHandler routes POST /patients/{id}/heartbeat.
func (s *Server) patientActionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id, action, ok := splitAction(r.URL.Path, "/patients/")
	if !ok || action != "heartbeat" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// The body is optional; an empty body is a plain heartbeat.
	var req models.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("Server.patientActionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	patient, err := s.st.GetPatient(id)
	if err != nil {
		slog.Error("Server.patientActionHandler: failed to load patient", "error", err, "patientID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load patient"))
		return
	}
	if patient == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Patient not found"))
		return
	}

	heartbeat := req.ActivityType == "" || req.ActivityType == "heartbeat"
	if err := s.st.RecordHeartbeat(id, time.Now(), heartbeat); err != nil {
		slog.Error("Server.patientActionHandler: failed to record heartbeat", "error", err, "patientID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record heartbeat"))
		return
	}
	slog.Debug("Server.patientActionHandler: heartbeat recorded", "patientID", id,
		"activityType", req.ActivityType)
	writeJSONResponse(w, http.StatusOK, models.Recorded())
}

// splitAction parses paths of the form {prefix}{id}/{action}.
func splitAction(path, prefix string) (id, action string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	if rest == path {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
