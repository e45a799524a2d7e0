package store

import (
	"sort"
	"sync"
	"time"

	"github.com/CareLoop/CareLoop/internal/models"
)

// InMemoryStore is a mutex-guarded in-memory implementation of Store, used
// for tests and for running without a database DSN.
type InMemoryStore struct {
	mu        sync.RWMutex
	schedules map[string]models.Schedule
	reminders map[string]models.Reminder
	alerts    map[string]models.Alert
	patients  map[string]models.Patient
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		schedules: make(map[string]models.Schedule),
		reminders: make(map[string]models.Reminder),
		alerts:    make(map[string]models.Alert),
		patients:  make(map[string]models.Patient),
	}
}

func (s *InMemoryStore) SaveSchedule(sch models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sch.ID] = sch
	return nil
}

func (s *InMemoryStore) GetSchedule(id string) (*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, ok := s.schedules[id]
	if !ok {
		return nil, nil
	}
	return &sch, nil
}

func (s *InMemoryStore) ListActiveSchedules() ([]models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Schedule
	for _, sch := range s.schedules {
		if sch.Active {
			out = append(out, sch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) CreateReminder(r models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders[r.ID] = r
	return nil
}

func (s *InMemoryStore) GetReminder(id string) (*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *InMemoryStore) ListReminders(patientID string, status models.ReminderStatus) ([]models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Reminder
	for _, r := range s.reminders {
		if patientID != "" && r.PatientID != patientID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (s *InMemoryStore) ReminderExistsForScheduleOn(scheduleID string, dayStart, dayEnd time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reminders {
		if r.ScheduleID == scheduleID && !r.DueAt.Before(dayStart) && r.DueAt.Before(dayEnd) {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) ListPendingRemindersDueBefore(cutoff time.Time) ([]models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Reminder
	for _, r := range s.reminders {
		if r.Status == models.ReminderStatusPending && r.DueAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (s *InMemoryStore) MarkReminderSent(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil
	}
	r.SentAt = &at
	r.UpdatedAt = at
	s.reminders[id] = r
	return nil
}

func (s *InMemoryStore) IncrementRetryIfPending(id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok || r.Status != models.ReminderStatusPending || r.RetryCount >= r.MaxRetries {
		return false, nil
	}
	r.RetryCount++
	r.UpdatedAt = now
	s.reminders[id] = r
	return true, nil
}

func (s *InMemoryStore) MarkReminderMissedIfPending(id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok || r.Status != models.ReminderStatusPending {
		return false, nil
	}
	r.Status = models.ReminderStatusMissed
	r.UpdatedAt = now
	s.reminders[id] = r
	return true, nil
}

func (s *InMemoryStore) CompleteReminder(id string, response string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok || r.Status == models.ReminderStatusCompleted {
		return false, nil
	}
	r.Status = models.ReminderStatusCompleted
	r.CompletedAt = &now
	if response != "" {
		r.PatientResponse = response
	}
	r.UpdatedAt = now
	s.reminders[id] = r
	return true, nil
}

func (s *InMemoryStore) SnoozeReminderIfPending(id string, until, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok || r.Status != models.ReminderStatusPending {
		return false, nil
	}
	r.Status = models.ReminderStatusSnoozed
	r.SnoozedUntil = &until
	r.UpdatedAt = now
	s.reminders[id] = r
	return true, nil
}

func (s *InMemoryStore) RequeueDueSnoozedReminders(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.reminders {
		if r.Status != models.ReminderStatusSnoozed || r.SnoozedUntil == nil || r.SnoozedUntil.After(now) {
			continue
		}
		r.Status = models.ReminderStatusPending
		r.DueAt = *r.SnoozedUntil
		r.SnoozedUntil = nil
		r.UpdatedAt = now
		s.reminders[id] = r
		n++
	}
	return n, nil
}

func (s *InMemoryStore) CreateAlert(a models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[a.ID] = a
	return nil
}

func (s *InMemoryStore) ListAlerts(patientID string, status models.AlertStatus) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Alert
	for _, a := range s.alerts {
		if patientID != "" && a.PatientID != patientID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) HasRecentUnacknowledgedAlert(patientID string, alertType models.AlertType, severity models.AlertSeverity, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.alerts {
		if a.PatientID == patientID && a.Type == alertType && a.Severity == severity &&
			a.Status == models.AlertStatusActive && !a.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) AcknowledgeAlert(id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.Status != models.AlertStatusActive {
		return false, nil
	}
	a.Status = models.AlertStatusAcknowledged
	a.AcknowledgedAt = &now
	s.alerts[id] = a
	return true, nil
}

func (s *InMemoryStore) SavePatient(p models.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
	return nil
}

func (s *InMemoryStore) GetPatient(id string) (*models.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *InMemoryStore) ListActivePatients() ([]models.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Patient
	for _, p := range s.patients {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) RecordHeartbeat(patientID string, at time.Time, heartbeat bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[patientID]
	if !ok {
		return nil
	}
	if heartbeat {
		p.LastHeartbeatAt = &at
	}
	p.LastActiveAt = &at
	s.patients[patientID] = p
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
