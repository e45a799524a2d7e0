// Package scheduler provides the trigger that drives CareLoop's engine
// sweeps on fixed cadences.
//
// Jobs are registered by name with a cron spec (interval specs use the
// "@every" descriptor). Each job identity runs at most once concurrently: a
// tick that arrives while the previous run is still in flight is skipped.
// Jobs with different identities overlap freely.
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/CareLoop/CareLoop/internal/models"
)

// Scheduler provides cron-based job scheduling with a job registry.
type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	jobs    map[string]jobEntry
	running bool
}

type jobEntry struct {
	id   cron.EntryID
	spec string
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{
		cron:    c,
		jobs:    make(map[string]jobEntry),
		running: true,
	}
}

// AddJob registers a named task under the given cron spec. The task is
// wrapped so overlapping runs of the same job are skipped. Registering the
// same name twice is an error.
func (s *Scheduler) AddJob(name, spec string, task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(task))
	id, err := s.cron.AddJob(spec, job)
	if err != nil {
		return fmt.Errorf("failed to register job %q with spec %q: %w", name, spec, err)
	}
	s.jobs[name] = jobEntry{id: id, spec: spec}
	slog.Info("Scheduler registered job", "job", name, "spec", spec)
	return nil
}

// Status reports the registered jobs with their next and previous run times.
func (s *Scheduler) Status() models.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := models.SchedulerStatus{Running: s.running}
	for name, entry := range s.jobs {
		e := s.cron.Entry(entry.id)
		status.Jobs = append(status.Jobs, models.SchedulerJobStatus{
			ID:      name,
			Spec:    entry.spec,
			NextRun: e.Next,
			PrevRun: e.Prev,
		})
	}
	sort.Slice(status.Jobs, func(i, j int) bool { return status.Jobs[i].ID < status.Jobs[j].ID })
	return status
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	slog.Info("Scheduler stopped")
}
