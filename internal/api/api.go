// Package api provides HTTP handlers and the main API server logic for CareLoop.
//
// It exposes RESTful endpoints for reading engine-owned state (reminders,
// alerts, scheduler status), recording patient acknowledgements and
// heartbeats, and acknowledging caregiver alerts. Schedule and patient
// definitions are managed by the caregiver surface, not here.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/CareLoop/CareLoop/internal/engine"
	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/store"
)

// Default timeouts for the HTTP server.
const (
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// SchedulerStatusReporter exposes the trigger's operational state.
type SchedulerStatusReporter interface {
	Status() models.SchedulerStatus
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server is the CareLoop HTTP API server.
type Server struct {
	st         store.Store
	lifecycle  *engine.Lifecycle
	sched      SchedulerStatusReporter
	httpServer *http.Server
}

// NewServer creates the API server over the given store, lifecycle manager,
// and scheduler.
func NewServer(st store.Store, lifecycle *engine.Lifecycle, sched SchedulerStatusReporter, opts ...Option) *Server {
	cfg := Opts{Addr: ":8080"}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{st: st, lifecycle: lifecycle, sched: sched}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.routes(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/scheduler/status", s.schedulerStatusHandler)
	mux.HandleFunc("/reminders", s.listRemindersHandler)
	mux.HandleFunc("/reminders/", s.reminderActionHandler)
	mux.HandleFunc("/alerts", s.listAlertsHandler)
	mux.HandleFunc("/alerts/", s.alertActionHandler)
	mux.HandleFunc("/patients/", s.patientActionHandler)
	return mux
}

// Handler returns the server's HTTP handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	slog.Info("API server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down")
	return s.httpServer.Shutdown(ctx)
}
