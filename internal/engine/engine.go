// Package engine implements the CareLoop monitoring core: materializing
// recurring schedules into dated reminders, sweeping the reminder lifecycle
// (retries, escalation, missed marking, snooze requeue), and detecting
// patient inactivity.
//
// All components are driven by the trigger in internal/scheduler and share
// the same rules: per-record failure isolation (one bad record never aborts
// a batch) and conditional status transitions through the store, so
// overlapping sweeps cannot reach contradictory conclusions.
package engine

import "time"

// Default timing parameters for the engine sweeps.
const (
	// DefaultLookAhead is how far ahead the materializer looks for
	// reminders to create.
	DefaultLookAhead = time.Hour
	// DefaultRetryThreshold is how long a reminder may sit pending past its
	// due time before the retry sweep re-notifies.
	DefaultRetryThreshold = 15 * time.Minute
	// DefaultMissedTimeout is the safety-net age at which the missed sweep
	// marks a still-pending reminder missed. It is longer than the full
	// retry timeline so the retry sweep normally owns the transition.
	DefaultMissedTimeout = 45 * time.Minute
	// DefaultAlertDedupWindow suppresses duplicate alerts of the same
	// (patient, type, severity) while an earlier one is unacknowledged.
	DefaultAlertDedupWindow = 24 * time.Hour
)

// Inactivity tier thresholds.
const (
	InactivityMediumAfter   = 2 * time.Hour
	InactivityHighAfter     = 4 * time.Hour
	InactivityCriticalAfter = 6 * time.Hour
)

// Opts holds configuration options shared by the engine components. Each
// constructor reads the fields relevant to it; zero values fall back to the
// defaults above.
type Opts struct {
	Clock            Clock
	LookAhead        time.Duration
	RetryThreshold   time.Duration
	MissedTimeout    time.Duration
	AlertDedupWindow time.Duration
}

// Option defines a configuration option for engine components.
type Option func(*Opts)

// WithClock injects the time source. Tests use a fixed clock.
func WithClock(c Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

// WithLookAhead sets the materializer look-ahead window.
func WithLookAhead(d time.Duration) Option {
	return func(o *Opts) { o.LookAhead = d }
}

// WithRetryThreshold sets how long past due a pending reminder must be
// before the retry sweep picks it up.
func WithRetryThreshold(d time.Duration) Option {
	return func(o *Opts) { o.RetryThreshold = d }
}

// WithMissedTimeout sets the missed sweep's safety-net age.
func WithMissedTimeout(d time.Duration) Option {
	return func(o *Opts) { o.MissedTimeout = d }
}

// WithAlertDedupWindow sets the alert deduplication window.
func WithAlertDedupWindow(d time.Duration) Option {
	return func(o *Opts) { o.AlertDedupWindow = d }
}

func buildOpts(opts []Option) Opts {
	cfg := Opts{
		Clock:            SystemClock{},
		LookAhead:        DefaultLookAhead,
		RetryThreshold:   DefaultRetryThreshold,
		MissedTimeout:    DefaultMissedTimeout,
		AlertDedupWindow: DefaultAlertDedupWindow,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
