package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/CareLoop/CareLoop/internal/api"
	"github.com/CareLoop/CareLoop/internal/engine"
	"github.com/CareLoop/CareLoop/internal/notify"
	"github.com/CareLoop/CareLoop/internal/scheduler"
	"github.com/CareLoop/CareLoop/internal/store"
	"github.com/CareLoop/CareLoop/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CareLoop state data
	DefaultStateDir = "/var/lib/careloop"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "careloop.db"
	// DefaultAPIAddr is the default API listen address
	DefaultAPIAddr = ":8080"
)

// Default sweep cadences, overridable via environment.
const (
	DefaultMaterializerInterval = 60 * time.Second
	DefaultRetrySweepInterval   = 5 * time.Minute
	DefaultMissedSweepInterval  = 5 * time.Minute
	DefaultInactivityInterval   = 15 * time.Minute
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping CareLoop with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := run(config, flags, storeOpts, apiOpts); err != nil {
		slog.Error("CareLoop failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CareLoop exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL          string
	StateDir             string
	APIAddr              string
	FirebaseCredentials  string
	TwilioSID            string
	TwilioToken          string
	TwilioFrom           string
	MaterializerInterval time.Duration
	RetrySweepInterval   time.Duration
	MissedSweepInterval  time.Duration
	InactivityInterval   time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	apiAddr       *string
	firebaseCreds *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		StateDir:             os.Getenv("CARELOOP_STATE_DIR"),
		APIAddr:              os.Getenv("API_ADDR"),
		FirebaseCredentials:  os.Getenv("FIREBASE_CREDENTIALS_FILE"),
		TwilioSID:            os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:          os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:           os.Getenv("TWILIO_FROM_NUMBER"),
		MaterializerInterval: util.ParseDurationEnv("MATERIALIZER_INTERVAL", DefaultMaterializerInterval),
		RetrySweepInterval:   util.ParseDurationEnv("RETRY_SWEEP_INTERVAL", DefaultRetrySweepInterval),
		MissedSweepInterval:  util.ParseDurationEnv("MISSED_SWEEP_INTERVAL", DefaultMissedSweepInterval),
		InactivityInterval:   util.ParseDurationEnv("INACTIVITY_INTERVAL", DefaultInactivityInterval),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CARELOOP_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("CARELOOP_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CARELOOP_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"FIREBASE_CREDENTIALS_SET", config.FirebaseCredentials != "",
		"TWILIO_CONFIGURED", config.TwilioSID != "" && config.TwilioToken != "" && config.TwilioFrom != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for CareLoop data (overrides $CARELOOP_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		firebaseCreds: flag.String("firebase-credentials", config.FirebaseCredentials, "Firebase service account file (overrides $FIREBASE_CREDENTIALS_FILE)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"firebaseCreds_set", *flags.firebaseCreds != "")

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true,
			"old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
		slog.Debug("State directory created successfully", "state_dir", stateDir)
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		// Check if it's a PostgreSQL DSN using the shared detection function
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			// Assume SQLite for file paths
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}

// newStore opens the configured storage backend.
func newStore(flags Flags, storeOpts []store.Option) (store.Store, error) {
	if len(storeOpts) == 0 {
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return store.NewPostgresStore(storeOpts...)
	}
	return store.NewSQLiteStore(storeOpts...)
}

// newNotifiers builds the reminder and alert notifiers from configuration,
// falling back to logging notifiers when credentials are absent.
func newNotifiers(ctx context.Context, config Config, flags Flags) (notify.ReminderNotifier, notify.AlertNotifier) {
	var reminders notify.ReminderNotifier = notify.LogNotifier{}
	if *flags.firebaseCreds != "" {
		fcm, err := notify.NewFCMNotifier(ctx, notify.WithCredentialsFile(*flags.firebaseCreds))
		if err != nil {
			slog.Error("Failed to initialize FCM notifier, falling back to log notifier", "error", err)
		} else {
			reminders = fcm
		}
	} else {
		slog.Info("Firebase credentials not configured, reminder pushes will be logged only")
	}

	var alerts notify.AlertNotifier = notify.LogNotifier{}
	if config.TwilioSID != "" && config.TwilioToken != "" && config.TwilioFrom != "" {
		sms, err := notify.NewSMSNotifier(
			notify.WithAccountSID(config.TwilioSID),
			notify.WithAuthToken(config.TwilioToken),
			notify.WithFromNumber(config.TwilioFrom),
		)
		if err != nil {
			slog.Error("Failed to initialize SMS notifier, falling back to log notifier", "error", err)
		} else {
			alerts = sms
		}
	} else {
		slog.Info("Twilio not configured, alert escalations will be logged only")
	}

	return reminders, alerts
}

// run wires the store, engine, scheduler, and API server together and blocks
// until shutdown.
func run(config Config, flags Flags, storeOpts []store.Option, apiOpts []api.Option) error {
	ctx := context.Background()

	st, err := newStore(flags, storeOpts)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	reminderNotifier, alertNotifier := newNotifiers(ctx, config, flags)

	materializer := engine.NewMaterializer(st, reminderNotifier)
	lifecycle := engine.NewLifecycle(st, reminderNotifier)
	detector := engine.NewInactivityDetector(st, alertNotifier)

	sched := scheduler.NewScheduler()
	defer sched.Stop()

	jobs := []struct {
		name     string
		interval time.Duration
		task     func()
	}{
		{"materializer", config.MaterializerInterval, func() { materializer.Run(ctx) }},
		{"retry-sweep", config.RetrySweepInterval, func() { lifecycle.RunRetrySweep(ctx) }},
		{"missed-sweep", config.MissedSweepInterval, func() { lifecycle.RunMissedSweep(ctx) }},
		{"inactivity-detector", config.InactivityInterval, func() { detector.Run(ctx) }},
	}
	for _, job := range jobs {
		spec := fmt.Sprintf("@every %s", job.interval)
		if err := sched.AddJob(job.name, spec, job.task); err != nil {
			return fmt.Errorf("failed to register job %s: %w", job.name, err)
		}
	}

	server := api.NewServer(st, lifecycle, sched, apiOpts...)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Run()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), api.DefaultShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
	}
	return nil
}
