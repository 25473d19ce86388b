// Plannerd is the adaptive scheduling daemon.
//
// This binary starts the HTTP API together with the background jobs:
// pattern scanning, calendar reconciliation, flow triggering, and
// threshold calibration.
//
// Configuration is loaded from an optional YAML file layered with
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults (fake calendar, heuristic classifier)
//	plannerd
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9090 CALENDAR_PROVIDER=google plannerd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/calendar"
	"github.com/fyrsmithlabs/plannerd/internal/classify"
	"github.com/fyrsmithlabs/plannerd/internal/config"
	"github.com/fyrsmithlabs/plannerd/internal/confirm"
	"github.com/fyrsmithlabs/plannerd/internal/engine/userlock"
	"github.com/fyrsmithlabs/plannerd/internal/flow"
	httpserver "github.com/fyrsmithlabs/plannerd/internal/http"
	"github.com/fyrsmithlabs/plannerd/internal/learning"
	"github.com/fyrsmithlabs/plannerd/internal/logging"
	"github.com/fyrsmithlabs/plannerd/internal/notify"
	"github.com/fyrsmithlabs/plannerd/internal/pattern"
	"github.com/fyrsmithlabs/plannerd/internal/preference"
	"github.com/fyrsmithlabs/plannerd/internal/schedule"
	"github.com/fyrsmithlabs/plannerd/internal/store"
	"github.com/fyrsmithlabs/plannerd/internal/syncrec"
	"github.com/fyrsmithlabs/plannerd/internal/telemetry"
	v1 "github.com/fyrsmithlabs/plannerd/pkg/api/v1"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configFile := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  plannerd           Start the plannerd daemon\n")
			fmt.Fprintf(os.Stderr, "  plannerd version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configFile); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("plannerd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the plannerd server and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the structured logger
//  3. Opens infrastructure (sqlite store, calendar, classifier, NATS)
//  4. Builds the engine services (preferences, learning, patterns,
//     flows, reconciler)
//  5. Starts the background job scheduler
//  6. Mounts the v1 API and metrics endpoint on the HTTP server
//  7. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configFile string) error {
	if configFile == "" {
		// First run on a fresh install: make sure ~/.config/plannerd
		// exists so the operator has somewhere to drop config.yaml.
		if err := config.EnsureConfigDir(); err != nil {
			log.Printf("Warning: could not create config directory: %v", err)
		}
	}

	cfg, err := config.LoadWithFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := initTelemetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := initLogger(tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zlog := logger.Underlying()

	for _, reason := range tel.Degradations() {
		zlog.Warn("Telemetry degraded", zap.String("reason", reason))
	}

	zlog.Info("Starting plannerd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Path),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	deps, err := initDependencies(ctx, cfg, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	zlog.Info("Dependencies initialized",
		zap.String("calendar_provider", cfg.Calendar.Provider),
		zap.String("classifier_provider", cfg.Classifier.Provider),
		logging.Secret("classifier_api_key", cfg.Classifier.APIKey),
		zap.Bool("nats_connected", deps.natsConn != nil))

	svcs, err := initServices(cfg, deps, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	sched, err := initScheduler(cfg, deps, svcs, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			zlog.Warn("Scheduler stop failed", zap.Error(err))
		}
	}()

	// Create HTTP server
	srv, err := httpserver.NewServer(httpserver.Options{
		Config: httpserver.Config{
			Port:            cfg.Server.Port,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		},
		Logger:   zlog,
		Metrics:  httpserver.NewMetrics(zlog),
		Status:   deps.store,
		Services: statusServices(cfg, deps),
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Mount the versioned API
	handlers, err := v1.NewHandlers(v1.Options{
		Store:       deps.store,
		Prefs:       svcs.prefs,
		Learner:     svcs.learner,
		Flows:       svcs.flows,
		Recon:       svcs.recon,
		Classifier:  deps.classifier,
		Locks:       svcs.locks,
		NATS:        deps.natsConn,
		Logger:      zlog,
		HorizonDays: cfg.Engine.HorizonDays,
	})
	if err != nil {
		return fmt.Errorf("failed to create API handlers: %w", err)
	}
	handlers.RegisterRoutes(srv.Echo())

	// Register metrics endpoint
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	zlog.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("api_prefix", "/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	// Start server (blocks until context cancellation)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	store      *store.SQLiteStore
	cal        calendar.Client
	classifier classify.Classifier
	natsConn   *nats.Conn
	bus        *notify.Bus
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
}

// services holds the engine services plus the per-user lock set shared
// between the API and the background jobs.
type services struct {
	prefs   *preference.Service
	learner *learning.Service
	detect  *pattern.Detector
	flows   flow.Service
	recon   syncrec.Service
	locks   *userlock.Locker
}

// initTelemetry builds the OTEL pipeline. Disabled unless
// TELEMETRY_ENABLED is set; a disabled pipeline is a no-op.
func initTelemetry(ctx context.Context) (*telemetry.Telemetry, error) {
	telCfg := telemetry.NewDefaultConfig()
	if v, err := strconv.ParseBool(os.Getenv("TELEMETRY_ENABLED")); err == nil {
		telCfg.Enabled = v
	}
	if v := os.Getenv("TELEMETRY_ENDPOINT"); v != "" {
		telCfg.Endpoint = v
	}
	telCfg.ServiceVersion = version

	return telemetry.New(ctx, telCfg)
}

// initLogger initializes the structured logger. LOG_LEVEL (including
// "trace") and LOG_FORMAT override the production defaults.
func initLogger(tel *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		lvl, err := logging.LevelFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", v, err)
		}
		logCfg.Level = lvl
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		logCfg.Format = v
	}
	// Ship logs to the collector whenever telemetry brought up a log
	// exporter; stdout stays on either way.
	logCfg.OTEL = tel.LoggerProvider() != nil

	return logging.NewLogger(logCfg, tel.LoggerProvider())
}

// initDependencies opens the store and connects the external
// collaborators.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", cfg.Database.Path, err)
	}

	cal, err := calendar.New(ctx, calendar.Config{
		Provider:          cfg.Calendar.Provider,
		CalendarID:        cfg.Calendar.CalendarID,
		CredentialsFile:   cfg.Calendar.CredentialsFile,
		TokenFile:         cfg.Calendar.TokenFile,
		RequestsPerMinute: float64(cfg.Calendar.RequestsPerMinute),
		Burst:             cfg.Calendar.Burst,
		Retry:             calendar.DefaultRetryConfig(),
	}, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create calendar client: %w", err)
	}

	clsCfg := classify.NewDefaultConfig()
	clsCfg.Provider = cfg.Classifier.Provider
	clsCfg.BaseURL = cfg.Classifier.BaseURL
	clsCfg.Model = cfg.Classifier.Model
	clsCfg.APIKey = cfg.Classifier.APIKey.Value()
	clsCfg.Timeout = cfg.Classifier.Timeout
	classifier, err := classify.New(clsCfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	// NATS is optional: without it notifications and the SSE stream are
	// off, everything else works.
	var nc *nats.Conn
	if cfg.Notify.Enabled {
		nc, err = nats.Connect(cfg.Notify.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Notify.URL, err)
		}
		logger.Info("Connected to NATS", zap.String("url", cfg.Notify.URL))
	}

	return &dependencies{
		store:      st,
		cal:        cal,
		classifier: classifier,
		natsConn:   nc,
		bus:        notify.NewBus(nc, logger),
	}, nil
}

// initServices builds the engine services on top of the dependencies.
func initServices(cfg *config.Config, deps *dependencies, logger *zap.Logger) (*services, error) {
	prefs, err := preference.NewService(deps.store, logger,
		preference.WithMaxStep(cfg.Engine.MaxWeightStep))
	if err != nil {
		return nil, fmt.Errorf("failed to create preference service: %w", err)
	}

	learner, err := learning.NewService(deps.store, prefs, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create learning service: %w", err)
	}

	detect, err := pattern.NewDetector(deps.store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern detector: %w", err)
	}

	flows, err := flow.NewService(flow.Options{
		Store:          deps.store,
		Items:          deps.store,
		Rejections:     detect,
		Bus:            deps.bus,
		Registry:       confirm.NewRegistry[flow.Proposal](cfg.Engine.ConfirmTTL.Duration()),
		Thresholds:     learner,
		Corrections:    learner,
		Logger:         logger,
		Threshold:      cfg.Engine.SuggestionThreshold,
		RejectionLimit: cfg.Engine.RejectionLimit,
		RunWindow:      cfg.Engine.RecentRunWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create flow service: %w", err)
	}

	recon, err := syncrec.NewService(syncrec.Options{
		Store:    deps.store,
		Calendar: deps.cal,
		Registry: confirm.NewRegistry[syncrec.Action](cfg.Engine.ConfirmTTL.Duration()),
		Bus:      deps.bus,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sync reconciler: %w", err)
	}

	return &services{
		prefs:   prefs,
		learner: learner,
		detect:  detect,
		flows:   flows,
		recon:   recon,
		locks:   &userlock.Locker{},
	}, nil
}

// initScheduler wires the background jobs with the configured
// intervals.
func initScheduler(cfg *config.Config, deps *dependencies, svcs *services, logger *zap.Logger) (*schedule.Scheduler, error) {
	return schedule.NewScheduler(schedule.Options{
		Users:    deps.store,
		Patterns: svcs.detect,
		Flows:    svcs.flows,
		Recon:    svcs.recon,
		Learner:  svcs.learner,
		Locks:    svcs.locks,
		History:  deps.store,
		Logger:   logger,
	},
		schedule.WithScanInterval(cfg.Engine.PatternScanInterval.Duration()),
		schedule.WithSyncInterval(cfg.Engine.SyncInterval.Duration()),
		schedule.WithTriggerInterval(cfg.Engine.TriggerInterval.Duration()),
		schedule.WithCalibrateInterval(cfg.Engine.CalibrationInterval.Duration()),
	)
}

// statusServices names the wired collaborators for GET /status.
func statusServices(cfg *config.Config, deps *dependencies) map[string]string {
	svcs := map[string]string{
		"calendar":   cfg.Calendar.Provider,
		"classifier": cfg.Classifier.Provider,
	}
	if deps.natsConn != nil {
		svcs["notify"] = "nats"
	}
	return svcs
}
