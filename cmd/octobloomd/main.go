package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/octobloom/octobloom/internal/bloom/common/log"
	"github.com/octobloom/octobloom/internal/bloom/config"
	"github.com/octobloom/octobloom/internal/bloom/registry"
	"github.com/octobloom/octobloom/internal/bloom/repos/records"
	"github.com/octobloom/octobloom/internal/bloom/repos/verdict"
	"github.com/octobloom/octobloom/internal/bloom/services/maintenance"
	"github.com/octobloom/octobloom/internal/bloom/services/membership"
	"github.com/octobloom/octobloom/internal/bloom/transport/rest"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "octobloomd"

	defaultShutdownTimeout = 10 * time.Second
)

// Application holds all the components of the membership server
type Application struct {
	config    *config.AppConfig
	store     *records.Store
	scheduler *maintenance.Scheduler
	api       *rest.API
}

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Configure global logging
	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"app":         appName,
		"version":     version,
		"env":         cfg.Env,
		"log_level":   cfg.LogLevel,
		"port":        cfg.Port,
		"db_path":     cfg.DBPath,
		"max_filters": cfg.MaxFilters,
		"interval":    cfg.MaintenanceInterval.String(),
	}, "Starting octobloom server")

	// Build application with all dependencies
	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Server failed")
	}

	log.Info(nil, "octobloom server stopped gracefully")
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	logger := log.GetLogger()

	store, err := records.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	verdicts, err := verdict.New(cfg.VerdictCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create verdict cache: %w", err)
	}
	if cfg.VerdictCacheSize <= 0 {
		log.Info(map[string]any{"disabled": true}, "Verdict caching disabled")
	} else {
		log.Info(map[string]any{
			"type": "LRU",
			"size": cfg.VerdictCacheSize,
		}, "Verdict cache configured")
	}

	reg := registry.New(registry.Options{
		Capacity:       cfg.MaxFilters,
		MaxFilterBytes: cfg.MaxFilterBytes,
	})

	svc := membership.New(membership.Options{
		Registry: reg,
		Store:    store,
		Verdicts: verdicts,
		Logger:   logger,
	})

	scheduler := maintenance.New(maintenance.Options{
		Registry:  reg,
		Rebuilder: svc,
		Interval:  cfg.MaintenanceInterval,
		Drift:     cfg.DriftRatio,
		Growth:    cfg.GrowthFactor,
		Logger:    logger,
	})

	api := rest.New(svc, logger)

	return &Application{
		config:    cfg,
		store:     store,
		scheduler: scheduler,
		api:       api,
	}, nil
}

// Run starts the HTTP server and maintenance loop and blocks until the
// context is cancelled.
func (app *Application) Run(ctx context.Context) error {
	go app.scheduler.Run(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Port),
		Handler: app.api.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info(map[string]any{"address": srv.Addr}, "HTTP API started")

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info(nil, "Shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(map[string]any{"error": err}, "Error during HTTP shutdown")
	}

	if err := app.store.Close(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error closing record store")
	}

	log.Info(nil, "Graceful shutdown completed")
	return nil
}
