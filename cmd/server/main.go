package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/cdmmerge/internal/application"
	"github.com/JonMunkholm/cdmmerge/internal/config"
	"github.com/JonMunkholm/cdmmerge/internal/logging"
	"github.com/JonMunkholm/cdmmerge/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	app, err := application.New(ctx, cfg, slog.Default())
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	stats := app.Cache.Stats(ctx)
	slog.Info("validation cache ready",
		"location", app.Store.Location(),
		"entries", stats.TotalEntries,
		"legacy_entries", stats.LegacyEntries,
	)
	for _, p := range app.Pool.Status() {
		slog.Info("provider configured", "provider", p.Name, "available", p.Available)
	}

	server := web.NewServer(cfg, web.Deps{
		Validator: app.Orchestrator,
		Cache:     app.Cache,
		Providers: app.Pool,
		Limiter:   app.Limiter,
		Gatherer:  app.Registry,
	})

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	app.StartBackground(jobCtx)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := app.Limiter.Status(); status.Active > 0 {
			slog.Info("waiting for validation runs to complete", "active", status.Active)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown incomplete", "error", err, "active_runs", app.Limiter.ActiveCount())
		} else {
			slog.Info("all validation runs completed")
		}
	}()

	if err := server.Start(); err != nil {
		slog.Error("server stopped", "error", err)
		cancelJobs()
		return
	}
	<-done
}
