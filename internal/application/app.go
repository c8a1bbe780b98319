// Package application wires configuration into the running components:
// cache store, validation cache, provider pool, orchestrator and run limiter.
// Both the HTTP server and hcpcsctl build on it.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/JonMunkholm/cdmmerge/internal/cache"
	"github.com/JonMunkholm/cdmmerge/internal/config"
	"github.com/JonMunkholm/cdmmerge/internal/core"
	"github.com/JonMunkholm/cdmmerge/internal/provider"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App holds the wired components.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Registry     *prometheus.Registry
	Metrics      *core.Metrics
	Store        cache.Store
	Cache        *cache.Cache
	Pool         *provider.Pool
	Orchestrator *core.Orchestrator
	Limiter      *core.RunLimiter

	closers []func()
}

// New builds an App from cfg. Close releases the store connection.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = core.NewMetrics(a.Registry)

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	a.Cache = cache.New(store, cache.Options{
		ModernTTL:          cfg.Cache.ModernTTL,
		LegacyTTL:          cfg.Cache.LegacyTTL,
		TreatLegacyAsStale: cfg.Cache.TreatLegacyAsStale,
		ReloadInterval:     cfg.Cache.ReloadInterval,
		Logger:             logger,
	})

	a.Pool = provider.NewPool(logger, buildProviders(cfg.Providers, logger)...)
	if a.Pool.Len() == 0 {
		logger.Warn("no validation providers configured; every code will need manual review")
	}

	a.Orchestrator = core.NewOrchestrator(a.Cache, a.Pool, core.Options{
		BatchSize:            cfg.Validation.BatchSize,
		BatchDelay:           cfg.Validation.BatchDelay,
		InvalidRateThreshold: cfg.Validation.InvalidRateThreshold,
		InvalidRateMinCodes:  cfg.Validation.InvalidRateMinCodes,
		Logger:               logger,
		Metrics:              a.Metrics,
	})
	a.Limiter = core.NewRunLimiter(cfg.Validation.MaxConcurrentRuns, cfg.Validation.MaxWaitTime)

	return a, nil
}

// StartBackground starts the cache sweep scheduler. It stops with ctx.
func (a *App) StartBackground(ctx context.Context) {
	go core.StartSweepScheduler(ctx, a.Cache, core.SweepConfig{
		Interval: a.Config.Cache.SweepInterval,
		Logger:   a.Logger,
		Metrics:  a.Metrics,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openStore(ctx context.Context) (cache.Store, error) {
	cfg := a.Config
	switch cfg.Cache.Backend {
	case config.BackendPostgres:
		pool, err := connectPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)

		store := cache.NewPostgresStore(pool).WithTable(cfg.Cache.Table)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.Logger.Info("using postgres cache store",
			"database", databaseName(cfg.Database.URL),
			"location", store.Location(),
		)
		return store, nil

	case config.BackendFile, "":
		store := cache.NewFileStore(cfg.Cache.Path)
		a.Logger.Info("using file cache store", "location", store.Location())
		return store, nil

	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// connectPostgres opens and pings a pgx pool.
func connectPostgres(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// buildProviders creates one chat provider per entry in cfg.Order. Slots
// without an API key are still added; the pool skips them as unavailable.
func buildProviders(cfg config.ProvidersConfig, logger *slog.Logger) []provider.Provider {
	var out []provider.Provider
	for _, name := range cfg.Order {
		slot, ok := cfg.Slot(name)
		if !ok {
			continue
		}
		if slot.APIKey == "" {
			logger.Info("provider has no API key, skipping in rotation", "provider", name)
		}
		out = append(out, provider.NewChatProvider(provider.ChatConfig{
			Name:              name,
			BaseURL:           slot.BaseURL,
			APIKey:            slot.APIKey,
			Model:             slot.Model,
			RequestsPerMinute: slot.RequestsPerMinute,
			Timeout:           slot.Timeout,
			MaxRetries:        slot.MaxRetries,
			Logger:            logger,
		}))
	}
	return out
}

// databaseName returns the database path of a connection URL for logging.
func databaseName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}
