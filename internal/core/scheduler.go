package core

// scheduler.go runs background maintenance of the validation cache.
//
// The sweep removes expired entries so the durable snapshot does not grow
// without bound. Lookups already ignore expired entries, so a skipped or
// failed sweep only costs disk space.

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultSweepInterval is how often the sweeper runs when unset.
const DefaultSweepInterval = 6 * time.Hour

// StaleSweeper removes expired cache entries and reports how many it removed.
type StaleSweeper interface {
	ClearStale(ctx context.Context) int
}

// SweepConfig configures StartSweepScheduler. Zero values use defaults.
type SweepConfig struct {
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Metrics  *Metrics
}

// StartSweepScheduler sweeps immediately, then every Interval, until ctx is
// cancelled. It blocks; run it in its own goroutine.
func StartSweepScheduler(ctx context.Context, sweeper StaleSweeper, cfg SweepConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cache_sweeper")

	logger.Info("cache sweep scheduler started", "interval", cfg.Interval.String())

	// Run immediately on startup
	runSweep(ctx, sweeper, cfg, logger)

	ticker := cfg.Clock.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cache sweep scheduler stopped")
			return
		case <-ticker.Chan():
			runSweep(ctx, sweeper, cfg, logger)
		}
	}
}

// runSweep performs one sweep.
func runSweep(ctx context.Context, sweeper StaleSweeper, cfg SweepConfig, logger *slog.Logger) {
	start := cfg.Clock.Now()
	removed := sweeper.ClearStale(ctx)
	cfg.Metrics.observeSweep(removed)

	logger.Info("cache sweep completed",
		"entries_removed", removed,
		"duration_ms", cfg.Clock.Since(start).Milliseconds(),
	)
}
