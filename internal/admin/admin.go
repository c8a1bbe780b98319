// Package admin provides maintenance operations on the validation cache and
// the provider pool, each bounded by a timeout.
package admin

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/cdmmerge/internal/cache"
	"github.com/JonMunkholm/cdmmerge/internal/provider"
)

// DefaultTimeout bounds a single maintenance operation.
const DefaultTimeout = 30 * time.Second

// CacheMaintainer is the cache surface used here. *cache.Cache implements it.
type CacheMaintainer interface {
	Stats(ctx context.Context) cache.Stats
	Clear(ctx context.Context)
	ClearStale(ctx context.Context) int
}

// QuotaResetter is the pool surface used here. *provider.Pool implements it.
type QuotaResetter interface {
	Status() []provider.ProviderStatus
	ResetQuotas()
}

// Maintenance runs administrative operations.
type Maintenance struct {
	Cache     CacheMaintainer
	Providers QuotaResetter
	Timeout   time.Duration
	Logger    *slog.Logger
}

func (m *Maintenance) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (m *Maintenance) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

// Stats returns cache statistics.
func (m *Maintenance) Stats(ctx context.Context) cache.Stats {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.Cache.Stats(ctx)
}

// Clear removes every cache entry. This is destructive: every code will be
// revalidated by a provider on its next run.
func (m *Maintenance) Clear(ctx context.Context) cache.Stats {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	before := m.Cache.Stats(ctx)
	m.Cache.Clear(ctx)
	m.logger().Warn("validation cache cleared", "entries_removed", before.TotalEntries)
	return before
}

// Sweep removes expired entries and returns how many were removed.
func (m *Maintenance) Sweep(ctx context.Context) int {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	removed := m.Cache.ClearStale(ctx)
	m.logger().Info("cache sweep completed", "entries_removed", removed)
	return removed
}

// ResetQuotas clears provider quota flags and returns the resulting status.
func (m *Maintenance) ResetQuotas() []provider.ProviderStatus {
	m.Providers.ResetQuotas()
	m.logger().Info("provider quotas reset")
	return m.Providers.Status()
}
