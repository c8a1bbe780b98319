// Package cache provides the persistent HCPCS validation cache.
//
// The cache keeps an in-memory map of normalized code -> verdict backed by a
// durable Store snapshot. It is an optimization, never a source of truth:
// storage failures are logged and degrade to cache misses, never to errors
// seen by the caller.
//
// # Staleness
//
// Each entry carries a creation timestamp. Modern entries (with provider
// provenance) expire after ModernTTL. Legacy entries (written before
// provenance tracking) expire after LegacyTTL, or immediately when
// TreatLegacyAsStale is set, forcing re-validation.
//
// # Reloading
//
// The in-memory view is refreshed from the store at most once per
// ReloadInterval. Every completed load bumps Epoch, which tests use to
// observe the reload boundary. Mutations are persisted synchronously and are
// visible in memory immediately.
//
// # Concurrency
//
// Loads and mutations (Set, SetBulk, Clear, ClearStale) are serialized by a
// single mutex so their read-modify-write cycles against the store never
// interleave. Readers only take a read lock on the map.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/cdmmerge/internal/hcpcs"
	"github.com/jonboulle/clockwork"
)

// Defaults for Options fields left zero.
const (
	DefaultModernTTL      = 120 * 24 * time.Hour
	DefaultLegacyTTL      = 7 * 24 * time.Hour
	DefaultReloadInterval = 5 * time.Minute
)

// Options configures a Cache.
type Options struct {
	ModernTTL          time.Duration
	LegacyTTL          time.Duration
	TreatLegacyAsStale bool
	ReloadInterval     time.Duration
	Clock              clockwork.Clock
	Logger             *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ModernTTL <= 0 {
		o.ModernTTL = DefaultModernTTL
	}
	if o.LegacyTTL <= 0 {
		o.LegacyTTL = DefaultLegacyTTL
	}
	if o.ReloadInterval <= 0 {
		o.ReloadInterval = DefaultReloadInterval
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// BulkResult partitions a bulk lookup into hits and misses.
type BulkResult struct {
	Cached  map[string]hcpcs.Entry
	Missing []string
}

// Stats summarizes the cache contents.
type Stats struct {
	TotalEntries   int `json:"totalEntries"`
	ModernEntries  int `json:"modernEntries"`
	LegacyEntries  int `json:"legacyEntries"`
	ValidEntries   int `json:"validEntries"`
	InvalidEntries int `json:"invalidEntries"`
}

// Cache is the persistent validation cache.
type Cache struct {
	store  Store
	opts   Options
	clock  clockwork.Clock
	logger *slog.Logger

	// mu serializes loads and mutations.
	mu sync.Mutex

	dataMu   sync.RWMutex
	entries  map[string]hcpcs.Entry
	loaded   bool
	loadedAt time.Time
	epoch    uint64
}

// New creates a cache over store. Nothing is read until first use.
func New(store Store, opts Options) *Cache {
	opts = opts.withDefaults()
	return &Cache{
		store:   store,
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger.With("component", "hcpcs_cache", "location", store.Location()),
		entries: make(map[string]hcpcs.Entry),
	}
}

// Get returns the entry for code if present and not expired.
func (c *Cache) Get(ctx context.Context, code string) (hcpcs.Entry, bool) {
	c.ensureLoaded(ctx)

	code = hcpcs.NormalizeCode(code)
	now := c.clock.Now()

	c.dataMu.RLock()
	entry, ok := c.entries[code]
	c.dataMu.RUnlock()

	if !ok || c.expired(entry, now) {
		return hcpcs.Entry{}, false
	}
	return entry, true
}

// GetBulk looks up all codes against a single load of the cache.
// Missing keeps the input order; both outputs are keyed by normalized code.
func (c *Cache) GetBulk(ctx context.Context, codes []string) BulkResult {
	c.ensureLoaded(ctx)

	now := c.clock.Now()
	res := BulkResult{
		Cached:  make(map[string]hcpcs.Entry, len(codes)),
		Missing: make([]string, 0, len(codes)),
	}

	c.dataMu.RLock()
	defer c.dataMu.RUnlock()

	for _, raw := range codes {
		code := hcpcs.NormalizeCode(raw)
		entry, ok := c.entries[code]
		if ok && !c.expired(entry, now) {
			res.Cached[code] = entry
			continue
		}
		res.Missing = append(res.Missing, code)
	}
	return res
}

// Set stores entry under code, stamping the current time, and persists.
func (c *Cache) Set(ctx context.Context, code string, entry hcpcs.Entry) {
	c.SetBulk(ctx, map[string]hcpcs.Entry{code: entry})
}

// SetBulk stores all entries with one timestamp and persists once.
// Existing entries for the same codes are overwritten.
func (c *Cache) SetBulk(ctx context.Context, entries map[string]hcpcs.Entry) {
	if len(entries) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.reloadLocked(ctx)

	stamp := c.clock.Now().UnixMilli()

	c.dataMu.Lock()
	for raw, entry := range entries {
		code := hcpcs.NormalizeCode(raw)
		entry.Code = code
		entry.Timestamp = stamp
		entry.Legacy = false
		c.entries[code] = entry
	}
	c.dataMu.Unlock()

	c.persistLocked(ctx)
	c.logger.Debug("cache entries stored", "count", len(entries))
}

// Stats counts entries by provenance and verdict.
func (c *Cache) Stats(ctx context.Context) Stats {
	c.ensureLoaded(ctx)

	c.dataMu.RLock()
	defer c.dataMu.RUnlock()

	var s Stats
	for _, entry := range c.entries {
		s.TotalEntries++
		if entry.IsLegacy() {
			s.LegacyEntries++
		} else {
			s.ModernEntries++
		}
		if entry.IsValid {
			s.ValidEntries++
		} else {
			s.InvalidEntries++
		}
	}
	return s
}

// Clear empties the cache and persists the empty snapshot.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dataMu.Lock()
	c.entries = make(map[string]hcpcs.Entry)
	c.loaded = true
	c.loadedAt = c.clock.Now()
	c.dataMu.Unlock()

	c.persistLocked(ctx)
	c.logger.Info("cache cleared")
}

// ClearStale removes every expired entry and returns how many were removed.
// The store is only written when something was removed.
func (c *Cache) ClearStale(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reloadLocked(ctx)
	now := c.clock.Now()

	removed := 0
	c.dataMu.Lock()
	for code, entry := range c.entries {
		if c.expired(entry, now) {
			delete(c.entries, code)
			removed++
		}
	}
	c.dataMu.Unlock()

	if removed > 0 {
		c.persistLocked(ctx)
		c.logger.Info("stale cache entries removed", "removed", removed)
	}
	return removed
}

// Invalidate forces the next access to reload from the store.
func (c *Cache) Invalidate() {
	c.dataMu.Lock()
	c.loaded = false
	c.dataMu.Unlock()
}

// Epoch returns the number of completed loads from the store.
func (c *Cache) Epoch() uint64 {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	return c.epoch
}

// expired applies the staleness rule to entry at time now.
func (c *Cache) expired(entry hcpcs.Entry, now time.Time) bool {
	age := now.Sub(time.UnixMilli(entry.Timestamp))
	if entry.IsLegacy() {
		if c.opts.TreatLegacyAsStale {
			return true
		}
		return age >= c.opts.LegacyTTL
	}
	return age >= c.opts.ModernTTL
}

// needsReload reports whether the in-memory view is outside its reload window.
func (c *Cache) needsReload() bool {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	return !c.loaded || c.clock.Since(c.loadedAt) >= c.opts.ReloadInterval
}

func (c *Cache) ensureLoaded(ctx context.Context) {
	if !c.needsReload() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloadLocked(ctx)
}

// reloadLocked refreshes the in-memory view if its window has elapsed.
// Caller must hold c.mu. A failed read keeps the current in-memory view
// (empty on first load) and waits for the next window before retrying.
func (c *Cache) reloadLocked(ctx context.Context) {
	if !c.needsReload() {
		return
	}

	entries, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("cache load failed, continuing without durable cache", "error", err)
		c.dataMu.Lock()
		c.loaded = true
		c.loadedAt = c.clock.Now()
		c.dataMu.Unlock()
		return
	}

	if entries == nil {
		entries = make(map[string]hcpcs.Entry)
	}
	migrated := migrateLegacy(entries)

	c.dataMu.Lock()
	c.entries = entries
	c.loaded = true
	c.loadedAt = c.clock.Now()
	c.epoch++
	c.dataMu.Unlock()

	c.logger.Debug("cache loaded", "entries", len(entries), "epoch", c.Epoch())

	if migrated > 0 {
		c.logger.Info("migrated legacy cache entries", "migrated", migrated, "total", len(entries))
		c.persistLocked(ctx)
	}
}

// persistLocked writes the current snapshot. Caller must hold c.mu, which
// guarantees no writer touches the map while the store reads it.
func (c *Cache) persistLocked(ctx context.Context) {
	if err := c.store.Save(ctx, c.entries); err != nil {
		c.logger.Warn("cache save failed", "error", err)
	}
}

// migrateLegacy tags entries lacking provenance and returns how many changed.
func migrateLegacy(entries map[string]hcpcs.Entry) int {
	migrated := 0
	for code, entry := range entries {
		if entry.Code == "" {
			entry.Code = code
		}
		if !entry.MissingProvenance() {
			entries[code] = entry
			continue
		}
		entry.ValidatedBy = hcpcs.LegacyValidatedBy
		entry.Model = hcpcs.LegacyModel
		entry.Legacy = true
		entries[code] = entry
		migrated++
	}
	return migrated
}
