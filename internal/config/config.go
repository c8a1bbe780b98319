// Package config provides centralized configuration management for the service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Cache backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Cache      CacheConfig
	Database   DatabaseConfig
	Validation ValidationConfig
	Providers  ProvidersConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including draining active runs (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// CacheConfig holds validation cache settings.
type CacheConfig struct {
	// Backend selects the durable store: file or postgres (default: file)
	Backend string `env:"CACHE_BACKEND" default:"file"`

	// Path is the JSON snapshot location for the file backend
	Path string `env:"CACHE_PATH" default:"data/hcpcs_validation_cache.json"`

	// Table is the table name for the postgres backend
	Table string `env:"CACHE_TABLE" default:"hcpcs_validation_cache"`

	// ModernTTL is the lifetime of entries with provenance (default: 120 days)
	ModernTTL time.Duration `env:"CACHE_MODERN_TTL" default:"2880h"`

	// LegacyTTL is the lifetime of entries without provenance (default: 7 days)
	LegacyTTL time.Duration `env:"CACHE_LEGACY_TTL" default:"168h"`

	// TreatLegacyAsStale forces legacy entries to be revalidated (default: false)
	TreatLegacyAsStale bool `env:"CACHE_TREAT_LEGACY_AS_STALE" default:"false"`

	// ReloadInterval is how long a loaded snapshot is trusted (default: 5m)
	ReloadInterval time.Duration `env:"CACHE_RELOAD_INTERVAL" default:"5m"`

	// SweepInterval is how often expired entries are removed (default: 6h)
	SweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL" default:"6h"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string, required for the postgres backend.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ValidationConfig holds run settings.
type ValidationConfig struct {
	// BatchSize is the number of codes validated in parallel (default: 50)
	BatchSize int `env:"VALIDATION_BATCH_SIZE" default:"50"`

	// BatchDelay is the pause between batches (default: 200ms)
	BatchDelay time.Duration `env:"VALIDATION_BATCH_DELAY" default:"200ms"`

	// MaxConcurrentRuns is the number of runs allowed at once (default: 4)
	MaxConcurrentRuns int `env:"VALIDATION_MAX_CONCURRENT_RUNS" default:"4"`

	// MaxWaitTime is how long a request waits for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"VALIDATION_MAX_WAIT_TIME" default:"30s"`

	// MaxCodes caps the codes accepted in one request (default: 5000)
	MaxCodes int `env:"VALIDATION_MAX_CODES" default:"5000"`

	// RunTimeout is the maximum duration of a single run (default: 10m)
	RunTimeout time.Duration `env:"VALIDATION_RUN_TIMEOUT" default:"10m"`

	// MaxFileSize is the maximum upload size in bytes (default: 10MB)
	MaxFileSize int64 `env:"VALIDATION_MAX_FILE_SIZE" default:"10485760"`

	// InvalidRateThreshold is the invalid share above which a run logs a warning (default: 0.30)
	InvalidRateThreshold float64 `env:"VALIDATION_INVALID_RATE_THRESHOLD" default:"0.30"`

	// InvalidRateMinCodes is the run size below which the check is skipped (default: 10)
	InvalidRateMinCodes int `env:"VALIDATION_INVALID_RATE_MIN_CODES" default:"10"`
}

// ProvidersConfig holds the validation provider slots, tried in Order.
type ProvidersConfig struct {
	// Order lists provider names in rotation order (default: perplexity,openai)
	Order []string `env:"PROVIDER_ORDER" default:"perplexity,openai"`

	Perplexity ProviderConfig `prefix:"PERPLEXITY_"`
	OpenAI     ProviderConfig `prefix:"OPENAI_"`
}

// ProviderConfig configures one chat-completions provider. Env names are
// prefixed by the owning field's prefix tag.
type ProviderConfig struct {
	// APIKey enables the provider; an empty key leaves it unavailable
	APIKey string `env:"API_KEY"`

	// Model overrides the provider's default model
	Model string `env:"MODEL"`

	// BaseURL overrides the provider's API root
	BaseURL string `env:"BASE_URL"`

	// RequestsPerMinute paces requests to the provider (default: 60)
	RequestsPerMinute int `env:"REQUESTS_PER_MINUTE" default:"60"`

	// Timeout bounds a single request (default: 30s)
	Timeout time.Duration `env:"TIMEOUT" default:"30s"`

	// MaxRetries is the number of retries after a transient failure (default: 2)
	MaxRetries int `env:"MAX_RETRIES" default:"2"`
}

// Provider defaults applied after loading.
var providerDefaults = map[string]ProviderConfig{
	"perplexity": {Model: "sonar", BaseURL: "https://api.perplexity.ai"},
	"openai":     {Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1"},
}

// Slot returns the configuration for the named provider.
func (p *ProvidersConfig) Slot(name string) (ProviderConfig, bool) {
	switch name {
	case "perplexity":
		return p.Perplexity, true
	case "openai":
		return p.OpenAI, true
	}
	return ProviderConfig{}, false
}

func (p *ProvidersConfig) applyDefaults() {
	for name, slot := range map[string]*ProviderConfig{"perplexity": &p.Perplexity, "openai": &p.OpenAI} {
		def := providerDefaults[name]
		if slot.Model == "" {
			slot.Model = def.Model
		}
		if slot.BaseURL == "" {
			slot.BaseURL = def.BaseURL
		}
	}
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ValidateLimit is requests per minute for validation endpoints (default: 20)
	ValidateLimit int `env:"RATE_LIMIT_VALIDATE" default:"20"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables API key authentication for /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
