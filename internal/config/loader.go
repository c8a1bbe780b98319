package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	cfg.Providers.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// loadStruct recursively populates struct fields from environment variables.
// A nested struct's prefix tag is prepended to the env names inside it.
func loadStruct(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal, prefix+field.Tag.Get("prefix")); err != nil {
				return err
			}
			continue
		}

		// Get tags
		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}
		envName = prefix + envName
		if envAlt != "" {
			envAlt = prefix + envAlt
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Cache validation
	switch c.Cache.Backend {
	case BackendFile:
		if c.Cache.Path == "" {
			errs = append(errs, "CACHE_PATH is required for the file backend")
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres backend")
		}
		if c.Cache.Table == "" {
			errs = append(errs, "CACHE_TABLE is required for the postgres backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("CACHE_BACKEND (%q) must be one of: file, postgres", c.Cache.Backend))
	}
	if c.Cache.ModernTTL <= 0 {
		errs = append(errs, "CACHE_MODERN_TTL must be positive")
	}
	if c.Cache.LegacyTTL <= 0 {
		errs = append(errs, "CACHE_LEGACY_TTL must be positive")
	}
	if c.Cache.ReloadInterval <= 0 {
		errs = append(errs, "CACHE_RELOAD_INTERVAL must be positive")
	}
	if c.Cache.SweepInterval <= 0 {
		errs = append(errs, "CACHE_SWEEP_INTERVAL must be positive")
	}

	// Database validation
	if c.Cache.Backend == BackendPostgres {
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
	}

	// Validation run settings
	if c.Validation.BatchSize <= 0 {
		errs = append(errs, "VALIDATION_BATCH_SIZE must be positive")
	}
	if c.Validation.BatchDelay < 0 {
		errs = append(errs, "VALIDATION_BATCH_DELAY must be non-negative")
	}
	if c.Validation.MaxConcurrentRuns <= 0 {
		errs = append(errs, "VALIDATION_MAX_CONCURRENT_RUNS must be positive")
	}
	if c.Validation.MaxWaitTime <= 0 {
		errs = append(errs, "VALIDATION_MAX_WAIT_TIME must be positive")
	}
	if c.Validation.MaxCodes <= 0 {
		errs = append(errs, "VALIDATION_MAX_CODES must be positive")
	}
	if c.Validation.RunTimeout <= 0 {
		errs = append(errs, "VALIDATION_RUN_TIMEOUT must be positive")
	}
	if c.Validation.MaxFileSize <= 0 {
		errs = append(errs, "VALIDATION_MAX_FILE_SIZE must be positive")
	}
	if c.Validation.InvalidRateThreshold <= 0 || c.Validation.InvalidRateThreshold > 1 {
		errs = append(errs, "VALIDATION_INVALID_RATE_THRESHOLD must be in (0, 1]")
	}

	// Provider validation
	seen := make(map[string]bool)
	for _, name := range c.Providers.Order {
		slot, ok := c.Providers.Slot(name)
		if !ok {
			errs = append(errs, fmt.Sprintf("PROVIDER_ORDER contains unknown provider %q", name))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Sprintf("PROVIDER_ORDER lists %q twice", name))
		}
		seen[name] = true
		envPrefix := strings.ToUpper(name) + "_"
		if slot.RequestsPerMinute <= 0 {
			errs = append(errs, envPrefix+"REQUESTS_PER_MINUTE must be positive")
		}
		if slot.Timeout <= 0 {
			errs = append(errs, envPrefix+"TIMEOUT must be positive")
		}
		if slot.MaxRetries < 0 {
			errs = append(errs, envPrefix+"MAX_RETRIES must be non-negative")
		}
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.ValidateLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_VALIDATE must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Database URLs and API keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Cache: {Backend: %q, Path: %q, ModernTTL: %s, LegacyTTL: %s}, ",
		c.Cache.Backend, c.Cache.Path, c.Cache.ModernTTL, c.Cache.LegacyTTL)
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Validation: {BatchSize: %d, BatchDelay: %s, MaxConcurrentRuns: %d}, ",
		c.Validation.BatchSize, c.Validation.BatchDelay, c.Validation.MaxConcurrentRuns)
	fmt.Fprintf(&b, "Providers: {Order: %v, Perplexity: %s, OpenAI: %s}, ",
		c.Providers.Order, maskKey(c.Providers.Perplexity.APIKey), maskKey(c.Providers.OpenAI.APIKey))
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}

func maskKey(key string) string {
	if key == "" {
		return "[UNSET]"
	}
	return "[MASKED]"
}
