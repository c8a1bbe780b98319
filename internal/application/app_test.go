package application

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/JonMunkholm/cdmmerge/internal/config"
	"github.com/JonMunkholm/cdmmerge/internal/hcpcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Cache: config.CacheConfig{
			Backend:        config.BackendFile,
			Path:           filepath.Join(t.TempDir(), "cache.json"),
			ModernTTL:      time.Hour,
			LegacyTTL:      time.Minute,
			ReloadInterval: time.Minute,
			SweepInterval:  time.Hour,
		},
		Validation: config.ValidationConfig{
			BatchSize:         10,
			MaxConcurrentRuns: 2,
			MaxWaitTime:       time.Second,
		},
		Providers: config.ProvidersConfig{
			Order:      []string{"openai", "perplexity"},
			OpenAI:     config.ProviderConfig{APIKey: "sk-test", Model: "gpt-4o-mini", BaseURL: "http://127.0.0.1:1"},
			Perplexity: config.ProviderConfig{Model: "sonar", BaseURL: "http://127.0.0.1:1"},
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_FileBackend(t *testing.T) {
	cfg := testConfig(t)
	app, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, cfg.Cache.Path, app.Store.Location())
	assert.Equal(t, 2, app.Pool.Len())
	assert.Equal(t, 2, app.Limiter.MaxConcurrent())

	status := app.Pool.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "openai", status[0].Name)
	assert.True(t, status[0].Available)
	assert.Equal(t, "perplexity", status[1].Name)
	assert.False(t, status[1].Available, "no API key")

	// The cache writes through to the configured file.
	app.Cache.SetBulk(context.Background(), map[string]hcpcs.Entry{
		"99213": {IsValid: true, ValidatedBy: "openai", Model: "gpt-4o-mini"},
	})
	entries, err := app.Store.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, entries, "99213")
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = "redis"

	_, err := New(context.Background(), cfg, discardLogger())
	assert.ErrorContains(t, err, "unknown cache backend")
}

func TestNew_RegistersMetrics(t *testing.T) {
	app, err := New(context.Background(), testConfig(t), discardLogger())
	require.NoError(t, err)
	defer app.Close()

	families, err := app.Registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
	assert.True(t, names["hcpcs_active_runs"])
}

func TestDatabaseName(t *testing.T) {
	assert.Equal(t, "cdm", databaseName("postgres://user:pw@localhost:5432/cdm?sslmode=disable"))
	assert.Equal(t, "", databaseName("://bad"))
}
