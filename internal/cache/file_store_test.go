package cache

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/JonMunkholm/cdmmerge/internal/hcpcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_LoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "cache.json"))

	entries, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cache.json")
	store := NewFileStore(path)

	in := map[string]hcpcs.Entry{
		"99213": modernEntry("99213", true, testStart),
		"ABC12": {Code: "ABC12", IsValid: false, InvalidReason: "unknown code", ValidatedBy: "openai", Model: "gpt-4o-mini", Timestamp: testStart.UnixMilli()},
	}
	require.NoError(t, store.Save(ctx, in))

	out, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// No temp files are left next to the snapshot.
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path).Load(context.Background())
	assert.Error(t, err)
}

func TestFileStore_LegacyFileMigratesThroughCache(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.json")

	// A snapshot written before provenance tracking: no code field, no
	// validatedBy, no model.
	legacy := []byte(`{
  "99213": {"isValid": true, "reason": "office visit", "timestamp": ` +
		strconv.FormatInt(testStart.UnixMilli(), 10) + `}
}`)
	require.NoError(t, os.WriteFile(path, legacy, 0o600))

	store := NewFileStore(path)
	c, _ := newTestCache(store, Options{})

	got, ok := c.Get(ctx, "99213")
	require.True(t, ok)
	assert.Equal(t, "99213", got.Code)
	assert.True(t, got.Legacy)

	// Reopen from disk: the migration was persisted.
	persisted, err := NewFileStore(path).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, hcpcs.LegacyValidatedBy, persisted["99213"].ValidatedBy)
	assert.Equal(t, hcpcs.LegacyModel, persisted["99213"].Model)
}

func TestFileStore_LegacyForcedStale(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.json")
	store := NewFileStore(path)
	require.NoError(t, store.Save(ctx, map[string]hcpcs.Entry{
		"99213": {Code: "99213", IsValid: true, Timestamp: testStart.UnixMilli()},
	}))

	c, _ := newTestCache(store, Options{TreatLegacyAsStale: true})

	_, ok := c.Get(ctx, "99213")
	assert.False(t, ok)
}
