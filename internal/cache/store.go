package cache

import (
	"context"

	"github.com/JonMunkholm/cdmmerge/internal/hcpcs"
)

// Store persists a full snapshot of the cache.
//
// Implementations read and overwrite the whole code -> entry mapping; no
// partial or append writes are required. A store with no data yet returns an
// empty map and a nil error.
type Store interface {
	Load(ctx context.Context) (map[string]hcpcs.Entry, error)
	Save(ctx context.Context, entries map[string]hcpcs.Entry) error

	// Location identifies the durable storage for logs and diagnostics.
	Location() string
}
