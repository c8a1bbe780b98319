package cache

// file_store.go keeps the cache snapshot in a single JSON file.
//
// Writes go to a temp file in the same directory and are renamed into place,
// so readers never observe a half-written snapshot. An advisory lock on
// "<path>.lock" serializes access between processes sharing the file (the
// server and hcpcsctl, for example); in-process serialization is the Cache's job.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/cdmmerge/internal/hcpcs"
	"github.com/gofrs/flock"
)

// lockRetryDelay is how often a blocked caller re-polls the file lock.
const lockRetryDelay = 25 * time.Millisecond

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// FileStore implements Store on top of a JSON file.
type FileStore struct {
	path string
	lock *flock.Flock
}

// NewFileStore creates a store backed by the file at path.
// The file and its directory are created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Location returns the snapshot file path.
func (s *FileStore) Location() string {
	return s.path
}

// Load reads the snapshot. A missing file is an empty cache.
func (s *FileStore) Load(ctx context.Context) (map[string]hcpcs.Entry, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return make(map[string]hcpcs.Entry), nil
	}

	locked, err := s.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock cache file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock cache file: %s is busy", s.path)
	}
	defer s.lock.Unlock()

	//nolint:gosec // path comes from configuration
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]hcpcs.Entry), nil
		}
		return nil, fmt.Errorf("read cache file: %w", err)
	}

	entries := make(map[string]hcpcs.Entry)
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse cache file %s: %w", s.path, err)
	}

	for code, entry := range entries {
		if entry.Code == "" {
			entry.Code = code
			entries[code] = entry
		}
	}
	return entries, nil
}

// Save atomically overwrites the snapshot.
func (s *FileStore) Save(ctx context.Context, entries map[string]hcpcs.Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock cache file: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache file: %s is busy", s.path)
	}
	defer s.lock.Unlock()

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
