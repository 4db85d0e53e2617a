// Package storage opens the durable state.Store selected by configuration.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"sensorwatch/internal/state"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Options selects and tunes the storage backend.
type Options struct {
	Backend string
	// Path is the SQLite database file.
	Path string
	// Quota bounds the memory backend in bytes; 0 is unbounded.
	Quota int
}

// Open returns a ready-to-use store for opts.Backend.
func Open(opts Options) (state.Store, error) {
	switch opts.Backend {
	case BackendMemory:
		return state.NewMemoryStore(opts.Quota), nil
	case BackendSQLite, "":
		if dir := filepath.Dir(opts.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		s := NewSQLiteStore(opts.Path)
		if err := s.Open(); err != nil {
			return nil, err
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
