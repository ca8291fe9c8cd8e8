package persistence

import (
	"fmt"

	"github.com/stylora/retrieval/index"
)

// StoreType selects the snapshot storage backend.
type StoreType string

const (
	StoreMemory StoreType = "memory"
	StoreBolt   StoreType = "bolt"
	StoreBadger StoreType = "badger"
)

// Config holds configuration for the snapshot storage backend.
type Config struct {
	// Type of storage backend.
	Type StoreType `json:"type" yaml:"type"`

	// Path to the database file (bolt) or directory (badger). Unused for
	// memory.
	Path string `json:"path" yaml:"path"`
}

// DefaultConfig returns an in-memory snapshot store configuration.
func DefaultConfig() Config {
	return Config{Type: StoreMemory}
}

// Validate checks the configuration for the selected backend.
func (c Config) Validate() error {
	switch c.Type {
	case StoreMemory:
		return nil
	case StoreBolt, StoreBadger:
		if c.Path == "" {
			return fmt.Errorf("path is required for %s snapshot storage", c.Type)
		}
		return nil
	default:
		return fmt.Errorf("unsupported snapshot storage type: %s", c.Type)
	}
}

// NewStore creates a snapshot store for the configured backend. name
// distinguishes multiple indexes sharing one database, typically the
// embedding kind.
func NewStore(cfg Config, name string) (index.SnapshotStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot storage configuration: %w", err)
	}

	switch cfg.Type {
	case StoreMemory:
		return NewMemorySnapshotStore(name), nil
	case StoreBolt:
		return NewBoltSnapshotStore(cfg.Path, name)
	case StoreBadger:
		return NewBadgerSnapshotStore(cfg.Path, name)
	default:
		return nil, fmt.Errorf("unsupported snapshot storage type: %s", cfg.Type)
	}
}
