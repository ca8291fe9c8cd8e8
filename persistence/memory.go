package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/stylora/retrieval/index"
)

// MemorySnapshotStore keeps the encoded snapshot in memory. Used in tests
// and for deployments that accept a cold rebuild after restart.
//
// It round-trips through the binary codec rather than holding the
// *Snapshot directly, so it exercises exactly the path the durable
// backends do.
type MemorySnapshotStore struct {
	mu   sync.RWMutex
	name string
	blob []byte
}

// NewMemorySnapshotStore creates an empty in-memory store.
func NewMemorySnapshotStore(name string) *MemorySnapshotStore {
	return &MemorySnapshotStore{name: name}
}

// Save encodes and retains the snapshot.
func (s *MemorySnapshotStore) Save(ctx context.Context, snap *index.Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob = data
	return nil
}

// Load decodes the retained snapshot.
func (s *MemorySnapshotStore) Load(ctx context.Context) (*index.Snapshot, error) {
	s.mu.RLock()
	blob := s.blob
	s.mu.RUnlock()

	if blob == nil {
		return nil, fmt.Errorf("no stored snapshot named %s", s.name)
	}
	return DecodeSnapshot(blob)
}

// Close releases the retained blob.
func (s *MemorySnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob = nil
	return nil
}
