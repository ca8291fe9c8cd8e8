package index

import (
	"fmt"
	"time"

	"github.com/stylora/retrieval/core"
)

// KindFlat is the only index algorithm currently built. The metadata field
// exists so persisted snapshots from a future approximate algorithm remain
// distinguishable.
const KindFlat = "flat"

// Metadata describes how and when a snapshot was built.
type Metadata struct {
	Dimension     int       `json:"dimension"`
	Kind          string    `json:"kind"`
	Count         int       `json:"count"`
	CreatedAt     time.Time `json:"created_at"`
	SourceVersion string    `json:"source_version,omitempty"`
}

// Snapshot is a fully built, immutable index instance: the vector block,
// the position->id mapping, its inverse, and build metadata. Snapshots are
// never mutated after construction; the lifecycle manager swaps whole
// snapshots atomically.
type Snapshot struct {
	vectors [][]float32
	ids     []string
	pos     map[string]int
	meta    Metadata
}

// newSnapshot wires the mappings for a validated vector set. Callers own
// the input slices and must not mutate them afterwards.
func newSnapshot(vectors [][]float32, ids []string, meta Metadata) (*Snapshot, error) {
	if len(vectors) != len(ids) {
		return nil, fmt.Errorf("vector count %d does not match id count %d", len(vectors), len(ids))
	}

	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := pos[id]; dup {
			return nil, fmt.Errorf("duplicate item id %q at position %d", id, i)
		}
		pos[id] = i
	}

	meta.Count = len(ids)
	return &Snapshot{
		vectors: vectors,
		ids:     ids,
		pos:     pos,
		meta:    meta,
	}, nil
}

// Count returns the number of indexed vectors.
func (s *Snapshot) Count() int { return len(s.ids) }

// Dimension returns the vector dimension.
func (s *Snapshot) Dimension() int { return s.meta.Dimension }

// Metadata returns the snapshot's build metadata.
func (s *Snapshot) Metadata() Metadata { return s.meta }

// ItemAt resolves a position to its item id.
func (s *Snapshot) ItemAt(position int) (string, bool) {
	if position < 0 || position >= len(s.ids) {
		return "", false
	}
	return s.ids[position], true
}

// PositionOf resolves an item id to its position.
func (s *Snapshot) PositionOf(itemID string) (int, bool) {
	p, ok := s.pos[itemID]
	return p, ok
}

// VectorOf returns the stored vector for an item id.
func (s *Snapshot) VectorOf(itemID string) ([]float32, error) {
	p, ok := s.pos[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrItemNotIndexed, itemID)
	}
	return s.vectors[p], nil
}
