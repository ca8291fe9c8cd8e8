package index

import (
	"fmt"
	"time"

	"github.com/stylora/retrieval/core"
)

// Builder constructs snapshots from raw embedding sets.
type Builder struct {
	dimension int
}

// NewBuilder creates a builder for vectors of the given dimension.
func NewBuilder(dimension int) *Builder {
	return &Builder{dimension: dimension}
}

// Dimension returns the dimension the builder accepts.
func (b *Builder) Dimension() int { return b.dimension }

// Build validates and normalizes the embeddings, then assembles an
// immutable snapshot. Vectors are copied and L2-normalized so the stored
// unit-norm invariant holds regardless of the source.
func (b *Builder) Build(vectors [][]float32, ids []string, sourceVersion string) (*Snapshot, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no embeddings to index", core.ErrBuildFailed)
	}
	if len(vectors) != len(ids) {
		return nil, fmt.Errorf("%w: %d embeddings for %d ids", core.ErrBuildFailed, len(vectors), len(ids))
	}

	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		if err := core.ValidateVector(v); err != nil {
			return nil, fmt.Errorf("%w: item %s: %v", core.ErrBuildFailed, ids[i], err)
		}
		if len(v) != b.dimension {
			return nil, fmt.Errorf("%w: item %s: %v", core.ErrBuildFailed, ids[i],
				core.NewDimensionError(b.dimension, len(v)))
		}
		normalized[i] = core.Normalize(v)
	}

	meta := Metadata{
		Dimension:     b.dimension,
		Kind:          KindFlat,
		CreatedAt:     time.Now().UTC(),
		SourceVersion: sourceVersion,
	}

	snap, err := newSnapshot(normalized, append([]string(nil), ids...), meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrBuildFailed, err)
	}
	return snap, nil
}

// Restore reassembles a snapshot from persisted state without
// re-normalizing, trusting vectors that were validated at build time.
// Used by the persistence layer on load.
func Restore(vectors [][]float32, ids []string, meta Metadata) (*Snapshot, error) {
	if meta.Dimension == 0 && len(vectors) > 0 {
		meta.Dimension = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != meta.Dimension {
			return nil, fmt.Errorf("persisted vector %d has dimension %d, metadata says %d",
				i, len(v), meta.Dimension)
		}
	}
	return newSnapshot(vectors, ids, meta)
}
