package usermodel

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/stylora/retrieval/core"
)

// DefaultMinSelections is how many style-quiz picks a profile needs
// before the mean carries any confidence.
const DefaultMinSelections = 3

// ColdStart creates initial embeddings for users without history, from
// style-quiz selections or as a last-resort random direction.
type ColdStart struct {
	dimension     int
	minSelections int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewColdStart creates a generator for the given embedding dimension.
func NewColdStart(dimension int, seed int64) *ColdStart {
	return &ColdStart{
		dimension:     dimension,
		minSelections: DefaultMinSelections,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// FromSelections builds a profile as the normalized mean of the picked
// item embeddings; confidence scales with the selection count. Below
// the minimum the mean is too noisy to trust, so the profile falls back
// to a random direction at zero confidence.
func (c *ColdStart) FromSelections(embeddings [][]float32) ([]float32, float64, error) {
	for i, e := range embeddings {
		if len(e) != c.dimension {
			return nil, 0, core.NewDimensionError(c.dimension, len(e))
		}
		if err := core.ValidateVector(e); err != nil {
			return nil, 0, fmt.Errorf("selection %d: %w", i, err)
		}
	}

	if len(embeddings) < c.minSelections {
		return c.RandomEmbedding(), 0, nil
	}

	mean, err := core.MeanVector(embeddings)
	if err != nil {
		return nil, 0, err
	}
	return core.Normalize(mean), Confidence(len(embeddings)), nil
}

// RandomEmbedding returns a random unit vector. Confidence is always
// zero; it exists so a brand-new user gets diverse results instead of
// none.
func (c *ColdStart) RandomEmbedding() []float32 {
	vec := make([]float32, c.dimension)

	c.mu.Lock()
	for i := range vec {
		vec[i] = float32(c.rng.NormFloat64())
	}
	c.mu.Unlock()

	core.NormalizeInPlace(vec)
	return vec
}
