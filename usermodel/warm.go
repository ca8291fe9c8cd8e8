package usermodel

import (
	"fmt"
	"math"

	"github.com/stylora/retrieval/core"
)

const (
	// DefaultAlpha is the EWMA retention factor: high alpha keeps the
	// profile stable, low alpha chases recent interactions.
	DefaultAlpha = 0.95

	// fullConfidenceCount is the interaction count at which a profile
	// reaches full confidence.
	fullConfidenceCount = 20
)

// WarmUpdater folds interactions into a long-term profile with an
// exponentially weighted moving average:
//
//	new = adjustedAlpha*current + (1-adjustedAlpha)*item
//
// where adjustedAlpha = alpha/weight, so heavier interactions pull the
// profile further. Negative weights push the profile away from the item
// instead of towards it.
type WarmUpdater struct {
	alpha float64
}

// NewWarmUpdater creates an updater with the given retention factor.
func NewWarmUpdater(alpha float64) (*WarmUpdater, error) {
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("alpha must be in (0, 1], got %v", alpha)
	}
	return &WarmUpdater{alpha: alpha}, nil
}

// Update returns the profile after folding in one interaction. A zero
// weight is a no-op and returns the current profile unchanged. The
// result is renormalized to unit length.
func (w *WarmUpdater) Update(current, item []float32, weight float64) ([]float32, error) {
	if len(current) != len(item) {
		return nil, core.NewDimensionError(len(current), len(item))
	}
	if weight == 0 {
		return current, nil
	}

	// A negative interaction moves the profile away from the item: the
	// item direction flips, scaled by the weight's magnitude, and the
	// update proceeds at unit weight.
	itemVec := item
	if weight < 0 {
		itemVec = make([]float32, len(item))
		mag := float32(math.Abs(weight))
		for i, v := range item {
			itemVec[i] = -v * mag
		}
		weight = 1.0
	}

	adjusted := w.alpha / weight
	if adjusted > 1 {
		adjusted = 1
	}

	a := float32(adjusted)
	out := make([]float32, len(current))
	for i := range out {
		out[i] = a*current[i] + (1-a)*itemVec[i]
	}
	core.NormalizeInPlace(out)
	return out, nil
}

// UpdateBatch folds a series of interactions in order. Interactions with
// missing embeddings should be filtered out by the caller.
func (w *WarmUpdater) UpdateBatch(current []float32, items [][]float32, weights []float64) ([]float32, error) {
	if len(items) != len(weights) {
		return nil, fmt.Errorf("%d embeddings for %d weights", len(items), len(weights))
	}

	out := current
	for i, item := range items {
		next, err := w.Update(out, item, weights[i])
		if err != nil {
			return nil, err
		}
		out = next
	}
	return out, nil
}

// Drift measures how far a profile moved, as cosine distance between the
// old and new unit vectors: 0 means unchanged, 2 a full reversal.
func (w *WarmUpdater) Drift(old, updated []float32) (float64, error) {
	sim, err := core.CosineSimilarity(old, updated)
	if err != nil {
		return 0, err
	}
	return 1 - float64(sim), nil
}

// Confidence maps an interaction count to [0, 1], saturating at
// fullConfidenceCount interactions.
func Confidence(interactionCount int) float64 {
	if interactionCount <= 0 {
		return 0
	}
	return math.Min(float64(interactionCount)/fullConfidenceCount, 1.0)
}
