package index

import (
	"context"
	"sort"

	"github.com/stylora/retrieval/core"
)

// ctx cancellation is checked once per scanCheckInterval vectors during a
// brute-force pass.
const scanCheckInterval = 4096

// Neighbor is a raw k-NN hit: a snapshot position and its L2 distance to
// the query.
type Neighbor struct {
	Position int
	Distance float32
}

// Search performs brute-force exact search for the k nearest neighbors of
// query. k greater than the snapshot size is truncated, not an error.
func (s *Snapshot) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if err := core.ValidateVectorDimension(query, s.meta.Dimension); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	if k > len(s.vectors) {
		k = len(s.vectors)
	}

	neighbors := make([]Neighbor, 0, len(s.vectors))
	for i, vec := range s.vectors {
		if i%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		dist, err := core.EuclideanDistance(query, vec)
		if err != nil {
			return nil, err
		}
		neighbors = append(neighbors, Neighbor{Position: i, Distance: dist})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		// Stable tiebreak so equal distances rank deterministically.
		return neighbors[i].Position < neighbors[j].Position
	})

	return neighbors[:k], nil
}

// SearchBatch runs Search for a stack of query vectors, returning one
// neighbor list per query.
func (s *Snapshot) SearchBatch(ctx context.Context, queries [][]float32, k int) ([][]Neighbor, error) {
	results := make([][]Neighbor, len(queries))
	for i, q := range queries {
		hits, err := s.Search(ctx, q, k)
		if err != nil {
			return nil, err
		}
		results[i] = hits
	}
	return results, nil
}
