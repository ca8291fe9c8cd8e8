package search

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stylora/retrieval/core"
	"github.com/stylora/retrieval/index"
)

// batchParallelism caps concurrent snapshot scans in SearchBatch.
const batchParallelism = 8

// Searcher answers k-NN queries against the active index snapshot and
// formats raw neighbors into scored results.
type Searcher struct {
	manager *index.Manager
	log     zerolog.Logger
}

// NewSearcher wires a searcher over the index lifecycle manager.
func NewSearcher(manager *index.Manager, log zerolog.Logger) *Searcher {
	return &Searcher{
		manager: manager,
		log:     log.With().Str("component", "searcher").Logger(),
	}
}

// Search returns the k nearest items to the query vector. minSimilarity
// in (0, 1] drops weak matches; zero disables the threshold. The query
// is normalized before searching.
func (s *Searcher) Search(ctx context.Context, query []float32, k int, minSimilarity float64) (*core.SearchResults, error) {
	snap, err := s.manager.Active()
	if err != nil {
		return nil, err
	}
	return searchSnapshot(ctx, snap, query, k, minSimilarity)
}

// SearchBatch answers all queries against the same snapshot, fanning
// the scans out across goroutines. Results keep query order.
func (s *Searcher) SearchBatch(ctx context.Context, queries [][]float32, k int, minSimilarity float64) ([]*core.SearchResults, error) {
	snap, err := s.manager.Active()
	if err != nil {
		return nil, err
	}

	out := make([]*core.SearchResults, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchParallelism)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			res, err := searchSnapshot(gctx, snap, q, k, minSimilarity)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchByItem finds the items most similar to an indexed item, using
// its stored vector as the query. With excludeSelf the item itself is
// dropped and the remaining results re-ranked, still returning up to k.
func (s *Searcher) SearchByItem(ctx context.Context, itemID string, k int, excludeSelf bool, minSimilarity float64) (*core.SearchResults, error) {
	snap, err := s.manager.Active()
	if err != nil {
		return nil, err
	}

	vector, err := snap.VectorOf(itemID)
	if err != nil {
		return nil, err
	}

	searchK := k
	if excludeSelf {
		searchK = k + 1
	}

	results, err := searchSnapshot(ctx, snap, vector, searchK, minSimilarity)
	if err != nil {
		return nil, err
	}

	if excludeSelf {
		kept := results.Results[:0]
		for _, r := range results.Results {
			if r.ItemID == itemID {
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) > k {
			kept = kept[:k]
		}
		for i := range kept {
			kept[i].Rank = i
		}
		results.Results = kept
		results.K = k
		results.TotalFound = len(kept)
	}
	return results, nil
}

// searchSnapshot is the single query path: every search in the package,
// filtered or not, resolves through it so identical candidate sets yield
// identical results.
func searchSnapshot(ctx context.Context, snap *index.Snapshot, query []float32, k int, minSimilarity float64) (*core.SearchResults, error) {
	if err := core.ValidateVector(query); err != nil {
		return nil, err
	}

	started := time.Now()
	normalized := core.Normalize(query)

	neighbors, err := snap.Search(ctx, normalized, k)
	if err != nil {
		return nil, err
	}

	results := formatNeighbors(snap, neighbors, minSimilarity)
	return &core.SearchResults{
		Results:    results,
		K:          k,
		TotalFound: len(results),
		SearchTime: time.Since(started),
	}, nil
}

func formatNeighbors(snap *index.Snapshot, neighbors []index.Neighbor, minSimilarity float64) []core.SearchResult {
	results := make([]core.SearchResult, 0, len(neighbors))
	for _, n := range neighbors {
		itemID, ok := snap.ItemAt(n.Position)
		if !ok {
			continue
		}

		similarity := core.DistanceToSimilarity(n.Distance)
		if minSimilarity > 0 && float64(similarity) < minSimilarity {
			continue
		}

		results = append(results, core.SearchResult{
			ItemID:     itemID,
			Distance:   n.Distance,
			Similarity: similarity,
			Rank:       len(results),
		})
	}
	return results
}
