package search

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stylora/retrieval/core"
	"github.com/stylora/retrieval/index"
)

// Strategy selects how attribute filters combine with vector search.
type Strategy string

const (
	// StrategyAuto picks by the filtered-to-total ratio.
	StrategyAuto Strategy = ""

	// StrategySubset builds a throwaway exact index over just the
	// filtered embeddings. Worth it when the filter is narrow.
	StrategySubset Strategy = "subset"

	// StrategyPostfilter oversamples the main index and drops results
	// failing the filter. Better when most of the catalog passes.
	StrategyPostfilter Strategy = "postfilter"
)

const (
	// defaultSubsetRatio: below this filtered/total ratio the subset
	// strategy wins.
	defaultSubsetRatio = 0.10

	// postfilterOversample: how many extra candidates the postfilter
	// strategy requests to survive the cut.
	postfilterOversample = 5
)

// FilteredSearcher combines catalog attribute filters with vector
// search. Both strategies resolve their candidates through the same
// snapshot search, so for a given candidate set the top k is identical
// regardless of strategy.
type FilteredSearcher struct {
	catalog     core.CatalogSource
	manager     *index.Manager
	subsetRatio float64
	log         zerolog.Logger
}

// NewFilteredSearcher wires a filtered searcher.
func NewFilteredSearcher(catalog core.CatalogSource, manager *index.Manager, log zerolog.Logger) *FilteredSearcher {
	return &FilteredSearcher{
		catalog:     catalog,
		manager:     manager,
		subsetRatio: defaultSubsetRatio,
		log:         log.With().Str("component", "filtered-search").Logger(),
	}
}

// SetSubsetRatio overrides the auto-strategy threshold.
func (f *FilteredSearcher) SetSubsetRatio(ratio float64) error {
	if ratio <= 0 || ratio >= 1 {
		return fmt.Errorf("strategy threshold must be in (0, 1), got %v", ratio)
	}
	f.subsetRatio = ratio
	return nil
}

// Search runs a filtered k-NN query. An empty filter set short-circuits
// to an empty result without touching the index. Zero-value filters mean
// no filtering at all and fall through to a plain search.
func (f *FilteredSearcher) Search(ctx context.Context, query []float32, filters core.Filters, k int, minSimilarity float64, strategy Strategy) (*core.SearchResults, error) {
	snap, err := f.manager.Active()
	if err != nil {
		return nil, err
	}

	if filters.IsZero() {
		return searchSnapshot(ctx, snap, query, k, minSimilarity)
	}

	filteredIDs, err := f.catalog.FetchFilteredItemIDs(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("resolving filters: %w", err)
	}
	if len(filteredIDs) == 0 {
		return &core.SearchResults{Results: []core.SearchResult{}, K: k}, nil
	}

	chosen := strategy
	if chosen == StrategyAuto {
		total, err := f.catalog.TotalItems(ctx)
		if err != nil {
			return nil, fmt.Errorf("counting catalog: %w", err)
		}
		ratio := 1.0
		if total > 0 {
			ratio = float64(len(filteredIDs)) / float64(total)
		}
		chosen = StrategyPostfilter
		if ratio < f.subsetRatio {
			chosen = StrategySubset
		}
		f.log.Debug().
			Int("filtered", len(filteredIDs)).
			Int("total", total).
			Str("strategy", string(chosen)).
			Msg("chose filter strategy")
	}

	switch chosen {
	case StrategySubset:
		return f.searchSubset(ctx, snap, query, filters, k, minSimilarity)
	case StrategyPostfilter:
		return f.searchPostfilter(ctx, snap, query, filteredIDs, k, minSimilarity)
	default:
		return nil, fmt.Errorf("unknown filter strategy %q", chosen)
	}
}

// searchSubset builds a throwaway index over the filtered embeddings and
// searches it exactly.
func (f *FilteredSearcher) searchSubset(ctx context.Context, snap *index.Snapshot, query []float32, filters core.Filters, k int, minSimilarity float64) (*core.SearchResults, error) {
	started := time.Now()

	vectors, ids, err := f.catalog.FetchFilteredEmbeddings(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("fetching filtered embeddings: %w", err)
	}
	if len(vectors) == 0 {
		return &core.SearchResults{Results: []core.SearchResult{}, K: k}, nil
	}

	subset, err := index.NewBuilder(snap.Dimension()).Build(vectors, ids, snap.Metadata().SourceVersion)
	if err != nil {
		return nil, fmt.Errorf("building subset index: %w", err)
	}

	results, err := searchSnapshot(ctx, subset, query, k, minSimilarity)
	if err != nil {
		return nil, err
	}
	results.SearchTime = time.Since(started)
	return results, nil
}

// searchPostfilter oversamples the main index and keeps only results
// passing the filter.
func (f *FilteredSearcher) searchPostfilter(ctx context.Context, snap *index.Snapshot, query []float32, filteredIDs []string, k int, minSimilarity float64) (*core.SearchResults, error) {
	started := time.Now()

	allowed := make(map[string]struct{}, len(filteredIDs))
	for _, id := range filteredIDs {
		allowed[id] = struct{}{}
	}

	searchK := k * postfilterOversample
	if searchK > snap.Count() {
		searchK = snap.Count()
	}

	raw, err := searchSnapshot(ctx, snap, query, searchK, minSimilarity)
	if err != nil {
		return nil, err
	}

	kept := make([]core.SearchResult, 0, k)
	for _, r := range raw.Results {
		if _, ok := allowed[r.ItemID]; !ok {
			continue
		}
		r.Rank = len(kept)
		kept = append(kept, r)
		if len(kept) == k {
			break
		}
	}

	return &core.SearchResults{
		Results:    kept,
		K:          k,
		TotalFound: len(kept),
		SearchTime: time.Since(started),
	}, nil
}
