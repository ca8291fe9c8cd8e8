package search

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylora/retrieval/core"
	"github.com/stylora/retrieval/index"
)

// catalogFixture serves a small catalog with filterable attributes.
type catalogFixture struct {
	vectors [][]float32
	ids     []string
	items   map[string]core.CatalogItem
}

func (c *catalogFixture) FetchAllEmbeddings(ctx context.Context, kind core.EmbeddingKind) ([][]float32, []string, error) {
	return c.vectors, c.ids, nil
}

func (c *catalogFixture) FetchFilteredItemIDs(ctx context.Context, filters core.Filters) ([]string, error) {
	var out []string
	for _, id := range c.ids {
		if filters.Matches(c.items[id]) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (c *catalogFixture) FetchFilteredEmbeddings(ctx context.Context, filters core.Filters) ([][]float32, []string, error) {
	var vectors [][]float32
	var ids []string
	for i, id := range c.ids {
		if filters.Matches(c.items[id]) {
			vectors = append(vectors, c.vectors[i])
			ids = append(ids, id)
		}
	}
	return vectors, ids, nil
}

func (c *catalogFixture) FetchItems(ctx context.Context, ids []string) (map[string]core.CatalogItem, error) {
	out := make(map[string]core.CatalogItem)
	for _, id := range ids {
		if item, ok := c.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func (c *catalogFixture) TotalItems(ctx context.Context) (int, error) {
	return len(c.ids), nil
}

func newFixture(t *testing.T) (*catalogFixture, *index.Manager) {
	t.Helper()

	catalog := &catalogFixture{
		vectors: [][]float32{
			{1, 0},
			{0, 1},
			{0.9, 0.1},
			{0.7, 0.3},
		},
		ids: []string{"shoe-1", "hat-1", "shoe-2", "shoe-3"},
		items: map[string]core.CatalogItem{
			"shoe-1": {ID: "shoe-1", Price: 50, InStock: true, CategoryID: "shoes", BrandID: "nike"},
			"hat-1":  {ID: "hat-1", Price: 20, InStock: true, CategoryID: "hats", BrandID: "nike"},
			"shoe-2": {ID: "shoe-2", Price: 90, InStock: false, CategoryID: "shoes", BrandID: "adidas"},
			"shoe-3": {ID: "shoe-3", Price: 60, InStock: true, CategoryID: "shoes", BrandID: "adidas"},
		},
	}

	cfg := index.DefaultManagerConfig()
	cfg.Dimension = 2
	cfg.RebuildInterval = time.Hour
	m := index.NewManager(catalog, nil, cfg, zerolog.Nop())
	require.NoError(t, m.EnsureLoaded(context.Background()))
	return catalog, m
}

func TestSearch(t *testing.T) {
	_, m := newFixture(t)
	s := NewSearcher(m, zerolog.Nop())

	res, err := s.Search(context.Background(), []float32{1, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "shoe-1", res.Results[0].ItemID)
	assert.Equal(t, "shoe-2", res.Results[1].ItemID)
	assert.Equal(t, 0, res.Results[0].Rank)
	assert.InDelta(t, 1.0, float64(res.Results[0].Similarity), 1e-5)
}

func TestSearchMinSimilarity(t *testing.T) {
	_, m := newFixture(t)
	s := NewSearcher(m, zerolog.Nop())

	res, err := s.Search(context.Background(), []float32{1, 0}, 4, 0.9)
	require.NoError(t, err)
	for _, r := range res.Results {
		assert.GreaterOrEqual(t, float64(r.Similarity), 0.9)
	}
	assert.Less(t, len(res.Results), 4, "orthogonal item filtered out")
}

func TestSearchNormalizesQuery(t *testing.T) {
	_, m := newFixture(t)
	s := NewSearcher(m, zerolog.Nop())

	scaled, err := s.Search(context.Background(), []float32{100, 0}, 1, 0)
	require.NoError(t, err)
	unit, err := s.Search(context.Background(), []float32{1, 0}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, unit.Results[0].ItemID, scaled.Results[0].ItemID)
	assert.InDelta(t, float64(unit.Results[0].Similarity), float64(scaled.Results[0].Similarity), 1e-6)
}

func TestSearchByItem(t *testing.T) {
	_, m := newFixture(t)
	s := NewSearcher(m, zerolog.Nop())

	t.Run("excludes self and re-ranks", func(t *testing.T) {
		res, err := s.SearchByItem(context.Background(), "shoe-1", 2, true, 0)
		require.NoError(t, err)
		require.Len(t, res.Results, 2)
		for i, r := range res.Results {
			assert.NotEqual(t, "shoe-1", r.ItemID)
			assert.Equal(t, i, r.Rank)
		}
		assert.Equal(t, "shoe-2", res.Results[0].ItemID)
	})

	t.Run("self included when asked", func(t *testing.T) {
		res, err := s.SearchByItem(context.Background(), "shoe-1", 2, false, 0)
		require.NoError(t, err)
		assert.Equal(t, "shoe-1", res.Results[0].ItemID)
	})

	t.Run("unknown item errors", func(t *testing.T) {
		_, err := s.SearchByItem(context.Background(), "ghost", 2, true, 0)
		assert.ErrorIs(t, err, core.ErrItemNotIndexed)
	})
}

func TestSearchBatch(t *testing.T) {
	_, m := newFixture(t)
	s := NewSearcher(m, zerolog.Nop())

	res, err := s.SearchBatch(context.Background(), [][]float32{{1, 0}, {0, 1}}, 1, 0)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "shoe-1", res[0].Results[0].ItemID)
	assert.Equal(t, "hat-1", res[1].Results[0].ItemID)
}

func TestFilteredSearch(t *testing.T) {
	catalog, m := newFixture(t)
	f := NewFilteredSearcher(catalog, m, zerolog.Nop())
	ctx := context.Background()

	t.Run("zero filters fall through to plain search", func(t *testing.T) {
		res, err := f.Search(ctx, []float32{1, 0}, core.Filters{}, 2, 0, StrategyAuto)
		require.NoError(t, err)
		assert.Equal(t, "shoe-1", res.Results[0].ItemID)
	})

	t.Run("empty filter set short-circuits", func(t *testing.T) {
		res, err := f.Search(ctx, []float32{1, 0}, core.Filters{CategoryIDs: []string{"plumbing"}}, 5, 0, StrategyAuto)
		require.NoError(t, err)
		assert.Empty(t, res.Results)
	})

	t.Run("filter constrains results", func(t *testing.T) {
		filters := core.Filters{CategoryIDs: []string{"shoes"}, InStockOnly: true}
		res, err := f.Search(ctx, []float32{1, 0}, filters, 5, 0, StrategyAuto)
		require.NoError(t, err)
		require.NotEmpty(t, res.Results)
		for _, r := range res.Results {
			item := catalog.items[r.ItemID]
			assert.Equal(t, "shoes", item.CategoryID)
			assert.True(t, item.InStock)
		}
	})

	t.Run("strategies agree on the top k", func(t *testing.T) {
		filters := core.Filters{CategoryIDs: []string{"shoes"}}
		query := []float32{1, 0}

		subset, err := f.Search(ctx, query, filters, 2, 0, StrategySubset)
		require.NoError(t, err)
		post, err := f.Search(ctx, query, filters, 2, 0, StrategyPostfilter)
		require.NoError(t, err)

		require.Equal(t, len(subset.Results), len(post.Results))
		for i := range subset.Results {
			assert.Equal(t, subset.Results[i].ItemID, post.Results[i].ItemID)
			assert.InDelta(t, float64(subset.Results[i].Similarity), float64(post.Results[i].Similarity), 1e-5)
			assert.Equal(t, subset.Results[i].Rank, post.Results[i].Rank)
		}
	})

	t.Run("unknown strategy errors", func(t *testing.T) {
		_, err := f.Search(ctx, []float32{1, 0}, core.Filters{CategoryIDs: []string{"shoes"}}, 2, 0, Strategy("bogus"))
		assert.Error(t, err)
	})

	t.Run("threshold bounds", func(t *testing.T) {
		assert.Error(t, f.SetSubsetRatio(0))
		assert.Error(t, f.SetSubsetRatio(1.5))
		assert.NoError(t, f.SetSubsetRatio(0.25))
	})
}
