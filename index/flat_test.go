package index

import (
	"context"
	"math"
	"testing"

	"github.com/stylora/retrieval/core"
)

func buildTestSnapshot(t *testing.T, dim int, vectors [][]float32, ids []string) *Snapshot {
	t.Helper()
	snap, err := NewBuilder(dim).Build(vectors, ids, "test")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return snap
}

func TestSnapshotSearch(t *testing.T) {
	// v3 = normalized [0.9, 0.1]
	snap := buildTestSnapshot(t, 2, [][]float32{
		{1, 0},
		{0, 1},
		{0.9, 0.1},
	}, []string{"item1", "item2", "item3"})

	hits, err := snap.Search(context.Background(), []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("Search() returned %d hits, want 2", len(hits))
	}

	// item1 exact match first, item3 second, item2 excluded at k=2.
	if id, _ := snap.ItemAt(hits[0].Position); id != "item1" {
		t.Errorf("rank 0 = %s, want item1", id)
	}
	if id, _ := snap.ItemAt(hits[1].Position); id != "item3" {
		t.Errorf("rank 1 = %s, want item3", id)
	}

	if sim := core.DistanceToSimilarity(hits[0].Distance); math.Abs(float64(sim)-1.0) > 1e-5 {
		t.Errorf("exact match similarity = %v, want ~1.0", sim)
	}
}

func TestSnapshotSearchTruncatesK(t *testing.T) {
	snap := buildTestSnapshot(t, 2, [][]float32{{1, 0}, {0, 1}}, []string{"a", "b"})

	hits, err := snap.Search(context.Background(), []float32{1, 0}, 50)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("Search() returned %d hits, want all 2", len(hits))
	}
}

func TestSnapshotSearchDimensionMismatch(t *testing.T) {
	snap := buildTestSnapshot(t, 2, [][]float32{{1, 0}}, []string{"a"})

	_, err := snap.Search(context.Background(), []float32{1, 0, 0}, 1)
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if !core.IsDimensionError(err) {
		t.Errorf("expected DimensionError, got %v", err)
	}
}

func TestSnapshotSearchCancelled(t *testing.T) {
	snap := buildTestSnapshot(t, 2, [][]float32{{1, 0}, {0, 1}}, []string{"a", "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := snap.Search(ctx, []float32{1, 0}, 1); err == nil {
		t.Error("expected context error from cancelled search")
	}
}

func TestSnapshotSearchBatch(t *testing.T) {
	snap := buildTestSnapshot(t, 2, [][]float32{{1, 0}, {0, 1}}, []string{"a", "b"})

	results, err := snap.SearchBatch(context.Background(), [][]float32{{1, 0}, {0, 1}}, 1)
	if err != nil {
		t.Fatalf("SearchBatch() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("SearchBatch() returned %d lists, want 2", len(results))
	}
	if id, _ := snap.ItemAt(results[0][0].Position); id != "a" {
		t.Errorf("query 0 top hit = %s, want a", id)
	}
	if id, _ := snap.ItemAt(results[1][0].Position); id != "b" {
		t.Errorf("query 1 top hit = %s, want b", id)
	}
}

func TestBuilderRejectsBadInput(t *testing.T) {
	b := NewBuilder(2)

	if _, err := b.Build(nil, nil, ""); err == nil {
		t.Error("Build() with no embeddings should fail")
	}
	if _, err := b.Build([][]float32{{1, 0, 0}}, []string{"a"}, ""); err == nil {
		t.Error("Build() with wrong dimension should fail")
	}
	if _, err := b.Build([][]float32{{1, 0}}, []string{"a", "b"}, ""); err == nil {
		t.Error("Build() with mismatched counts should fail")
	}
	if _, err := b.Build([][]float32{{1, 0}, {0, 1}}, []string{"a", "a"}, ""); err == nil {
		t.Error("Build() with duplicate ids should fail")
	}
}

func TestBuilderNormalizes(t *testing.T) {
	snap := buildTestSnapshot(t, 2, [][]float32{{3, 4}}, []string{"a"})

	vec, err := snap.VectorOf("a")
	if err != nil {
		t.Fatalf("VectorOf() error = %v", err)
	}
	if err := core.ValidateUnitNorm(vec, 1e-6); err != nil {
		t.Errorf("stored vector not unit norm: %v", err)
	}
}

func TestSnapshotMappingsAreInverse(t *testing.T) {
	snap := buildTestSnapshot(t, 2, [][]float32{{1, 0}, {0, 1}, {1, 1}}, []string{"a", "b", "c"})

	if snap.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", snap.Count())
	}
	for i := 0; i < snap.Count(); i++ {
		id, ok := snap.ItemAt(i)
		if !ok {
			t.Fatalf("ItemAt(%d) missing", i)
		}
		pos, ok := snap.PositionOf(id)
		if !ok || pos != i {
			t.Errorf("PositionOf(ItemAt(%d)) = %d, want %d", i, pos, i)
		}
	}
}
