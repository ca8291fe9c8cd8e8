package usermodel

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylora/retrieval/core"
)

func assertUnit(t *testing.T, vec []float32) {
	t.Helper()
	assert.True(t, core.IsUnitNorm(vec, 1e-5), "vector %v is not unit norm", vec)
}

func TestColdStartFromSelections(t *testing.T) {
	c := NewColdStart(2, 1)

	t.Run("mean of selections", func(t *testing.T) {
		vec, conf, err := c.FromSelections([][]float32{
			{1, 0}, {0, 1}, {1, 0},
		})
		require.NoError(t, err)
		assertUnit(t, vec)
		assert.Greater(t, vec[0], vec[1], "two of three selections point at x")
		assert.Greater(t, conf, 0.0, "three selections clear the minimum")
	})

	t.Run("deterministic", func(t *testing.T) {
		sel := [][]float32{{1, 0}, {0, 1}, {0.5, 0.5}}
		a, _, err := c.FromSelections(sel)
		require.NoError(t, err)
		b, _, err := c.FromSelections(sel)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("below minimum falls back to random default", func(t *testing.T) {
		vec, conf, err := c.FromSelections([][]float32{{1, 0}})
		require.NoError(t, err)
		assertUnit(t, vec)
		assert.Zero(t, conf)
	})

	t.Run("no selections also falls back", func(t *testing.T) {
		vec, conf, err := c.FromSelections(nil)
		require.NoError(t, err)
		assertUnit(t, vec)
		assert.Zero(t, conf)
	})

	t.Run("dimension mismatch fails", func(t *testing.T) {
		_, _, err := c.FromSelections([][]float32{{1, 0, 0}})
		assert.True(t, core.IsDimensionError(err))
	})
}

func TestColdStartRandomEmbedding(t *testing.T) {
	c := NewColdStart(16, 42)

	a := c.RandomEmbedding()
	b := c.RandomEmbedding()
	assertUnit(t, a)
	assertUnit(t, b)
	assert.NotEqual(t, a, b, "successive draws differ")
}

func TestWarmUpdate(t *testing.T) {
	w, err := NewWarmUpdater(DefaultAlpha)
	require.NoError(t, err)

	current := []float32{1, 0}
	item := []float32{0, 1}

	t.Run("pulls towards item", func(t *testing.T) {
		updated, err := w.Update(current, item, 1.0)
		require.NoError(t, err)
		assertUnit(t, updated)
		assert.Greater(t, updated[1], float32(0), "moved towards item")
		assert.Greater(t, updated[0], updated[1], "history still dominates")
	})

	t.Run("heavier weight pulls harder", func(t *testing.T) {
		light, err := w.Update(current, item, 0.1)
		require.NoError(t, err)
		heavy, err := w.Update(current, item, 2.0)
		require.NoError(t, err)
		assert.Greater(t, heavy[1], light[1])
	})

	t.Run("zero weight is a no-op", func(t *testing.T) {
		updated, err := w.Update(current, item, 0)
		require.NoError(t, err)
		assert.Equal(t, current, updated)
	})

	t.Run("negative weight pushes away", func(t *testing.T) {
		leaning := []float32{0.6, 0.8}
		updated, err := w.Update(leaning, []float32{0, 1}, -1.0)
		require.NoError(t, err)
		assertUnit(t, updated)
		assert.Less(t, updated[1], leaning[1], "moved away from the disliked direction")
	})

	t.Run("dimension mismatch fails", func(t *testing.T) {
		_, err := w.Update(current, []float32{1, 0, 0}, 1.0)
		assert.True(t, core.IsDimensionError(err))
	})
}

func TestWarmUpdateBatchComposes(t *testing.T) {
	w, err := NewWarmUpdater(DefaultAlpha)
	require.NoError(t, err)

	current := []float32{1, 0}
	items := [][]float32{{0, 1}, {0, 1}}
	weights := []float64{1.0, 2.0}

	batch, err := w.UpdateBatch(current, items, weights)
	require.NoError(t, err)

	step1, err := w.Update(current, items[0], weights[0])
	require.NoError(t, err)
	step2, err := w.Update(step1, items[1], weights[1])
	require.NoError(t, err)

	assert.Equal(t, step2, batch, "batch equals sequential updates")
}

func TestWarmUpdaterRejectsBadAlpha(t *testing.T) {
	for _, alpha := range []float64{0, -0.5, 1.5} {
		_, err := NewWarmUpdater(alpha)
		assert.Error(t, err, "alpha %v", alpha)
	}
}

func TestDrift(t *testing.T) {
	w, err := NewWarmUpdater(DefaultAlpha)
	require.NoError(t, err)

	d, err := w.Drift([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-6)

	d, err = w.Drift([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 2, d, 1e-6)
}

func TestConfidence(t *testing.T) {
	assert.Zero(t, Confidence(0))
	assert.InDelta(t, 0.5, Confidence(10), 1e-9)
	assert.Equal(t, 1.0, Confidence(20))
	assert.Equal(t, 1.0, Confidence(500))
}

func TestSessionTracker(t *testing.T) {
	tr := NewSessionTracker(3, 30*time.Minute, zerolog.Nop())
	now := time.Now()
	tr.now = func() time.Time { return now }

	t.Run("no session means no embedding", func(t *testing.T) {
		_, ok := tr.Embedding("u1")
		assert.False(t, ok)
	})

	t.Run("mean over window", func(t *testing.T) {
		tr.AddInteraction("u1", []float32{1, 0})
		tr.AddInteraction("u1", []float32{0, 1})

		vec, ok := tr.Embedding("u1")
		require.True(t, ok)
		assertUnit(t, vec)
		assert.InDelta(t, vec[0], vec[1], 1e-6, "equal pull from both interactions")
	})

	t.Run("window evicts oldest", func(t *testing.T) {
		tr.Clear("u1")
		tr.AddInteraction("u1", []float32{1, 0})
		for i := 0; i < 3; i++ {
			tr.AddInteraction("u1", []float32{0, 1})
		}

		assert.Equal(t, 3, tr.InteractionCount("u1"))
		vec, ok := tr.Embedding("u1")
		require.True(t, ok)
		assert.InDelta(t, 0, vec[0], 1e-6, "the x interaction fell out of the window")
	})

	t.Run("expires after timeout", func(t *testing.T) {
		tr.AddInteraction("u2", []float32{1, 0})
		now = now.Add(31 * time.Minute)

		_, ok := tr.Embedding("u2")
		assert.False(t, ok)
		assert.Zero(t, tr.InteractionCount("u2"))
	})

	t.Run("cleanup drops expired", func(t *testing.T) {
		tr.AddInteraction("u3", []float32{1, 0})
		assert.Equal(t, 1, tr.ActiveCount())

		now = now.Add(time.Hour)
		dropped := tr.CleanupExpired()
		assert.GreaterOrEqual(t, dropped, 1)
		assert.Zero(t, tr.ActiveCount())
	})
}

func TestBlend(t *testing.T) {
	b := NewBlender(1)
	longTerm := []float32{1, 0}
	session := []float32{0, 1}

	t.Run("full blend", func(t *testing.T) {
		res, err := b.Blend(longTerm, session, ContextFeed)
		require.NoError(t, err)
		assert.Equal(t, BlendFull, res.Type)
		assert.Equal(t, 0.7, res.Alpha)
		assertUnit(t, res.Vector)
		assert.Greater(t, res.Vector[0], res.Vector[1], "feed favors long-term")
	})

	t.Run("search favors session", func(t *testing.T) {
		res, err := b.Blend(longTerm, session, ContextSearch)
		require.NoError(t, err)
		assert.Greater(t, res.Vector[1], res.Vector[0])
	})

	t.Run("long-term passthrough is untouched", func(t *testing.T) {
		res, err := b.Blend(longTerm, nil, ContextFeed)
		require.NoError(t, err)
		assert.Equal(t, BlendLongTermOnly, res.Type)
		assert.Equal(t, longTerm, res.Vector)
	})

	t.Run("session passthrough is untouched", func(t *testing.T) {
		res, err := b.Blend(nil, session, ContextFeed)
		require.NoError(t, err)
		assert.Equal(t, BlendSessionOnly, res.Type)
		assert.Equal(t, session, res.Vector)
	})

	t.Run("neither yields ErrNoUserProfile", func(t *testing.T) {
		_, err := b.Blend(nil, nil, ContextFeed)
		assert.ErrorIs(t, err, core.ErrNoUserProfile)
	})

	t.Run("unknown context falls back to default alpha", func(t *testing.T) {
		assert.Equal(t, DefaultLongTermAlpha, b.AlphaFor("checkout"))
	})

	t.Run("onboard is pure long-term", func(t *testing.T) {
		res, err := b.Blend(longTerm, session, ContextOnboard)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, float64(res.Vector[0]), 1e-6)
	})
}

func TestAddExploration(t *testing.T) {
	b := NewBlender(7)
	base := []float32{1, 0, 0, 0}

	noisy := b.AddExploration(base)
	assertUnit(t, noisy)
	assert.NotEqual(t, base, noisy)

	// Noise is small relative to the signal.
	sim, err := core.CosineSimilarity(base, noisy)
	require.NoError(t, err)
	assert.Greater(t, float64(sim), 0.5)
}

// fakeInteractionStore backs ProfileBuilder tests.
type fakeInteractionStore struct {
	interactions []core.InteractionEvent
	embeddings   map[string][]float32
	profiles     map[string]core.UserEmbedding
}

func newFakeInteractionStore() *fakeInteractionStore {
	return &fakeInteractionStore{
		embeddings: make(map[string][]float32),
		profiles:   make(map[string]core.UserEmbedding),
	}
}

func (f *fakeInteractionStore) FetchRecentInteractions(ctx context.Context, userID string, limit int, since time.Time) ([]core.InteractionEvent, error) {
	var out []core.InteractionEvent
	for _, ev := range f.interactions {
		if ev.UserID == userID && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeInteractionStore) FetchItemEmbeddings(ctx context.Context, ids []string) (map[string][]float32, error) {
	out := make(map[string][]float32)
	for _, id := range ids {
		if v, ok := f.embeddings[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *fakeInteractionStore) FetchItemStats(ctx context.Context, ids []string) (map[string]core.ItemStats, error) {
	return nil, nil
}

func (f *fakeInteractionStore) SaveUserEmbedding(ctx context.Context, state core.UserEmbedding) error {
	f.profiles[state.UserID] = state
	return nil
}

func (f *fakeInteractionStore) LoadUserEmbedding(ctx context.Context, userID string) (core.UserEmbedding, error) {
	state, ok := f.profiles[userID]
	if !ok {
		return core.UserEmbedding{}, core.ErrCacheMiss
	}
	return state, nil
}

func newTestBuilder(store core.InteractionStore) *ProfileBuilder {
	warm, _ := NewWarmUpdater(DefaultAlpha)
	cold := NewColdStart(2, 99)
	return NewProfileBuilder(store, warm, cold, zerolog.Nop())
}

func TestUserLockStriping(t *testing.T) {
	b := newTestBuilder(newFakeInteractionStore())

	assert.Same(t, b.userLock("u1"), b.userLock("u1"), "same user serializes on one lock")

	seen := map[*sync.Mutex]bool{}
	for i := 0; i < 10_000; i++ {
		seen[b.userLock(fmt.Sprintf("user-%d", i))] = true
	}
	assert.LessOrEqual(t, len(seen), lockStripes, "lock memory stays bounded")
}

func TestApplyInteraction(t *testing.T) {
	store := newFakeInteractionStore()
	b := newTestBuilder(store)
	ctx := context.Background()

	event := core.InteractionEvent{
		UserID: "u1", ItemID: "p1",
		Type:      core.InteractionPurchase,
		Timestamp: time.Now(),
	}

	state, err := b.ApplyInteraction(ctx, event, []float32{3, 4})
	require.NoError(t, err)
	assertUnit(t, state.LongTerm)
	assert.Equal(t, 1, state.InteractionCount)
	assert.InDelta(t, 0.05, state.Confidence, 1e-9)

	// Second interaction moves the stored profile.
	state2, err := b.ApplyInteraction(ctx, core.InteractionEvent{
		UserID: "u1", ItemID: "p2",
		Type:      core.InteractionLike,
		Timestamp: time.Now(),
	}, []float32{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 2, state2.InteractionCount)
	assert.NotEqual(t, state.LongTerm, state2.LongTerm)

	saved := store.profiles["u1"]
	assert.Equal(t, 2, saved.InteractionCount)
}

func TestRebuildFromHistory(t *testing.T) {
	store := newFakeInteractionStore()
	store.embeddings["p1"] = []float32{1, 0}
	store.embeddings["p2"] = []float32{0, 1}
	// Newest first, the way the store returns them.
	store.interactions = []core.InteractionEvent{
		{UserID: "u1", ItemID: "p2", Type: core.InteractionPurchase, Timestamp: time.Now()},
		{UserID: "u1", ItemID: "p1", Type: core.InteractionView, Timestamp: time.Now().Add(-time.Hour)},
	}
	b := newTestBuilder(store)

	state, err := b.Rebuild(context.Background(), "u1")
	require.NoError(t, err)
	assertUnit(t, state.LongTerm)
	assert.Equal(t, 2, state.InteractionCount)
	assert.Greater(t, state.LongTerm[1], float32(0), "newest purchase pulls towards p2")
}

func TestRebuildColdStartsWithoutHistory(t *testing.T) {
	store := newFakeInteractionStore()
	b := newTestBuilder(store)

	state, err := b.Rebuild(context.Background(), "newbie")
	require.NoError(t, err)
	assertUnit(t, state.LongTerm)
	assert.Zero(t, state.Confidence)

	// The cold-start profile was persisted.
	saved, ok := store.profiles["newbie"]
	require.True(t, ok)
	assert.Equal(t, state.LongTerm, saved.LongTerm)
}

func TestRebuildKeepsProfileWhenEmbeddingsMissing(t *testing.T) {
	store := newFakeInteractionStore()
	store.interactions = []core.InteractionEvent{
		{UserID: "u1", ItemID: "ghost", Type: core.InteractionLike, Timestamp: time.Now()},
	}
	store.profiles["u1"] = core.UserEmbedding{
		UserID: "u1", LongTerm: []float32{1, 0}, InteractionCount: 5, Confidence: 0.25,
	}
	b := newTestBuilder(store)

	state, err := b.Rebuild(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, state.LongTerm, "unusable history leaves the profile alone")
	assert.Equal(t, 5, state.InteractionCount)
}

func TestEWMAConvergence(t *testing.T) {
	w, err := NewWarmUpdater(DefaultAlpha)
	require.NoError(t, err)

	current := []float32{1, 0}
	item := []float32{0, 1}
	for i := 0; i < 500; i++ {
		current, err = w.Update(current, item, 1.0)
		require.NoError(t, err)
	}

	assert.Less(t, math.Abs(float64(current[1])-1), 1e-3, "repeated identical interactions converge on the item")
}
