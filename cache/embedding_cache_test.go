package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylora/retrieval/core"
)

func newTestCache() *EmbeddingCache {
	return NewEmbeddingCache(NewMemoryStore(), DefaultTTLConfig(), zerolog.Nop())
}

func TestVectorCodecRoundTrip(t *testing.T) {
	vec := []float32{0.1, -0.5, 1.0, 0}

	data, err := EncodeVector(vec)
	require.NoError(t, err)

	decoded, err := DecodeVector(data)
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)
}

func TestVectorCodecRejectsBadInput(t *testing.T) {
	if _, err := EncodeVector(nil); err == nil {
		t.Error("EncodeVector(nil) should fail")
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too short", []byte{1, 2}},
		{"wrong version", []byte{99, 1, 0, 0, 0, 0, 0}},
		{"size mismatch", []byte{1, 2, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeVector(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestProductEmbeddingRoundTrip(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	_, err := c.GetProductEmbedding(ctx, "p1")
	assert.ErrorIs(t, err, core.ErrCacheMiss)

	vec := []float32{1, 0, 0}
	require.NoError(t, c.SetProductEmbedding(ctx, "p1", vec))

	got, err := c.GetProductEmbedding(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestProductEmbeddingsBatch(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.SetProductEmbeddings(ctx, map[string][]float32{
		"p1": {1, 0},
		"p2": {0, 1},
	}))

	got, err := c.GetProductEmbeddings(ctx, []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []float32{1, 0}, got["p1"])
	assert.NotContains(t, got, "p3")
}

func TestUserEmbeddings(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.SetUserLongTerm(ctx, "u1", []float32{1, 0}))
	require.NoError(t, c.SetUserSession(ctx, "u1", []float32{0, 1}))

	lt, err := c.GetUserLongTerm(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, lt)

	sess, err := c.GetUserSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, sess)

	require.NoError(t, c.InvalidateUser(ctx, "u1"))
	_, err = c.GetUserLongTerm(ctx, "u1")
	assert.ErrorIs(t, err, core.ErrCacheMiss)
	_, err = c.GetUserSession(ctx, "u1")
	assert.ErrorIs(t, err, core.ErrCacheMiss)
}

func TestClearScopes(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	require.NoError(t, c.SetProductEmbedding(ctx, "p1", []float32{1}))
	require.NoError(t, c.SetUserLongTerm(ctx, "u1", []float32{1}))
	require.NoError(t, c.SetUserSession(ctx, "u1", []float32{1}))

	n, err := c.ClearProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.ClearUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHotItemTracking(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	c.TrackItemView(ctx, "p1")
	c.TrackItemView(ctx, "p1")
	c.TrackItemView(ctx, "p2")

	hot, err := c.HotItems(ctx, 10)
	require.NoError(t, err)
	require.Len(t, hot, 2)
	assert.Equal(t, "p1", hot[0], "most viewed item ranks first")
}

func TestWarmHotItems(t *testing.T) {
	c := newTestCache()
	ctx := context.Background()

	c.TrackItemView(ctx, "p1")
	c.TrackItemView(ctx, "p2")

	warmed, err := c.WarmHotItems(ctx, 10, func(ctx context.Context, ids []string) (map[string][]float32, error) {
		out := make(map[string][]float32, len(ids))
		for _, id := range ids {
			out[id] = []float32{1, 0}
		}
		return out, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, warmed)

	got, err := c.GetProductEmbedding(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, got)
}

// failingStore errors on every operation.
type failingStore struct {
	core.KeyValueStore
}

var errStoreDown = errors.New("store down")

func (failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errStoreDown
}

func (failingStore) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	return nil, errStoreDown
}

func TestStoreFailuresDegradeToMiss(t *testing.T) {
	c := NewEmbeddingCache(failingStore{}, DefaultTTLConfig(), zerolog.Nop())
	ctx := context.Background()

	_, err := c.GetProductEmbedding(ctx, "p1")
	assert.ErrorIs(t, err, core.ErrCacheMiss, "store failure must look like a miss")

	got, err := c.GetProductEmbeddings(ctx, []string{"p1"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, core.ErrCacheMiss)
}
