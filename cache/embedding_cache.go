package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/stylora/retrieval/core"
)

// Key prefixes. Shared with monitoring tooling, change with care.
const (
	productPrefix      = "embedding:product:"
	userLongTermPrefix = "embedding:user:long_term:"
	userSessionPrefix  = "embedding:user:session:"
	hotItemsKey        = "hot:items"
	viewCountPrefix    = "stats:item_views:"
)

// TTLConfig carries the expiry policy per entry class.
type TTLConfig struct {
	Product  time.Duration `json:"product" yaml:"product"`
	User     time.Duration `json:"user" yaml:"user"`
	Session  time.Duration `json:"session" yaml:"session"`
	HotItems time.Duration `json:"hot_items" yaml:"hot_items"`
}

// DefaultTTLConfig returns the production expiry policy.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Product:  24 * time.Hour,
		User:     24 * time.Hour,
		Session:  30 * time.Minute,
		HotItems: 24 * time.Hour,
	}
}

// EmbeddingCache caches product and user embeddings on a KeyValueStore and
// tracks item view counts for hot-item warming.
//
// Every operation degrades gracefully: a store failure on read behaves as
// a miss and is logged, never surfaced, so a cache outage slows requests
// down instead of failing them. Only ErrCacheMiss is returned to callers
// who need to distinguish absent entries.
type EmbeddingCache struct {
	store core.KeyValueStore
	ttl   TTLConfig
	log   zerolog.Logger
}

// NewEmbeddingCache builds a cache over the given store.
func NewEmbeddingCache(store core.KeyValueStore, ttl TTLConfig, log zerolog.Logger) *EmbeddingCache {
	return &EmbeddingCache{
		store: store,
		ttl:   ttl,
		log:   log.With().Str("component", "embedding-cache").Logger(),
	}
}

// GetProductEmbedding returns a cached product embedding or ErrCacheMiss.
func (c *EmbeddingCache) GetProductEmbedding(ctx context.Context, itemID string) ([]float32, error) {
	return c.getVector(ctx, productPrefix+itemID)
}

// SetProductEmbedding caches a product embedding.
func (c *EmbeddingCache) SetProductEmbedding(ctx context.Context, itemID string, vec []float32) error {
	return c.setVector(ctx, productPrefix+itemID, vec, c.ttl.Product)
}

// GetProductEmbeddings resolves multiple product embeddings at once.
// Missing or undecodable entries are absent from the result.
func (c *EmbeddingCache) GetProductEmbeddings(ctx context.Context, itemIDs []string) (map[string][]float32, error) {
	if len(itemIDs) == 0 {
		return map[string][]float32{}, nil
	}

	keys := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		keys[i] = productPrefix + id
	}

	raw, err := c.store.BatchGet(ctx, keys)
	if err != nil {
		c.log.Warn().Err(err).Int("keys", len(keys)).Msg("batch get failed, treating as full miss")
		return map[string][]float32{}, nil
	}

	result := make(map[string][]float32, len(raw))
	for i, id := range itemIDs {
		data, ok := raw[keys[i]]
		if !ok {
			continue
		}
		vec, err := DecodeVector(data)
		if err != nil {
			c.log.Warn().Err(err).Str("item_id", id).Msg("dropping undecodable cache entry")
			continue
		}
		result[id] = vec
	}
	return result, nil
}

// SetProductEmbeddings caches multiple product embeddings in one batch.
func (c *EmbeddingCache) SetProductEmbeddings(ctx context.Context, embeddings map[string][]float32) error {
	if len(embeddings) == 0 {
		return nil
	}

	kvs := make(map[string][]byte, len(embeddings))
	for id, vec := range embeddings {
		data, err := EncodeVector(vec)
		if err != nil {
			return err
		}
		kvs[productPrefix+id] = data
	}
	return c.store.BatchSet(ctx, kvs, c.ttl.Product)
}

// GetUserLongTerm returns a user's cached long-term embedding.
func (c *EmbeddingCache) GetUserLongTerm(ctx context.Context, userID string) ([]float32, error) {
	return c.getVector(ctx, userLongTermPrefix+userID)
}

// SetUserLongTerm caches a user's long-term embedding.
func (c *EmbeddingCache) SetUserLongTerm(ctx context.Context, userID string, vec []float32) error {
	return c.setVector(ctx, userLongTermPrefix+userID, vec, c.ttl.User)
}

// GetUserSession returns a user's cached session embedding.
func (c *EmbeddingCache) GetUserSession(ctx context.Context, userID string) ([]float32, error) {
	return c.getVector(ctx, userSessionPrefix+userID)
}

// SetUserSession caches a user's session embedding. The TTL doubles as the
// session inactivity window: each write pushes expiry out again.
func (c *EmbeddingCache) SetUserSession(ctx context.Context, userID string, vec []float32) error {
	return c.setVector(ctx, userSessionPrefix+userID, vec, c.ttl.Session)
}

// InvalidateUser drops both embeddings of a user.
func (c *EmbeddingCache) InvalidateUser(ctx context.Context, userID string) error {
	if err := c.store.Delete(ctx, userLongTermPrefix+userID); err != nil {
		return err
	}
	return c.store.Delete(ctx, userSessionPrefix+userID)
}

// InvalidateProduct drops one product embedding.
func (c *EmbeddingCache) InvalidateProduct(ctx context.Context, itemID string) error {
	return c.store.Delete(ctx, productPrefix+itemID)
}

// ClearProducts drops every cached product embedding.
func (c *EmbeddingCache) ClearProducts(ctx context.Context) (int, error) {
	return c.store.DeletePrefix(ctx, productPrefix)
}

// ClearUsers drops every cached user embedding, long-term and session.
func (c *EmbeddingCache) ClearUsers(ctx context.Context) (int, error) {
	n, err := c.store.DeletePrefix(ctx, userLongTermPrefix)
	if err != nil {
		return n, err
	}
	m, err := c.store.DeletePrefix(ctx, userSessionPrefix)
	return n + m, err
}

// TrackItemView bumps an item's view counter and its hot-items rank.
// Failures are logged and swallowed; view tracking is advisory.
func (c *EmbeddingCache) TrackItemView(ctx context.Context, itemID string) {
	if _, err := c.store.Incr(ctx, viewCountPrefix+itemID); err != nil {
		c.log.Warn().Err(err).Str("item_id", itemID).Msg("view counter increment failed")
		return
	}
	if err := c.store.ZIncrBy(ctx, hotItemsKey, 1, itemID); err != nil {
		c.log.Warn().Err(err).Str("item_id", itemID).Msg("hot items update failed")
	}
}

// HotItems returns the most viewed item ids, best first.
func (c *EmbeddingCache) HotItems(ctx context.Context, limit int) ([]string, error) {
	return c.store.ZTopN(ctx, hotItemsKey, limit)
}

// WarmHotItems refreshes the cache with embeddings for the most viewed
// items, resolved through fetch. Returns the number of items warmed.
func (c *EmbeddingCache) WarmHotItems(ctx context.Context, topN int, fetch func(context.Context, []string) (map[string][]float32, error)) (int, error) {
	hot, err := c.HotItems(ctx, topN)
	if err != nil || len(hot) == 0 {
		return 0, err
	}

	embeddings, err := fetch(ctx, hot)
	if err != nil {
		return 0, err
	}
	if len(embeddings) == 0 {
		return 0, nil
	}

	kvs := make(map[string][]byte, len(embeddings))
	for id, vec := range embeddings {
		data, err := EncodeVector(vec)
		if err != nil {
			return 0, err
		}
		kvs[productPrefix+id] = data
	}
	if err := c.store.BatchSet(ctx, kvs, c.ttl.HotItems); err != nil {
		return 0, err
	}

	c.log.Info().Int("items", len(kvs)).Msg("warmed hot item embeddings")
	return len(kvs), nil
}

func (c *EmbeddingCache) getVector(ctx context.Context, key string) ([]float32, error) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, core.ErrCacheMiss) {
			c.log.Warn().Err(err).Str("key", key).Msg("cache read failed, treating as miss")
		}
		return nil, core.ErrCacheMiss
	}

	vec, err := DecodeVector(data)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		return nil, core.ErrCacheMiss
	}
	return vec, nil
}

func (c *EmbeddingCache) setVector(ctx context.Context, key string, vec []float32, ttl time.Duration) error {
	data, err := EncodeVector(vec)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, data, ttl)
}
