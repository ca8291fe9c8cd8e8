package core

import (
	"context"
	"time"
)

// CatalogSource is the catalog store contract the retrieval core consumes.
// Implemented by the relational catalog layer; read-only to the core.
type CatalogSource interface {
	// FetchAllEmbeddings returns every stored embedding of the given kind
	// together with its item id, in matching order.
	FetchAllEmbeddings(ctx context.Context, kind EmbeddingKind) ([][]float32, []string, error)

	// FetchFilteredItemIDs returns the ids of items passing the filter
	// predicates.
	FetchFilteredItemIDs(ctx context.Context, filters Filters) ([]string, error)

	// FetchFilteredEmbeddings returns embeddings plus ids for items passing
	// the filter predicates.
	FetchFilteredEmbeddings(ctx context.Context, filters Filters) ([][]float32, []string, error)

	// FetchItems returns the filter-relevant catalog fields for the given
	// ids. Missing ids are simply absent from the result.
	FetchItems(ctx context.Context, ids []string) (map[string]CatalogItem, error)

	// TotalItems reports the number of items carrying embeddings.
	TotalItems(ctx context.Context) (int, error)
}

// InteractionStore is the user/interaction store contract.
type InteractionStore interface {
	// FetchRecentInteractions returns a user's interactions, newest first,
	// bounded by limit and a lower timestamp bound.
	FetchRecentInteractions(ctx context.Context, userID string, limit int, since time.Time) ([]InteractionEvent, error)

	// FetchItemEmbeddings resolves embeddings for the given item ids.
	FetchItemEmbeddings(ctx context.Context, ids []string) (map[string][]float32, error)

	// FetchItemStats returns engagement counters for the given item ids.
	FetchItemStats(ctx context.Context, ids []string) (map[string]ItemStats, error)

	// SaveUserEmbedding persists a user's long-term embedding state.
	SaveUserEmbedding(ctx context.Context, state UserEmbedding) error

	// LoadUserEmbedding loads a user's long-term embedding state, or
	// ErrCacheMiss when none exists.
	LoadUserEmbedding(ctx context.Context, userID string) (UserEmbedding, error)
}

// InteractionAppender is the optional write side of an InteractionStore.
// Backends that own the event log implement it; the engine appends each
// recorded event through it so history replay and engagement stats see
// the event.
type InteractionAppender interface {
	AppendInteraction(ctx context.Context, event InteractionEvent) error
}

// Encoder turns raw text into embedding vectors. Backed by the external
// model service; failures are fatal to the single request only.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the output dimensionality of the model.
	Dimension() int
}

// KeyValueStore is the byte-level store the embedding cache sits on.
// Implementations: redis, in-memory. ttl of zero means no expiry.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	BatchGet(ctx context.Context, keys []string) (map[string][]byte, error)
	BatchSet(ctx context.Context, kvs map[string][]byte, ttl time.Duration) error

	// DeletePrefix removes every key with the given prefix and returns the
	// number deleted.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Incr atomically increments a counter key.
	Incr(ctx context.Context, key string) (int64, error)

	// ZIncrBy increments a member's score in a sorted set.
	ZIncrBy(ctx context.Context, key string, delta float64, member string) error

	// ZTopN returns the highest-scored members of a sorted set.
	ZTopN(ctx context.Context, key string, n int) ([]string, error)

	Close() error
}
