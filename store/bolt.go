// Package store is the embedded data layer behind the catalog and
// interaction contracts: items, their embeddings, interaction events,
// engagement counters, and long-term user profiles, all in one BoltDB
// file. Deployments with a relational catalog implement the same
// contracts against their own database instead.
package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/stylora/retrieval/core"
)

const (
	itemsBucket        = "items"
	embeddingsBucket   = "embeddings" // nested per kind
	interactionsBucket = "interactions"
	statsBucket        = "stats"
	profilesBucket     = "profiles"
)

// BoltStore implements core.CatalogSource and core.InteractionStore on a
// single BoltDB file. Embeddings are stored per kind; the serving kind
// chosen at construction is the one the filter and lookup paths read.
type BoltStore struct {
	db   *bbolt.DB
	path string
	kind core.EmbeddingKind
}

var (
	_ core.CatalogSource       = (*BoltStore)(nil)
	_ core.InteractionStore    = (*BoltStore)(nil)
	_ core.InteractionAppender = (*BoltStore)(nil)
)

// NewBoltStore opens (or creates) the store at dbPath, serving
// embeddings of the given kind. An empty kind means text.
func NewBoltStore(dbPath string, kind core.EmbeddingKind) (*BoltStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB at %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{itemsBucket, embeddingsBucket, interactionsBucket, statsBucket, profilesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	if kind == "" {
		kind = core.EmbeddingText
	}
	return &BoltStore{db: db, path: dbPath, kind: kind}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// PutItem upserts a catalog item together with its embeddings per kind.
func (s *BoltStore) PutItem(ctx context.Context, item core.CatalogItem, embeddings map[core.EmbeddingKind][]float32) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(itemsBucket)).Put([]byte(item.ID), data); err != nil {
			return err
		}
		for kind, vec := range embeddings {
			kindBucket, err := tx.Bucket([]byte(embeddingsBucket)).CreateBucketIfNotExists([]byte(kind))
			if err != nil {
				return err
			}
			if err := kindBucket.Put([]byte(item.ID), encodeVector(core.Normalize(vec))); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteItem removes an item, its embeddings, and its counters.
func (s *BoltStore) DeleteItem(ctx context.Context, itemID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(itemsBucket)).Delete([]byte(itemID)); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(statsBucket)).Delete([]byte(itemID)); err != nil {
			return err
		}
		return tx.Bucket([]byte(embeddingsBucket)).ForEachBucket(func(kind []byte) error {
			return tx.Bucket([]byte(embeddingsBucket)).Bucket(kind).Delete([]byte(itemID))
		})
	})
}

// FetchAllEmbeddings returns every embedding of the given kind in item-id
// order.
func (s *BoltStore) FetchAllEmbeddings(ctx context.Context, kind core.EmbeddingKind) ([][]float32, []string, error) {
	var (
		vectors [][]float32
		ids     []string
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		kindBucket := tx.Bucket([]byte(embeddingsBucket)).Bucket([]byte(kind))
		if kindBucket == nil {
			return nil
		}
		return kindBucket.ForEach(func(k, v []byte) error {
			vec, err := decodeVector(v)
			if err != nil {
				return fmt.Errorf("embedding for %s: %w", k, err)
			}
			ids = append(ids, string(k))
			vectors = append(vectors, vec)
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return vectors, ids, nil
}

// FetchFilteredItemIDs returns the ids of items passing the filters, in
// id order.
func (s *BoltStore) FetchFilteredItemIDs(ctx context.Context, filters core.Filters) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(itemsBucket)).ForEach(func(k, v []byte) error {
			var item core.CatalogItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("item %s: %w", k, err)
			}
			if filters.Matches(item) {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FetchFilteredEmbeddings returns embeddings plus ids for items passing
// the filters. Items without a serving-kind embedding are skipped.
func (s *BoltStore) FetchFilteredEmbeddings(ctx context.Context, filters core.Filters) ([][]float32, []string, error) {
	ids, err := s.FetchFilteredItemIDs(ctx, filters)
	if err != nil {
		return nil, nil, err
	}

	var (
		vectors [][]float32
		kept    []string
	)
	err = s.db.View(func(tx *bbolt.Tx) error {
		kindBucket := tx.Bucket([]byte(embeddingsBucket)).Bucket([]byte(s.kind))
		if kindBucket == nil {
			return nil
		}
		for _, id := range ids {
			data := kindBucket.Get([]byte(id))
			if data == nil {
				continue
			}
			vec, err := decodeVector(data)
			if err != nil {
				return fmt.Errorf("embedding for %s: %w", id, err)
			}
			vectors = append(vectors, vec)
			kept = append(kept, id)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return vectors, kept, nil
}

// FetchItems resolves catalog records by id. Missing ids are absent from
// the result.
func (s *BoltStore) FetchItems(ctx context.Context, ids []string) (map[string]core.CatalogItem, error) {
	out := make(map[string]core.CatalogItem, len(ids))
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(itemsBucket))
		for _, id := range ids {
			data := bucket.Get([]byte(id))
			if data == nil {
				continue
			}
			var item core.CatalogItem
			if err := json.Unmarshal(data, &item); err != nil {
				return fmt.Errorf("item %s: %w", id, err)
			}
			out[id] = item
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TotalItems reports the number of items carrying a serving-kind
// embedding.
func (s *BoltStore) TotalItems(ctx context.Context) (int, error) {
	var count int
	err := s.db.View(func(tx *bbolt.Tx) error {
		kindBucket := tx.Bucket([]byte(embeddingsBucket)).Bucket([]byte(s.kind))
		if kindBucket == nil {
			return nil
		}
		count = kindBucket.Stats().KeyN
		return nil
	})
	return count, err
}

// AppendInteraction stores an event and folds it into the item's
// engagement counters. The event gets an id when it carries none.
func (s *BoltStore) AppendInteraction(ctx context.Context, event core.InteractionEvent) error {
	if event.UserID == "" || event.ItemID == "" {
		return fmt.Errorf("user id and item id are required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket([]byte(interactionsBucket)).CreateBucketIfNotExists([]byte(event.UserID))
		if err != nil {
			return err
		}
		// Keys order chronologically so a backwards cursor walk yields
		// newest first.
		if err := userBucket.Put(interactionKey(event), data); err != nil {
			return err
		}
		return s.bumpStats(tx, event)
	})
}

func interactionKey(event core.InteractionEvent) []byte {
	key := make([]byte, 8, 8+len(event.ID))
	binary.BigEndian.PutUint64(key, uint64(event.Timestamp.UnixNano()))
	return append(key, event.ID...)
}

func (s *BoltStore) bumpStats(tx *bbolt.Tx, event core.InteractionEvent) error {
	bucket := tx.Bucket([]byte(statsBucket))

	var stats core.ItemStats
	if data := bucket.Get([]byte(event.ItemID)); data != nil {
		if err := json.Unmarshal(data, &stats); err != nil {
			return fmt.Errorf("stats for %s: %w", event.ItemID, err)
		}
	}

	switch event.Type {
	case core.InteractionView, core.InteractionClick:
		stats.Views++
	case core.InteractionLike, core.InteractionThumbsUp:
		stats.Likes++
	case core.InteractionAddToCart:
		stats.Carts++
	case core.InteractionPurchase:
		stats.Purchases++
	}
	ts := event.Timestamp
	stats.LastInteraction = &ts

	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	return bucket.Put([]byte(event.ItemID), data)
}

// FetchRecentInteractions returns a user's events newest first, bounded
// by limit and the lower timestamp bound.
func (s *BoltStore) FetchRecentInteractions(ctx context.Context, userID string, limit int, since time.Time) ([]core.InteractionEvent, error) {
	var events []core.InteractionEvent
	sinceKey := make([]byte, 8)
	binary.BigEndian.PutUint64(sinceKey, uint64(since.UnixNano()))

	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket([]byte(interactionsBucket)).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		cursor := userBucket.Cursor()
		for k, v := cursor.Last(); k != nil && len(events) < limit; k, v = cursor.Prev() {
			if bytes.Compare(k[:8], sinceKey) < 0 {
				break
			}
			var event core.InteractionEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return fmt.Errorf("event %x: %w", k, err)
			}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// FetchItemEmbeddings resolves serving-kind embeddings for the given
// item ids.
func (s *BoltStore) FetchItemEmbeddings(ctx context.Context, ids []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(ids))
	err := s.db.View(func(tx *bbolt.Tx) error {
		kindBucket := tx.Bucket([]byte(embeddingsBucket)).Bucket([]byte(s.kind))
		if kindBucket == nil {
			return nil
		}
		for _, id := range ids {
			data := kindBucket.Get([]byte(id))
			if data == nil {
				continue
			}
			vec, err := decodeVector(data)
			if err != nil {
				return fmt.Errorf("embedding for %s: %w", id, err)
			}
			out[id] = vec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchItemStats returns engagement counters for the given item ids.
// Items without history are absent from the result.
func (s *BoltStore) FetchItemStats(ctx context.Context, ids []string) (map[string]core.ItemStats, error) {
	out := make(map[string]core.ItemStats, len(ids))
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(statsBucket))
		for _, id := range ids {
			data := bucket.Get([]byte(id))
			if data == nil {
				continue
			}
			var stats core.ItemStats
			if err := json.Unmarshal(data, &stats); err != nil {
				return fmt.Errorf("stats for %s: %w", id, err)
			}
			out[id] = stats
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveUserEmbedding persists a user's long-term profile state.
func (s *BoltStore) SaveUserEmbedding(ctx context.Context, state core.UserEmbedding) error {
	if state.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling profile: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(profilesBucket)).Put([]byte(state.UserID), data)
	})
}

// LoadUserEmbedding loads a user's long-term profile state, or
// ErrCacheMiss when none exists.
func (s *BoltStore) LoadUserEmbedding(ctx context.Context, userID string) (core.UserEmbedding, error) {
	var state core.UserEmbedding
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(profilesBucket)).Get([]byte(userID))
		if data == nil {
			return core.ErrCacheMiss
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return core.UserEmbedding{}, err
	}
	return state, nil
}

// Vector values are stored as little-endian float32 blocks, matching the
// snapshot codec layout.
func encodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("malformed vector block of %d bytes", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
