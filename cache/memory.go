package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stylora/retrieval/core"
)

// MemoryStore is an in-process core.KeyValueStore with lazy TTL expiry.
// Used in tests and single-node deployments without Redis.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]memoryEntry
	counters map[string]int64
	zsets    map[string]map[string]float64
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]memoryEntry),
		counters: make(map[string]int64),
		zsets:    make(map[string]map[string]float64),
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		return nil, core.ErrCacheMiss
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	now := time.Now()
	result := make(map[string][]byte, len(keys))

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range keys {
		if entry, ok := m.entries[k]; ok && !entry.expired(now) {
			out := make([]byte, len(entry.value))
			copy(out, entry.value)
			result[k] = out
		}
	}
	return result, nil
}

func (m *MemoryStore) BatchSet(ctx context.Context, kvs map[string][]byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range kvs {
		m.entries[k] = memoryEntry{value: append([]byte(nil), v...), expiresAt: expiresAt}
	}
	return nil
}

func (m *MemoryStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func (m *MemoryStore) ZIncrBy(ctx context.Context, key string, delta float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	zset, ok := m.zsets[key]
	if !ok {
		zset = make(map[string]float64)
		m.zsets[key] = zset
	}
	zset[member] += delta
	return nil
}

func (m *MemoryStore) ZTopN(ctx context.Context, key string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	zset := m.zsets[key]
	members := make([]string, 0, len(zset))
	for member := range zset {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := zset[members[i]], zset[members[j]]
		if si != sj {
			return si > sj
		}
		return members[i] < members[j]
	})
	m.mu.RUnlock()

	if len(members) > n {
		members = members[:n]
	}
	return members, nil
}

func (m *MemoryStore) Close() error { return nil }

var _ core.KeyValueStore = (*MemoryStore)(nil)
