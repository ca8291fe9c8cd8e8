package index

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/stylora/retrieval/core"
)

// SnapshotStore persists snapshots across restarts. The three persisted
// pieces (vector block, id mapping, metadata) load together or not at all.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
	Close() error
}

// ManagerConfig carries the tunables of the index lifecycle.
type ManagerConfig struct {
	Dimension       int
	EmbeddingKind   core.EmbeddingKind
	RebuildInterval time.Duration
	SourceVersion   string
}

// DefaultManagerConfig returns the production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Dimension:       512,
		EmbeddingKind:   core.EmbeddingText,
		RebuildInterval: 6 * time.Hour,
	}
}

// Stats is the operational view of the manager.
type Stats struct {
	Count       int       `json:"count"`
	Kind        string    `json:"kind"`
	Dimension   int       `json:"dimension"`
	Loaded      bool      `json:"loaded"`
	LastRebuild time.Time `json:"last_rebuild,omitzero"`
	NextRebuild time.Time `json:"next_rebuild,omitzero"`
}

// Manager owns the active snapshot and its lifecycle: initial load, timed
// rebuilds, persistence, and O(1) id/position lookups.
//
// The active snapshot lives behind an atomic pointer; readers always see a
// complete snapshot, old or new. Building and persisting happen entirely
// outside any lock; the pointer swap is the only exclusive step.
type Manager struct {
	catalog core.CatalogSource
	store   SnapshotStore // nil disables persistence
	builder *Builder
	cfg     ManagerConfig
	log     zerolog.Logger

	active  atomic.Pointer[Snapshot]
	group   singleflight.Group
	buildMu sync.Mutex // serializes rebuilds
}

// NewManager creates an index lifecycle manager. store may be nil when no
// durable snapshot storage is configured.
func NewManager(catalog core.CatalogSource, store SnapshotStore, cfg ManagerConfig, log zerolog.Logger) *Manager {
	return &Manager{
		catalog: catalog,
		store:   store,
		builder: NewBuilder(cfg.Dimension),
		cfg:     cfg,
		log:     log.With().Str("component", "index-manager").Logger(),
	}
}

// EnsureLoaded makes sure an active snapshot exists: load from storage
// first, build from the catalog if that fails. Idempotent; concurrent
// callers collapse into a single load.
func (m *Manager) EnsureLoaded(ctx context.Context) error {
	if m.active.Load() != nil {
		return nil
	}

	_, err, _ := m.group.Do("ensure-loaded", func() (interface{}, error) {
		if m.active.Load() != nil {
			return nil, nil
		}

		if m.store != nil {
			snap, err := m.store.Load(ctx)
			if err == nil {
				m.active.Store(snap)
				m.log.Info().
					Int("count", snap.Count()).
					Time("created_at", snap.Metadata().CreatedAt).
					Msg("loaded index snapshot from storage")
				return nil, nil
			}
			m.log.Warn().Err(err).Msg("could not load snapshot from storage, building from catalog")
		}

		return nil, m.Rebuild(ctx)
	})
	return err
}

// Rebuild fetches all current embeddings from the catalog, builds a fresh
// snapshot, persists it, and swaps it in. Concurrent reads of the previous
// snapshot are never blocked. On failure the previous snapshot stays
// active.
func (m *Manager) Rebuild(ctx context.Context) error {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	vectors, ids, err := m.catalog.FetchAllEmbeddings(ctx, m.cfg.EmbeddingKind)
	if err != nil {
		return fmt.Errorf("%w: fetching embeddings: %v", core.ErrBuildFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	started := time.Now()
	snap, err := m.builder.Build(vectors, ids, m.cfg.SourceVersion)
	if err != nil {
		m.log.Error().Err(err).Msg("index build failed, previous snapshot stays active")
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if m.store != nil {
		if err := m.store.Save(ctx, snap); err != nil {
			// Persistence is best-effort: serve the fresh snapshot anyway.
			m.log.Warn().Err(err).Msg("failed to persist index snapshot")
		}
	}

	m.active.Store(snap)
	m.log.Info().
		Int("count", snap.Count()).
		Dur("build_time", time.Since(started)).
		Msg("index snapshot rebuilt")
	return nil
}

// ShouldRebuild reports whether the rebuild interval has elapsed since the
// active snapshot was built. True when nothing is loaded yet.
func (m *Manager) ShouldRebuild(now time.Time) bool {
	snap := m.active.Load()
	if snap == nil {
		return true
	}
	return now.Sub(snap.Metadata().CreatedAt) >= m.cfg.RebuildInterval
}

// RebuildIfNeeded rebuilds when the interval has elapsed; reports whether
// a rebuild ran.
func (m *Manager) RebuildIfNeeded(ctx context.Context, now time.Time) (bool, error) {
	if !m.ShouldRebuild(now) {
		return false, nil
	}
	return true, m.Rebuild(ctx)
}

// Active returns the current snapshot, or ErrIndexNotReady when none has
// been loaded or built.
func (m *Manager) Active() (*Snapshot, error) {
	snap := m.active.Load()
	if snap == nil {
		return nil, core.ErrIndexNotReady
	}
	return snap, nil
}

// PositionOf resolves an item id against the active snapshot.
func (m *Manager) PositionOf(itemID string) (int, bool) {
	snap := m.active.Load()
	if snap == nil {
		return 0, false
	}
	return snap.PositionOf(itemID)
}

// ItemOf resolves a position against the active snapshot.
func (m *Manager) ItemOf(position int) (string, bool) {
	snap := m.active.Load()
	if snap == nil {
		return "", false
	}
	return snap.ItemAt(position)
}

// Stats returns operational counters for the active snapshot.
func (m *Manager) Stats() Stats {
	snap := m.active.Load()
	if snap == nil {
		return Stats{Kind: KindFlat, Dimension: m.cfg.Dimension}
	}

	meta := snap.Metadata()
	return Stats{
		Count:       snap.Count(),
		Kind:        meta.Kind,
		Dimension:   meta.Dimension,
		Loaded:      true,
		LastRebuild: meta.CreatedAt,
		NextRebuild: meta.CreatedAt.Add(m.cfg.RebuildInterval),
	}
}

// Reset drops the active snapshot. Test helper.
func (m *Manager) Reset() {
	m.active.Store(nil)
}
