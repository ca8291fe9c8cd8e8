package index

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stylora/retrieval/core"
)

// fakeCatalog serves a mutable embedding set for lifecycle tests.
type fakeCatalog struct {
	mu      sync.Mutex
	vectors [][]float32
	ids     []string
	fetchN  atomic.Int64
	failErr error
}

func (f *fakeCatalog) set(vectors [][]float32, ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors, f.ids = vectors, ids
}

func (f *fakeCatalog) FetchAllEmbeddings(ctx context.Context, kind core.EmbeddingKind) ([][]float32, []string, error) {
	f.fetchN.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, nil, f.failErr
	}
	return f.vectors, f.ids, nil
}

func (f *fakeCatalog) FetchFilteredItemIDs(ctx context.Context, filters core.Filters) ([]string, error) {
	return nil, nil
}

func (f *fakeCatalog) FetchFilteredEmbeddings(ctx context.Context, filters core.Filters) ([][]float32, []string, error) {
	return nil, nil, nil
}

func (f *fakeCatalog) FetchItems(ctx context.Context, ids []string) (map[string]core.CatalogItem, error) {
	return nil, nil
}

func (f *fakeCatalog) TotalItems(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids), nil
}

// fakeStore is an in-memory SnapshotStore.
type fakeStore struct {
	mu      sync.Mutex
	snap    *Snapshot
	saveErr error
	saves   int
}

func (s *fakeStore) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.snap = snap
	return nil
}

func (s *fakeStore) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil, core.ErrIndexNotReady
	}
	return s.snap, nil
}

func (s *fakeStore) Close() error { return nil }

func testManager(catalog *fakeCatalog, store SnapshotStore) *Manager {
	cfg := DefaultManagerConfig()
	cfg.Dimension = 2
	cfg.RebuildInterval = time.Hour
	return NewManager(catalog, store, cfg, zerolog.Nop())
}

func TestManagerEnsureLoadedBuildsFromCatalog(t *testing.T) {
	catalog := &fakeCatalog{}
	catalog.set([][]float32{{1, 0}, {0, 1}}, []string{"a", "b"})
	m := testManager(catalog, nil)

	require.NoError(t, m.EnsureLoaded(context.Background()))

	snap, err := m.Active()
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Count())

	// Second call is a no-op against the already active snapshot.
	require.NoError(t, m.EnsureLoaded(context.Background()))
	assert.Equal(t, int64(1), catalog.fetchN.Load())
}

func TestManagerEnsureLoadedPrefersStorage(t *testing.T) {
	catalog := &fakeCatalog{}
	stored := buildTestSnapshot(t, 2, [][]float32{{1, 0}}, []string{"persisted"})
	m := testManager(catalog, &fakeStore{snap: stored})

	require.NoError(t, m.EnsureLoaded(context.Background()))

	snap, err := m.Active()
	require.NoError(t, err)
	_, ok := snap.PositionOf("persisted")
	assert.True(t, ok)
	assert.Equal(t, int64(0), catalog.fetchN.Load(), "storage hit must skip the catalog")
}

func TestManagerRebuildFailureKeepsActiveSnapshot(t *testing.T) {
	catalog := &fakeCatalog{}
	catalog.set([][]float32{{1, 0}}, []string{"a"})
	m := testManager(catalog, nil)
	require.NoError(t, m.EnsureLoaded(context.Background()))

	before := m.Stats()

	// Empty catalog makes the build fail.
	catalog.set(nil, nil)
	err := m.Rebuild(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrBuildFailed)

	snap, err := m.Active()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Count(), "previous snapshot must stay active")
	assert.Equal(t, before.LastRebuild, m.Stats().LastRebuild)
}

func TestManagerRebuildSwapsAtomically(t *testing.T) {
	catalog := &fakeCatalog{}
	catalog.set([][]float32{{1, 0}}, []string{"a"})
	m := testManager(catalog, nil)
	require.NoError(t, m.EnsureLoaded(context.Background()))

	// Readers hammer the active snapshot while rebuilds swap it out.
	// Every read must see a self-consistent snapshot.
	done := make(chan struct{})
	var readerErr atomic.Value
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap, err := m.Active()
				if err != nil {
					readerErr.Store(err)
					return
				}
				hits, err := snap.Search(context.Background(), []float32{1, 0}, snap.Count())
				if err != nil {
					readerErr.Store(err)
					return
				}
				if len(hits) != snap.Count() {
					readerErr.Store(errors.New("torn snapshot read"))
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			catalog.set([][]float32{{1, 0}, {0, 1}, {1, 1}}, []string{"a", "b", "c"})
		} else {
			catalog.set([][]float32{{1, 0}}, []string{"a"})
		}
		require.NoError(t, m.Rebuild(context.Background()))
	}
	close(done)
	wg.Wait()

	if err := readerErr.Load(); err != nil {
		t.Fatalf("reader observed inconsistency: %v", err)
	}
}

func TestManagerPersistFailureStillSwaps(t *testing.T) {
	catalog := &fakeCatalog{}
	catalog.set([][]float32{{1, 0}}, []string{"a"})
	store := &fakeStore{saveErr: errors.New("disk full")}
	m := testManager(catalog, store)

	require.NoError(t, m.Rebuild(context.Background()))

	snap, err := m.Active()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Count())
	assert.Equal(t, 1, store.saves)
}

func TestManagerShouldRebuild(t *testing.T) {
	catalog := &fakeCatalog{}
	catalog.set([][]float32{{1, 0}}, []string{"a"})
	m := testManager(catalog, nil)

	assert.True(t, m.ShouldRebuild(time.Now()), "unloaded manager always wants a rebuild")

	require.NoError(t, m.EnsureLoaded(context.Background()))
	created := m.Stats().LastRebuild

	assert.False(t, m.ShouldRebuild(created.Add(30*time.Minute)))
	assert.True(t, m.ShouldRebuild(created.Add(2*time.Hour)))
}

func TestManagerRebuildIfNeeded(t *testing.T) {
	catalog := &fakeCatalog{}
	catalog.set([][]float32{{1, 0}}, []string{"a"})
	m := testManager(catalog, nil)
	require.NoError(t, m.EnsureLoaded(context.Background()))
	created := m.Stats().LastRebuild

	ran, err := m.RebuildIfNeeded(context.Background(), created.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ran)

	ran, err = m.RebuildIfNeeded(context.Background(), created.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestManagerStatsUnloaded(t *testing.T) {
	m := testManager(&fakeCatalog{}, nil)

	stats := m.Stats()
	assert.False(t, stats.Loaded)
	assert.Zero(t, stats.Count)
	assert.Equal(t, KindFlat, stats.Kind)

	_, err := m.Active()
	assert.ErrorIs(t, err, core.ErrIndexNotReady)
}
