package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/stylora/retrieval/index"
)

const snapshotsBucket = "snapshots"

// BoltSnapshotStore persists index snapshots in a BoltDB file. Each named
// index (one per embedding kind) occupies one key in the snapshots bucket,
// written in a single transaction so loads never observe a partial write.
type BoltSnapshotStore struct {
	db   *bbolt.DB
	name string
	path string
}

// NewBoltSnapshotStore opens (or creates) the BoltDB file at dbPath and
// prepares the snapshots bucket. name distinguishes multiple indexes
// sharing one file.
func NewBoltSnapshotStore(dbPath, name string) (*BoltSnapshotStore, error) {
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
		_, err := tx.CreateBucketIfNotExists([]byte(snapshotsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize snapshots bucket: %w", err)
	}

	return &BoltSnapshotStore{db: db, name: name, path: dbPath}, nil
}

// Save writes the encoded snapshot under the store's name.
func (s *BoltSnapshotStore) Save(ctx context.Context, snap *index.Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotsBucket))
		if bucket == nil {
			return fmt.Errorf("snapshots bucket not found")
		}
		return bucket.Put([]byte(s.name), data)
	})
}

// Load reads and decodes the stored snapshot.
func (s *BoltSnapshotStore) Load(ctx context.Context) (*index.Snapshot, error) {
	var blob []byte

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotsBucket))
		if bucket == nil {
			return fmt.Errorf("snapshots bucket not found")
		}

		data := bucket.Get([]byte(s.name))
		if data == nil {
			return fmt.Errorf("no stored snapshot named %s", s.name)
		}

		// Copy, bolt data is only valid inside the transaction.
		blob = make([]byte, len(data))
		copy(blob, data)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return DecodeSnapshot(blob)
}

// Close closes the underlying database.
func (s *BoltSnapshotStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
