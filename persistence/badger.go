package persistence

import (
	"context"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/stylora/retrieval/index"
)

const snapshotKeyPrefix = "snapshot:"

// BadgerSnapshotStore persists index snapshots in a BadgerDB directory.
// Suited to larger catalogs where snapshot blobs outgrow comfortable
// BoltDB page churn.
type BadgerSnapshotStore struct {
	db   *badger.DB
	name string
	path string
}

// NewBadgerSnapshotStore opens (or creates) a BadgerDB database at dbPath.
func NewBadgerSnapshotStore(dbPath, name string) (*BadgerSnapshotStore, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", dbPath, err)
	}

	return &BadgerSnapshotStore{db: db, name: name, path: dbPath}, nil
}

func (s *BadgerSnapshotStore) key() []byte {
	return []byte(snapshotKeyPrefix + s.name)
}

// Save writes the encoded snapshot under the store's name.
func (s *BadgerSnapshotStore) Save(ctx context.Context, snap *index.Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(), data)
	})
}

// Load reads and decodes the stored snapshot.
func (s *BadgerSnapshotStore) Load(ctx context.Context) (*index.Snapshot, error) {
	var blob []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key())
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("no stored snapshot named %s", s.name)
			}
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return DecodeSnapshot(blob)
}

// Close closes the underlying database.
func (s *BadgerSnapshotStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
