// Package bbolt provides a BBolt-backed storage repository.
//
// Each collection is a top-level bucket; record ids are bucket keys and
// values are JSON-encoded envelopes. Id sequences use the bucket sequence.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/donorhub/storage"
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) NextID(ctx context.Context, collection string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var id uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		id, err = b.NextSequence()
		return err
	})
	return int64(id), err
}

func (s *Store) Put(ctx context.Context, collection, id string, envelope *storage.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return (&boltBatchTx{tx: tx}).Put(collection, id, envelope)
	})
}

func (s *Store) Get(ctx context.Context, collection, id string) (*storage.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var envelope *storage.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		envelope, err = getInTx(tx, collection, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return envelope, nil
}

func (s *Store) Scan(ctx context.Context, collection string, fn func(id string, envelope *storage.Envelope) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var env storage.Envelope
			if err := json.Unmarshal(v, &env); err != nil {
				return fmt.Errorf("%s/%s: %w", collection, k, err)
			}
			return fn(string(k), &env)
		})
	})
}

func (s *Store) PutCAS(ctx context.Context, collection, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return (&boltBatchTx{tx: tx}).PutCAS(collection, id, expectedVersion, envelope)
	})
}

// Batch runs fn inside a single read-write BBolt transaction.
func (s *Store) Batch(ctx context.Context, fn func(tx storage.BatchTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&boltBatchTx{tx: tx})
	})
}

// Sequence reports the current sequence value of collection without
// advancing it.
func (s *Store) Sequence(collection string) (int64, error) {
	var seq uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket([]byte(collection)); b != nil {
			seq = b.Sequence()
		}
		return nil
	})
	return int64(seq), err
}

func getInTx(tx *bbolt.Tx, collection, id string) (*storage.Envelope, error) {
	b := tx.Bucket([]byte(collection))
	if b == nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	data := b.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	var envelope storage.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}

type boltBatchTx struct {
	tx *bbolt.Tx
}

func (btx *boltBatchTx) Get(collection, id string) (*storage.Envelope, error) {
	return getInTx(btx.tx, collection, id)
}

func (btx *boltBatchTx) Put(collection, id string, envelope *storage.Envelope) error {
	b, err := btx.tx.CreateBucketIfNotExists([]byte(collection))
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

func (btx *boltBatchTx) PutCAS(collection, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	b, err := btx.tx.CreateBucketIfNotExists([]byte(collection))
	if err != nil {
		return err
	}
	existingData := b.Get([]byte(id))

	if expectedVersion == 0 {
		if existingData != nil {
			return storage.ErrCASFailed
		}
	} else {
		if existingData == nil {
			return storage.ErrCASFailed
		}
		var existing storage.Envelope
		if err := json.Unmarshal(existingData, &existing); err != nil {
			return err
		}
		if existing.Version != expectedVersion {
			return storage.ErrCASFailed
		}
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}
