// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmcleod/donorhub/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Envelope
	seq  map[string]int64
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{
		data: make(map[string]map[string]*storage.Envelope),
		seq:  make(map[string]int64),
	}
}

func (r *Repository) NextID(ctx context.Context, collection string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq[collection]++
	return r.seq[collection], nil
}

func (r *Repository) Put(ctx context.Context, collection, id string, envelope *storage.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(collection, id, envelope)
	return nil
}

func (r *Repository) putLocked(collection, id string, envelope *storage.Envelope) {
	if _, ok := r.data[collection]; !ok {
		r.data[collection] = make(map[string]*storage.Envelope)
	}
	r.data[collection][id] = envelope.Clone()
}

func (r *Repository) Get(ctx context.Context, collection, id string) (*storage.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(collection, id)
}

func (r *Repository) getLocked(collection, id string) (*storage.Envelope, error) {
	env, ok := r.data[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	return env.Clone(), nil
}

func (r *Repository) Scan(ctx context.Context, collection string, fn func(id string, envelope *storage.Envelope) error) error {
	r.mu.RLock()
	snapshot := make(map[string]*storage.Envelope, len(r.data[collection]))
	for k, v := range r.data[collection] {
		snapshot[k] = v.Clone()
	}
	r.mu.RUnlock()

	for id, env := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(id, env); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) PutCAS(ctx context.Context, collection, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putCASLocked(collection, id, expectedVersion, envelope)
}

func (r *Repository) putCASLocked(collection, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	existing, ok := r.data[collection][id]
	if !ok {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		r.putLocked(collection, id, envelope)
		return nil
	}
	if expectedVersion == 0 || existing.Version != expectedVersion {
		return storage.ErrCASFailed
	}
	r.putLocked(collection, id, envelope)
	return nil
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(ctx context.Context, fn func(tx storage.BatchTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryBatchTx{repo: r, undo: make(map[undoKey]*storage.Envelope)}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type undoKey struct{ collection, id string }

// memoryBatchTx records the pre-image of every key it touches so a failed
// batch can be restored. A nil pre-image means the key was absent.
type memoryBatchTx struct {
	repo *Repository
	undo map[undoKey]*storage.Envelope
}

func (tx *memoryBatchTx) remember(collection, id string) {
	k := undoKey{collection, id}
	if _, seen := tx.undo[k]; seen {
		return
	}
	tx.undo[k] = tx.repo.data[collection][id].Clone()
}

func (tx *memoryBatchTx) rollback() {
	for k, prev := range tx.undo {
		if prev == nil {
			delete(tx.repo.data[k.collection], k.id)
			continue
		}
		tx.repo.data[k.collection][k.id] = prev
	}
}

func (tx *memoryBatchTx) Get(collection, id string) (*storage.Envelope, error) {
	return tx.repo.getLocked(collection, id)
}

func (tx *memoryBatchTx) Put(collection, id string, envelope *storage.Envelope) error {
	tx.remember(collection, id)
	tx.repo.putLocked(collection, id, envelope)
	return nil
}

func (tx *memoryBatchTx) PutCAS(collection, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	tx.remember(collection, id)
	return tx.repo.putCASLocked(collection, id, expectedVersion, envelope)
}
