package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
)

// Doc is a decoded record with its storage metadata.
type Doc[T any] struct {
	ID      int64
	Version uint64
	Value   T
}

// Collection is a typed view over one collection of a Repository. Values
// are stored as JSON envelopes keyed by a sequence-assigned int64 id.
type Collection[T any] struct {
	repo Repository
	name string
}

// NewCollection returns a Collection named name backed by repo.
func NewCollection[T any](repo Repository, name string) *Collection[T] {
	return &Collection[T]{repo: repo, name: name}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

// Insert allocates the next id, builds the value for it and stores it.
func (c *Collection[T]) Insert(ctx context.Context, build func(id int64) T) (T, error) {
	var zero T
	id, err := c.repo.NextID(ctx, c.name)
	if err != nil {
		return zero, fmt.Errorf("allocating %s id: %w", c.name, err)
	}
	v := build(id)
	env, err := EncodeJSON(v, 1)
	if err != nil {
		return zero, err
	}
	if err := c.repo.PutCAS(ctx, c.name, formatID(id), 0, env); err != nil {
		return zero, fmt.Errorf("inserting %s/%d: %w", c.name, id, err)
	}
	return v, nil
}

// Load returns the record with its version.
func (c *Collection[T]) Load(ctx context.Context, id int64) (Doc[T], error) {
	env, err := c.repo.Get(ctx, c.name, formatID(id))
	if err != nil {
		return Doc[T]{}, err
	}
	return decodeDoc[T](id, env)
}

// Get returns the record value. Missing records yield ErrNotFound.
func (c *Collection[T]) Get(ctx context.Context, id int64) (T, error) {
	d, err := c.Load(ctx, id)
	return d.Value, err
}

// Put stores v under id, bumping its version. Concurrent writers are
// last-write-wins.
func (c *Collection[T]) Put(ctx context.Context, id int64, v T) error {
	return c.repo.Batch(ctx, func(tx BatchTx) error {
		return c.PutTx(tx, id, v)
	})
}

// PutTx is Put inside an existing batch.
func (c *Collection[T]) PutTx(tx BatchTx, id int64, v T) error {
	var version uint64
	existing, err := tx.Get(c.name, formatID(id))
	switch {
	case err == nil:
		version = existing.Version
	case !errors.Is(err, ErrNotFound):
		return err
	}
	env, err := EncodeJSON(v, version+1)
	if err != nil {
		return err
	}
	return tx.Put(c.name, formatID(id), env)
}

// Replace stores v only if the record is still at expectedVersion.
func (c *Collection[T]) Replace(ctx context.Context, id int64, expectedVersion uint64, v T) error {
	env, err := EncodeJSON(v, expectedVersion+1)
	if err != nil {
		return err
	}
	return c.repo.PutCAS(ctx, c.name, formatID(id), expectedVersion, env)
}

// LoadTx is Load inside an existing batch.
func (c *Collection[T]) LoadTx(tx BatchTx, id int64) (Doc[T], error) {
	env, err := tx.Get(c.name, formatID(id))
	if err != nil {
		return Doc[T]{}, err
	}
	return decodeDoc[T](id, env)
}

// ReplaceTx is Replace inside an existing batch.
func (c *Collection[T]) ReplaceTx(tx BatchTx, id int64, expectedVersion uint64, v T) error {
	env, err := EncodeJSON(v, expectedVersion+1)
	if err != nil {
		return err
	}
	return tx.PutCAS(c.name, formatID(id), expectedVersion, env)
}

// Find returns the page of records selected by q and the total number of
// matching records before paging. Results without an Order are sorted by id.
func (c *Collection[T]) Find(ctx context.Context, q Query[T]) ([]T, int, error) {
	docs, err := c.scan(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	order := func(a, b Doc[T]) int {
		if q.Order != nil {
			if r := q.Order(a.Value, b.Value); r != 0 {
				return r
			}
		}
		return cmp.Compare(a.ID, b.ID)
	}
	slices.SortStableFunc(docs, order)

	total := len(docs)
	start := min(max(q.Offset, 0), total)
	end := total
	if q.Limit > 0 {
		end = min(start+q.Limit, total)
	}
	out := make([]T, 0, end-start)
	for _, d := range docs[start:end] {
		out = append(out, d.Value)
	}
	return out, total, nil
}

// First returns the lowest-id record matching every filter.
func (c *Collection[T]) First(ctx context.Context, where ...Filter[T]) (T, bool, error) {
	var zero T
	found, _, err := c.Find(ctx, Query[T]{Where: where, Limit: 1})
	if err != nil || len(found) == 0 {
		return zero, false, err
	}
	return found[0], true, nil
}

// Count returns the number of records matching every filter.
func (c *Collection[T]) Count(ctx context.Context, where ...Filter[T]) (int, error) {
	docs, err := c.scan(ctx, Query[T]{Where: where})
	return len(docs), err
}

func (c *Collection[T]) scan(ctx context.Context, q Query[T]) ([]Doc[T], error) {
	var docs []Doc[T]
	err := c.repo.Scan(ctx, c.name, func(key string, env *Envelope) error {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: malformed id %q", c.name, key)
		}
		d, err := decodeDoc[T](id, env)
		if err != nil {
			return err
		}
		if q.matches(d.Value) {
			docs = append(docs, d)
		}
		return nil
	})
	return docs, err
}

func decodeDoc[T any](id int64, env *Envelope) (Doc[T], error) {
	var v T
	if err := DecodeJSON(env, &v); err != nil {
		return Doc[T]{}, fmt.Errorf("decoding record %d: %w", id, err)
	}
	return Doc[T]{ID: id, Version: env.Version, Value: v}, nil
}
