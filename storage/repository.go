// Package storage provides the key-indexed persistence abstraction shared
// by every lifecycle component, plus a typed collection layer on top of it.
//
// Records are addressed by (collection, id). Backends only move opaque
// envelopes; typing, filtering, ordering and pagination live in Collection.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// BatchTx provides reads and writes within an atomic transaction.
type BatchTx interface {
	Get(collection, id string) (*Envelope, error)
	Put(collection, id string, envelope *Envelope) error
	PutCAS(collection, id string, expectedVersion uint64, envelope *Envelope) error
}

// Repository defines the interface for record storage.
//
// PutCAS with expectedVersion 0 only succeeds when the record is absent;
// otherwise the stored Version must equal expectedVersion.
type Repository interface {
	NextID(ctx context.Context, collection string) (int64, error)
	Put(ctx context.Context, collection, id string, envelope *Envelope) error
	PutCAS(ctx context.Context, collection, id string, expectedVersion uint64, envelope *Envelope) error
	Get(ctx context.Context, collection, id string) (*Envelope, error)
	Scan(ctx context.Context, collection string, fn func(id string, envelope *Envelope) error) error
	Batch(ctx context.Context, fn func(tx BatchTx) error) error
}
