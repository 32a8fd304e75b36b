// Package postgres implements storage.Repository backed by PostgreSQL.
//
// The records table uses a composite primary key (collection, record_id)
// that mirrors the key space used by the BBolt and in-memory backends.
// Id sequences live in a separate table and are advanced with an upsert.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/donorhub/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const upsertSQL = `INSERT INTO records (collection, record_id, ver, scheme, data, version)
	 VALUES ($1, $2, $3, $4, $5, $6)
	 ON CONFLICT (collection, record_id)
	 DO UPDATE SET ver = $3, scheme = $4, data = $5, version = $6`

func (s *Store) NextID(ctx context.Context, collection string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sequences (collection, value) VALUES ($1, 1)
		 ON CONFLICT (collection) DO UPDATE SET value = sequences.value + 1
		 RETURNING value`, collection).Scan(&id)
	return id, err
}

func (s *Store) Put(ctx context.Context, collection, id string, envelope *storage.Envelope) error {
	_, err := s.pool.Exec(ctx, upsertSQL,
		collection, id, envelope.Ver, envelope.Scheme, envelope.Data, envelope.Version)
	return err
}

func (s *Store) Get(ctx context.Context, collection, id string) (*storage.Envelope, error) {
	return getRow(ctx, s.pool, collection, id)
}

func (s *Store) Scan(ctx context.Context, collection string, fn func(id string, envelope *storage.Envelope) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT record_id, ver, scheme, data, version FROM records WHERE collection = $1`,
		collection)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  string
			env storage.Envelope
		)
		if err := rows.Scan(&id, &env.Ver, &env.Scheme, &env.Data, &env.Version); err != nil {
			return err
		}
		if err := fn(id, &env); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) PutCAS(ctx context.Context, collection, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := putCASInTx(ctx, tx, collection, id, expectedVersion, envelope); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Batch(ctx context.Context, fn func(tx storage.BatchTx) error) error {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer pgTx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgBatchTx{ctx: ctx, tx: pgTx}); err != nil {
		return err
	}
	return pgTx.Commit(ctx)
}

// ---------------------------------------------------------------------------
// BatchTx implementation
// ---------------------------------------------------------------------------

type pgBatchTx struct {
	ctx context.Context
	tx  pgx.Tx
}

var _ storage.BatchTx = (*pgBatchTx)(nil)

func (btx *pgBatchTx) Get(collection, id string) (*storage.Envelope, error) {
	return getRow(btx.ctx, btx.tx, collection, id)
}

func (btx *pgBatchTx) Put(collection, id string, envelope *storage.Envelope) error {
	_, err := btx.tx.Exec(btx.ctx, upsertSQL,
		collection, id, envelope.Ver, envelope.Scheme, envelope.Data, envelope.Version)
	return err
}

func (btx *pgBatchTx) PutCAS(collection, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	return putCASInTx(btx.ctx, btx.tx, collection, id, expectedVersion, envelope)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// querier abstracts both *pgxpool.Pool and pgx.Tx for shared queries.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getRow(ctx context.Context, q querier, collection, id string) (*storage.Envelope, error) {
	var env storage.Envelope
	err := q.QueryRow(ctx,
		`SELECT ver, scheme, data, version
		 FROM records WHERE collection = $1 AND record_id = $2`,
		collection, id).Scan(&env.Ver, &env.Scheme, &env.Data, &env.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// putCASInTx performs a compare-and-swap put within an existing transaction.
// It is used by both the top-level PutCAS and the batch PutCAS methods.
func putCASInTx(ctx context.Context, tx pgx.Tx, collection, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	var currentVersion uint64
	err := tx.QueryRow(ctx,
		`SELECT version FROM records
		 WHERE collection = $1 AND record_id = $2
		 FOR UPDATE`,
		collection, id).Scan(&currentVersion)

	if errors.Is(err, pgx.ErrNoRows) {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO records (collection, record_id, ver, scheme, data, version)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (collection, record_id) DO NOTHING`,
			collection, id, envelope.Ver, envelope.Scheme, envelope.Data, envelope.Version)
		if err != nil {
			return err
		}
		// A concurrent insert won the race.
		if tag.RowsAffected() == 0 {
			return storage.ErrCASFailed
		}
		return nil
	}
	if err != nil {
		return err
	}

	if expectedVersion == 0 || currentVersion != expectedVersion {
		return storage.ErrCASFailed
	}

	_, err = tx.Exec(ctx,
		`UPDATE records SET ver = $3, scheme = $4, data = $5, version = $6
		 WHERE collection = $1 AND record_id = $2`,
		collection, id, envelope.Ver, envelope.Scheme, envelope.Data, envelope.Version)
	return err
}
