package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/donorhub/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DONORHUB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DONORHUB_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("could not connect to postgres: %v", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("could not ensure schema: %v", err)
	}

	clean := func() {
		pool.Exec(ctx, "DELETE FROM records")   //nolint:errcheck
		pool.Exec(ctx, "DELETE FROM sequences") //nolint:errcheck
	}
	clean()
	t.Cleanup(func() {
		clean()
		pool.Close()
	})
	return NewRepository(pool)
}

func TestPostgresStorage(t *testing.T) {
	storagetest.Run(t, newTestStore(t))
}

func TestEnsureSchemaConcurrentStartup(t *testing.T) {
	store := newTestStore(t)
	var g errgroup.Group
	for range 4 {
		g.Go(func() error { return EnsureSchema(context.Background(), store.pool) })
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent schema setup failed: %v", err)
	}
}
