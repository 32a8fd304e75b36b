// Package storagetest holds the behavioural tests every storage.Repository
// backend must pass.
package storagetest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/donorhub/storage"
)

func env(data string, version uint64) *storage.Envelope {
	return &storage.Envelope{Ver: 1, Scheme: storage.SchemeJSON, Data: []byte(data), Version: version}
}

// Run exercises repo against the Repository contract. The repository must
// start empty.
func Run(t *testing.T, repo storage.Repository) {
	ctx := context.Background()

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "items", "1", env(`"a"`, 1)))
		got, err := repo.Get(ctx, "items", "1")
		require.NoError(t, err)
		assert.Equal(t, []byte(`"a"`), got.Data)
		assert.Equal(t, uint64(1), got.Version)
		assert.Equal(t, storage.SchemeJSON, got.Scheme)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.Get(ctx, "items", "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = repo.Get(ctx, "no-such-collection", "1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("CollectionsAreIsolated", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "other", "1", env(`"b"`, 1)))
		got, err := repo.Get(ctx, "items", "1")
		require.NoError(t, err)
		assert.Equal(t, []byte(`"a"`), got.Data)
	})

	t.Run("Scan", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "items", "2", env(`"c"`, 1)))
		var ids []string
		require.NoError(t, repo.Scan(ctx, "items", func(id string, e *storage.Envelope) error {
			ids = append(ids, id)
			return nil
		}))
		sort.Strings(ids)
		assert.Equal(t, []string{"1", "2"}, ids)

		stop := errors.New("stop")
		err := repo.Scan(ctx, "items", func(string, *storage.Envelope) error { return stop })
		assert.ErrorIs(t, err, stop)

		var none int
		require.NoError(t, repo.Scan(ctx, "empty", func(string, *storage.Envelope) error {
			none++
			return nil
		}))
		assert.Zero(t, none)
	})

	t.Run("NextIDIsMonotonicPerCollection", func(t *testing.T) {
		a, err := repo.NextID(ctx, "seq-a")
		require.NoError(t, err)
		b, err := repo.NextID(ctx, "seq-a")
		require.NoError(t, err)
		c, err := repo.NextID(ctx, "seq-b")
		require.NoError(t, err)
		assert.Equal(t, int64(1), a)
		assert.Equal(t, int64(2), b)
		assert.Equal(t, int64(1), c)
	})

	t.Run("NextIDConcurrent", func(t *testing.T) {
		var (
			mu   sync.Mutex
			seen = map[int64]bool{}
			wg   sync.WaitGroup
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := repo.NextID(ctx, "seq-c")
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Len(t, seen, 20)
	})

	t.Run("PutCAS", func(t *testing.T) {
		require.NoError(t, repo.PutCAS(ctx, "cas", "1", 0, env(`1`, 1)))
		assert.ErrorIs(t, repo.PutCAS(ctx, "cas", "1", 0, env(`1`, 1)), storage.ErrCASFailed)

		require.NoError(t, repo.PutCAS(ctx, "cas", "1", 1, env(`2`, 2)))
		assert.ErrorIs(t, repo.PutCAS(ctx, "cas", "1", 1, env(`3`, 2)), storage.ErrCASFailed)
		assert.ErrorIs(t, repo.PutCAS(ctx, "cas", "missing", 4, env(`3`, 5)), storage.ErrCASFailed)

		got, err := repo.Get(ctx, "cas", "1")
		require.NoError(t, err)
		assert.Equal(t, []byte(`2`), got.Data)
	})

	t.Run("BatchCommits", func(t *testing.T) {
		err := repo.Batch(ctx, func(tx storage.BatchTx) error {
			if err := tx.Put("batch", "1", env(`"x"`, 1)); err != nil {
				return err
			}
			got, err := tx.Get("batch", "1")
			if err != nil {
				return err
			}
			assert.Equal(t, []byte(`"x"`), got.Data)
			return tx.PutCAS("batch-other", "1", 0, env(`"y"`, 1))
		})
		require.NoError(t, err)

		_, err = repo.Get(ctx, "batch", "1")
		require.NoError(t, err)
		_, err = repo.Get(ctx, "batch-other", "1")
		require.NoError(t, err)
	})

	t.Run("BatchRollsBack", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "rollback", "1", env(`"before"`, 1)))
		boom := errors.New("boom")
		err := repo.Batch(ctx, func(tx storage.BatchTx) error {
			if err := tx.Put("rollback", "1", env(`"after"`, 2)); err != nil {
				return err
			}
			if err := tx.Put("rollback", "2", env(`"new"`, 1)); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := repo.Get(ctx, "rollback", "1")
		require.NoError(t, err)
		assert.Equal(t, []byte(`"before"`), got.Data)
		_, err = repo.Get(ctx, "rollback", "2")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("BatchCASConflictRollsBack", func(t *testing.T) {
		err := repo.Batch(ctx, func(tx storage.BatchTx) error {
			if err := tx.Put("conflict", "1", env(`"kept?"`, 1)); err != nil {
				return err
			}
			return tx.PutCAS("cas", "1", 1, env(`"stale"`, 2))
		})
		assert.ErrorIs(t, err, storage.ErrCASFailed)
		_, err = repo.Get(ctx, "conflict", "1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := repo.Get(cctx, "items", "1")
		assert.Error(t, err)
	})
}
