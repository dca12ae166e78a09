// Package storagetest holds the behavioural contract shared by every
// storage.Repository implementation.
package storagetest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/patientportal/storage"
)

// Run exercises repo against the storage.Repository contract. The repository
// must start empty.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()
	const bucket = "session"

	t.Run("PutAndGet", func(t *testing.T) {
		require.NoError(t, repo.Put(bucket, "token", []byte("abc")))
		got, err := repo.Get(bucket, "token")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), got)
	})

	t.Run("GetReturnsCopy", func(t *testing.T) {
		require.NoError(t, repo.Put(bucket, "copy", []byte("xyz")))
		got, err := repo.Get(bucket, "copy")
		require.NoError(t, err)
		got[0] = 'Q'
		again, err := repo.Get(bucket, "copy")
		require.NoError(t, err)
		assert.Equal(t, []byte("xyz"), again)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.Get(bucket, "nope")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

		_, err = repo.Get("no-such-bucket", "token")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, repo.Put(bucket, "ow", []byte("v1")))
		require.NoError(t, repo.Put(bucket, "ow", []byte("v2")))
		got, err := repo.Get(bucket, "ow")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Put(bucket, "del", []byte("x")))
		require.NoError(t, repo.Delete(bucket, "del"))
		_, err := repo.Get(bucket, "del")
		assert.True(t, errors.Is(err, storage.ErrNotFound))

		err = repo.Delete(bucket, "del")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "second delete: %v", err)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, repo.Put("listing", "a", []byte("1")))
		require.NoError(t, repo.Put("listing", "b", []byte("2")))
		keys, err := repo.List("listing")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, keys)

		keys, err = repo.List("empty-bucket")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("BatchCommit", func(t *testing.T) {
		err := repo.Batch(bucket, func(tx storage.BatchTx) error {
			if err := tx.Put("b1", []byte("one")); err != nil {
				return err
			}
			if err := tx.Put("b2", []byte("two")); err != nil {
				return err
			}
			return tx.Delete("never-existed")
		})
		require.NoError(t, err)
		v1, err := repo.Get(bucket, "b1")
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), v1)
		v2, err := repo.Get(bucket, "b2")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), v2)
	})

	t.Run("BatchRollback", func(t *testing.T) {
		require.NoError(t, repo.Put(bucket, "keep", []byte("original")))
		boom := errors.New("boom")
		err := repo.Batch(bucket, func(tx storage.BatchTx) error {
			_ = tx.Put("keep", []byte("changed"))
			_ = tx.Put("ghost", []byte("x"))
			_ = tx.Delete("b1")
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := repo.Get(bucket, "keep")
		require.NoError(t, err)
		assert.Equal(t, []byte("original"), got)
		_, err = repo.Get(bucket, "ghost")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		_, err = repo.Get(bucket, "b1")
		assert.NoError(t, err, "deleted key should be restored after rollback")
	})
}
