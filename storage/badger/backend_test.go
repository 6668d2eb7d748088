package badger

import (
	"context"
	"testing"

	"github.com/poiesic/sessiondb/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := t.TempDir()
	backend, err := OpenBackend(tmpDir, false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	assert.False(t, backend.IsClosed())

	err = backend.Close()
	require.NoError(t, err)

	assert.True(t, backend.IsClosed())
}

func TestGetSetDelete(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()

	_, err = backend.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, backend.Set(ctx, "k1", []byte("v1")))

	value, err := backend.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)

	require.NoError(t, backend.Delete(ctx, "k1"))
	_, err = backend.Get(ctx, "k1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting a missing key is not an error
	assert.NoError(t, backend.Delete(ctx, "k1"))
}

func TestListKeys(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "sessions/a/metadata", []byte("1")))
	require.NoError(t, backend.Set(ctx, "sessions/b/metadata", []byte("2")))
	require.NoError(t, backend.Set(ctx, "content/ab/x/data", []byte("3")))

	keys, err := backend.ListKeys(ctx, "sessions/")
	require.NoError(t, err)
	assert.Equal(t, []string{"sessions/a/metadata", "sessions/b/metadata"}, keys)

	keys, err = backend.ListKeys(ctx, "index/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestUpdate_Atomic(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()

	t.Run("all writes applied on success", func(t *testing.T) {
		err := backend.Update(ctx, func(tx storage.Txn) error {
			if err := tx.Set("a", []byte("1")); err != nil {
				return err
			}
			return tx.Set("b", []byte("2"))
		})
		require.NoError(t, err)

		for _, key := range []string{"a", "b"} {
			_, err := backend.Get(ctx, key)
			assert.NoError(t, err)
		}
	})

	t.Run("no writes applied on error", func(t *testing.T) {
		testErr := assert.AnError
		err := backend.Update(ctx, func(tx storage.Txn) error {
			if err := tx.Set("c", []byte("3")); err != nil {
				return err
			}
			return testErr
		})
		assert.Equal(t, testErr, err)

		_, err = backend.Get(ctx, "c")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("delete inside transaction", func(t *testing.T) {
		err := backend.Update(ctx, func(tx storage.Txn) error {
			return tx.Delete("a")
		})
		require.NoError(t, err)

		_, err = backend.Get(ctx, "a")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestClosedBackendErrors(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	ctx := context.Background()

	_, err = backend.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.ErrorIs(t, backend.Set(ctx, "k", nil), storage.ErrStorageClosed)
	_, err = backend.ListKeys(ctx, "")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
