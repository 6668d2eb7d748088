package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/poiesic/sessiondb/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetDelete(t *testing.T) {
	adapter := New()
	defer adapter.Close()
	ctx := context.Background()

	_, err := adapter.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, adapter.Set(ctx, "k", []byte("v")))
	value, err := adapter.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	require.NoError(t, adapter.Delete(ctx, "k"))
	_, err = adapter.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	adapter := New()
	defer adapter.Close()
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "k", []byte("abc")))
	value, err := adapter.Get(ctx, "k")
	require.NoError(t, err)

	value[0] = 'z'

	again, err := adapter.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestListKeys_SortedByPrefix(t *testing.T) {
	adapter := New()
	defer adapter.Close()
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "sessions/b/metadata", nil))
	require.NoError(t, adapter.Set(ctx, "sessions/a/metadata", nil))
	require.NoError(t, adapter.Set(ctx, "index/tag", nil))

	keys, err := adapter.ListKeys(ctx, "sessions/")
	require.NoError(t, err)
	assert.Equal(t, []string{"sessions/a/metadata", "sessions/b/metadata"}, keys)
}

func TestUpdate_Atomic(t *testing.T) {
	adapter := New()
	defer adapter.Close()
	ctx := context.Background()

	err := adapter.Update(ctx, func(tx storage.Txn) error {
		tx.Set("a", []byte("1"))
		tx.Set("b", []byte("2"))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, adapter.Len())

	err = adapter.Update(ctx, func(tx storage.Txn) error {
		tx.Set("c", []byte("3"))
		return assert.AnError
	})
	assert.Error(t, err)
	_, err = adapter.Get(ctx, "c")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConcurrentAccess(t *testing.T) {
	adapter := New()
	defer adapter.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n))
			_ = adapter.Set(ctx, key, []byte{byte(n)})
			_, _ = adapter.Get(ctx, key)
			_, _ = adapter.ListKeys(ctx, "")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, adapter.Len())
}

func TestClosedAdapterErrors(t *testing.T) {
	adapter := New()
	require.NoError(t, adapter.Close())
	ctx := context.Background()

	_, err := adapter.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.ErrorIs(t, adapter.Set(ctx, "k", nil), storage.ErrStorageClosed)
	err = adapter.Update(ctx, func(tx storage.Txn) error { return tx.Set("k", nil) })
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
