package storage

import (
	"context"
)

// Txn collects writes that commit atomically at the end of an
// Adapter.Update call.
type Txn interface {
	// Set stages a key/value write.
	Set(key string, value []byte) error

	// Delete stages a key removal.
	Delete(key string) error
}

// Adapter is the generic key/value contract every engine component depends
// on. Implementations must be thread-safe.
type Adapter interface {
	// Get returns the value stored under key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ListKeys returns all keys starting with prefix, in lexicographic order.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// Update executes fn within an atomic multi-key transaction.
	// If fn returns an error, no staged write is applied.
	Update(ctx context.Context, fn func(tx Txn) error) error

	// Close closes the backend and releases resources.
	Close() error
}
