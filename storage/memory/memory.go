// Package memory provides a volatile, map-backed storage.Adapter.
//
// It is the second backend next to storage/badger: picked once at startup
// for environments without a filesystem, and used throughout the tests of
// the higher engine layers.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/poiesic/sessiondb/storage"
)

// Adapter implements storage.Adapter on an in-process map.
type Adapter struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

var _ storage.Adapter = (*Adapter)(nil)

// New creates an empty in-memory adapter.
func New() *Adapter {
	return &Adapter{data: make(map[string][]byte)}
}

// Close marks the adapter closed; subsequent calls fail with ErrStorageClosed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.data = nil
	return nil
}

// Get returns a copy of the value stored under key.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.ErrStorageClosed
	}
	value, ok := a.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

// Set stores a copy of value under key.
func (a *Adapter) Set(ctx context.Context, key string, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return storage.ErrStorageClosed
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	a.data[key] = cp
	return nil
}

// Delete removes key. Missing keys are not an error.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return storage.ErrStorageClosed
	}
	delete(a.data, key)
	return nil
}

// ListKeys returns all keys with the given prefix in lexicographic order.
func (a *Adapter) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.ErrStorageClosed
	}
	var keys []string
	for key := range a.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// txnOp is one staged write inside a transaction.
type txnOp struct {
	key    string
	value  []byte
	delete bool
}

// memTxn stages writes until the Update callback returns.
type memTxn struct {
	ops []txnOp
}

var _ storage.Txn = (*memTxn)(nil)

func (t *memTxn) Set(key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	t.ops = append(t.ops, txnOp{key: key, value: cp})
	return nil
}

func (t *memTxn) Delete(key string) error {
	t.ops = append(t.ops, txnOp{key: key, delete: true})
	return nil
}

// Update executes fn and applies its staged writes atomically under the
// adapter lock. If fn returns an error nothing is applied.
func (a *Adapter) Update(ctx context.Context, fn func(tx storage.Txn) error) error {
	tx := &memTxn{}
	if err := fn(tx); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return storage.ErrStorageClosed
	}
	for _, op := range tx.ops {
		if op.delete {
			delete(a.data, op.key)
		} else {
			a.data[op.key] = op.value
		}
	}
	return nil
}

// Len returns the number of stored keys. Test helper.
func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.data)
}
