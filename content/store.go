// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package content

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poiesic/sessiondb/core"
	"github.com/poiesic/sessiondb/queue"
	"github.com/poiesic/sessiondb/storage"
)

const (
	// defaultGrace is how long a zero-reference blob survives before
	// CollectGarbage may reclaim it.
	defaultGrace = 24 * time.Hour

	// numStripes is the size of the per-hash mutex pool. Operations on
	// different hashes proceed in parallel; operations on the same hash
	// serialize on the same stripe.
	numStripes = 64
)

// Store is a content-addressed blob store with reference counting.
// Identical bytes are stored physically once regardless of how many media
// items reference them.
type Store struct {
	adapter storage.Adapter
	queue   *queue.Queue
	grace   time.Duration
	logger  *slog.Logger

	stripes [numStripes]sync.Mutex

	saves        atomic.Uint64
	dedupHits    atomic.Uint64
	logicalBytes atomic.Uint64
	dedupedBytes atomic.Uint64
	gcRemoved    atomic.Uint64
}

// Option configures a Store.
type Option func(*Store) error

// WithGrace sets the garbage collection grace period. A blob whose
// reference count dropped to zero is reclaimable only after this much time
// has passed.
func WithGrace(grace time.Duration) Option {
	return func(s *Store) error {
		if grace <= 0 {
			return ErrInvalidGrace
		}
		s.grace = grace
		return nil
	}
}

// WithLogger sets the logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// NewStore creates a content store on top of the given adapter. Reference
// count changes flow through the write queue; blob bytes are written
// synchronously because they are ground truth.
func NewStore(adapter storage.Adapter, q *queue.Queue, opts ...Option) (*Store, error) {
	s := &Store{
		adapter: adapter,
		queue:   q,
		grace:   defaultGrace,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) stripe(hash core.ContentHash) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(hash))
	return &s.stripes[h.Sum32()%numStripes]
}

// Save stores data and returns its content hash. If a blob with the same
// hash already exists the bytes are not written again; its reference count
// is incremented instead. A new blob starts with a reference count of one.
func (s *Store) Save(ctx context.Context, data []byte, mimeType string) (core.ContentHash, error) {
	if len(data) == 0 {
		return "", ErrEmptyContent
	}

	hash := core.HashContent(data)
	mu := s.stripe(hash)
	mu.Lock()
	defer mu.Unlock()

	s.saves.Add(1)
	s.logicalBytes.Add(uint64(len(data)))

	metaKey := storage.BlobMetaKey(hash)
	_, err := s.adapter.Get(ctx, metaKey)
	switch {
	case err == nil:
		// Dedup hit. The bytes are already durable; only the count moves.
		s.dedupHits.Add(1)
		s.dedupedBytes.Add(uint64(len(data)))
		if err := s.queue.Enqueue(queue.Op{
			Key:      metaKey,
			Delta:    1,
			Priority: queue.PriorityNormal,
			Kind:     queue.KindBlobRef,
		}); err != nil {
			return "", err
		}
		s.logger.Debug("deduplicated blob", "hash", hash, "size", len(data))
		return hash, nil
	case errors.Is(err, storage.ErrNotFound):
		// First write. Bytes and meta must be durable before the hash is
		// handed out, so this bypasses the queue.
		info := &core.BlobInfo{
			Hash:      hash,
			Size:      int64(len(data)),
			MimeType:  mimeType,
			RefCount:  1,
			CreatedAt: time.Now().UTC(),
		}
		err := s.adapter.Update(ctx, func(tx storage.Txn) error {
			if err := tx.Set(storage.BlobDataKey(hash), data); err != nil {
				return err
			}
			return tx.Set(metaKey, storage.MarshalBlobInfo(info))
		})
		if err != nil {
			return "", fmt.Errorf("failed to save blob %s: %w", hash, err)
		}
		return hash, nil
	default:
		return "", err
	}
}

// Get returns the bytes of a blob. Returns storage.ErrNotFound if no blob
// with the given hash exists.
func (s *Store) Get(ctx context.Context, hash core.ContentHash) ([]byte, error) {
	return s.adapter.Get(ctx, storage.BlobDataKey(hash))
}

// Info returns the metadata record of a blob.
func (s *Store) Info(ctx context.Context, hash core.ContentHash) (*core.BlobInfo, error) {
	data, err := s.adapter.Get(ctx, storage.BlobMetaKey(hash))
	if err != nil {
		return nil, err
	}
	return storage.UnmarshalBlobInfo(data)
}

// AddReference increments the reference count of an existing blob.
func (s *Store) AddReference(ctx context.Context, hash core.ContentHash) error {
	return s.addDelta(ctx, hash, 1)
}

// RemoveReference decrements the reference count of an existing blob. A
// count that reaches zero marks the blob for garbage collection after the
// grace period; the bytes are never deleted here.
func (s *Store) RemoveReference(ctx context.Context, hash core.ContentHash) error {
	return s.addDelta(ctx, hash, -1)
}

func (s *Store) addDelta(ctx context.Context, hash core.ContentHash, delta int64) error {
	mu := s.stripe(hash)
	mu.Lock()
	defer mu.Unlock()

	metaKey := storage.BlobMetaKey(hash)
	if _, err := s.adapter.Get(ctx, metaKey); err != nil {
		return fmt.Errorf("blob %s: %w", hash, err)
	}
	return s.queue.Enqueue(queue.Op{
		Key:      metaKey,
		Delta:    delta,
		Priority: queue.PriorityNormal,
		Kind:     queue.KindBlobRef,
	})
}

// CollectGarbage removes blobs whose reference count has been zero for at
// least the grace period. Blobs with live references are never touched.
// Returns the number of blobs removed.
func (s *Store) CollectGarbage(ctx context.Context) (int, error) {
	// Settle pending refcount deltas before reading counts.
	if err := s.queue.Flush(ctx); err != nil {
		return 0, err
	}

	hashes, err := s.listHashes(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	removed := 0
	for _, hash := range hashes {
		ok, err := s.reclaim(ctx, hash, now)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	if removed > 0 {
		s.gcRemoved.Add(uint64(removed))
		s.logger.Info("garbage collection complete", "removed", removed)
	}
	return removed, nil
}

// reclaim deletes one blob if it is still reclaimable. The stripe lock
// blocks concurrent Save/AddReference for the same hash, and the flush
// inside the lock settles any delta enqueued before the lock was taken.
func (s *Store) reclaim(ctx context.Context, hash core.ContentHash, now time.Time) (bool, error) {
	mu := s.stripe(hash)
	mu.Lock()
	defer mu.Unlock()

	info, err := s.Info(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if info.RefCount > 0 || info.ZeroSince.IsZero() {
		return false, nil
	}
	if now.Sub(info.ZeroSince) < s.grace {
		return false, nil
	}

	if err := s.queue.Flush(ctx); err != nil {
		return false, err
	}
	info, err = s.Info(ctx, hash)
	if err != nil {
		return false, err
	}
	if info.RefCount > 0 {
		return false, nil
	}

	err = s.adapter.Update(ctx, func(tx storage.Txn) error {
		if err := tx.Delete(storage.BlobDataKey(hash)); err != nil {
			return err
		}
		return tx.Delete(storage.BlobMetaKey(hash))
	})
	if err != nil {
		return false, fmt.Errorf("failed to reclaim blob %s: %w", hash, err)
	}
	s.logger.Debug("reclaimed blob", "hash", hash, "size", info.Size)
	return true, nil
}

// Verify recomputes the hash of a blob's stored bytes. A mismatch is
// returned as a *storage.CorruptError and is fatal: blob bytes are ground
// truth and are never silently repaired.
func (s *Store) Verify(ctx context.Context, hash core.ContentHash) error {
	data, err := s.Get(ctx, hash)
	if err != nil {
		return err
	}
	actual := core.HashContent(data)
	if actual != hash {
		return &storage.CorruptError{
			Key:      storage.BlobDataKey(hash),
			Expected: string(hash),
			Actual:   string(actual),
		}
	}
	return nil
}

// VerifyAll verifies every stored blob. Returns the number of blobs
// checked and the first corruption encountered.
func (s *Store) VerifyAll(ctx context.Context) (int, error) {
	hashes, err := s.listHashes(ctx)
	if err != nil {
		return 0, err
	}
	checked := 0
	for _, hash := range hashes {
		if err := s.Verify(ctx, hash); err != nil {
			return checked, err
		}
		checked++
	}
	return checked, nil
}

func (s *Store) listHashes(ctx context.Context) ([]core.ContentHash, error) {
	keys, err := s.adapter.ListKeys(ctx, storage.ContentPrefix)
	if err != nil {
		return nil, err
	}
	hashes := make([]core.ContentHash, 0, len(keys)/2)
	for _, key := range keys {
		if !strings.HasSuffix(key, "/meta") {
			continue
		}
		if hash, ok := storage.HashFromBlobKey(key); ok {
			hashes = append(hashes, hash)
		}
	}
	return hashes, nil
}

// Stats is a point-in-time snapshot of store activity.
type Stats struct {
	Saves        uint64
	DedupHits    uint64
	LogicalBytes uint64
	DedupedBytes uint64
	GCRemoved    uint64
}

// DedupRatio returns the fraction of logical bytes that were served by
// deduplication instead of being written.
func (s Stats) DedupRatio() float64 {
	if s.LogicalBytes == 0 {
		return 0
	}
	return float64(s.DedupedBytes) / float64(s.LogicalBytes)
}

// Stats returns a snapshot of store counters.
func (s *Store) Stats() Stats {
	return Stats{
		Saves:        s.saves.Load(),
		DedupHits:    s.dedupHits.Load(),
		LogicalBytes: s.logicalBytes.Load(),
		DedupedBytes: s.dedupedBytes.Load(),
		GCRemoved:    s.gcRemoved.Load(),
	}
}
