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

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/sessiondb/content"
	"github.com/poiesic/sessiondb/core"
	"github.com/poiesic/sessiondb/queue"
	"github.com/poiesic/sessiondb/storage"
)

const (
	defaultItemsPerChunk = 20
	defaultPoolSize      = 8
	defaultSweepInterval = time.Minute
)

// Indexer receives metadata changes so search stays consistent with the
// session records. The engine wires the index engine in here; tests can
// pass a stub.
type Indexer interface {
	UpdateSession(meta *core.SessionMetadata)
	RemoveSession(id core.SessionID)
}

// ChunkCache caches serialized chunks for read-through loads. The manager
// stays correct with the cache empty or absent.
type ChunkCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Delete(key string)
	InvalidatePrefix(prefix string)
}

type noopIndexer struct{}

func (noopIndexer) UpdateSession(_ *core.SessionMetadata) {}
func (noopIndexer) RemoveSession(_ core.SessionID)        {}

type noopCache struct{}

func (noopCache) Get(_ string) ([]byte, bool)  { return nil, false }
func (noopCache) Set(_ string, _ []byte)       {}
func (noopCache) Delete(_ string)              {}
func (noopCache) InvalidatePrefix(_ string)    {}

// Manager owns session records: metadata plus chunked media collections.
type Manager struct {
	adapter       storage.Adapter
	queue         *queue.Queue
	blobs         *content.Store
	indexer       Indexer
	cache         ChunkCache
	pool          *ants.Pool
	logger        *slog.Logger
	itemsPerChunk int
	poolSize      int
	sweepInterval time.Duration

	mu      sync.Mutex
	lanes   map[core.SessionID]*sync.Mutex
	working map[core.SessionID]*core.SessionMetadata

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager) error

// WithItemsPerChunk sets how many items a chunk holds before a new chunk
// is started. Applies to sessions created after the change.
func WithItemsPerChunk(n int) Option {
	return func(m *Manager) error {
		if n <= 0 {
			return ErrInvalidChunkSize
		}
		m.itemsPerChunk = n
		return nil
	}
}

// WithIndexer sets the indexer notified on metadata changes.
func WithIndexer(idx Indexer) Option {
	return func(m *Manager) error {
		m.indexer = idx
		return nil
	}
}

// WithCache sets the chunk cache used by full loads.
func WithCache(c ChunkCache) Option {
	return func(m *Manager) error {
		m.cache = c
		return nil
	}
}

// WithPoolSize sets the size of the parallel chunk loader pool.
func WithPoolSize(n int) Option {
	return func(m *Manager) error {
		if n <= 0 {
			return ErrInvalidPoolSize
		}
		m.poolSize = n
		return nil
	}
}

// WithLogger sets the logger used by the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		m.logger = logger
		return nil
	}
}

// WithSweepInterval sets how often working copies of committed metadata
// are released.
func WithSweepInterval(interval time.Duration) Option {
	return func(m *Manager) error {
		if interval <= 0 {
			return ErrInvalidSweepInterval
		}
		m.sweepInterval = interval
		return nil
	}
}

// NewManager creates a session manager on top of the adapter, write queue
// and content store.
func NewManager(adapter storage.Adapter, q *queue.Queue, blobs *content.Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		adapter:       adapter,
		queue:         q,
		blobs:         blobs,
		indexer:       noopIndexer{},
		cache:         noopCache{},
		logger:        slog.Default(),
		itemsPerChunk: defaultItemsPerChunk,
		poolSize:      defaultPoolSize,
		sweepInterval: defaultSweepInterval,
		lanes:         make(map[core.SessionID]*sync.Mutex),
		working:       make(map[core.SessionID]*core.SessionMetadata),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	pool, err := ants.NewPool(m.poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create loader pool: %w", err)
	}
	m.pool = pool
	go m.sweepWorking()
	return m, nil
}

// Close stops the working-set sweeper and releases the loader pool.
// Pending queue writes are the queue's responsibility, not the manager's.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() { close(m.stop) })
	<-m.done
	m.pool.Release()
	return nil
}

func (m *Manager) sweepWorking() {
	defer close(m.done)
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.releaseCommitted(context.Background())
		}
	}
}

// releaseCommitted drops working copies whose persisted record has caught
// up. The working set exists for read-your-writes on queued metadata;
// once the stored version matches, the copy is redundant and the map
// would otherwise grow with every session ever touched.
func (m *Manager) releaseCommitted(ctx context.Context) {
	if err := m.queue.Flush(ctx); err != nil {
		return
	}

	m.mu.Lock()
	ids := make([]core.SessionID, 0, len(m.working))
	for id := range m.working {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		lane := m.lane(id)
		lane.Lock()
		m.mu.Lock()
		meta, ok := m.working[id]
		m.mu.Unlock()
		if !ok {
			lane.Unlock()
			continue
		}
		data, err := m.adapter.Get(ctx, storage.MetadataKey(id))
		if err == nil {
			if stored, derr := storage.UnmarshalSessionMetadata(data); derr == nil && stored.Version >= meta.Version {
				m.mu.Lock()
				delete(m.working, id)
				m.mu.Unlock()
			}
		}
		lane.Unlock()
	}
}

// lane returns the mutex serializing all mutations of one session.
func (m *Manager) lane(id core.SessionID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.lanes[id]
	if !ok {
		mu = &sync.Mutex{}
		m.lanes[id] = mu
	}
	return mu
}

func cloneMetadata(meta *core.SessionMetadata) *core.SessionMetadata {
	out := *meta
	out.Tags = append([]string(nil), meta.Tags...)
	out.Manifests = make(map[core.CollectionKind]core.Manifest, len(meta.Manifests))
	for kind, manifest := range meta.Manifests {
		out.Manifests[kind] = manifest
	}
	return &out
}

// CreateOptions carries the caller-provided fields of a new session.
type CreateOptions struct {
	Title        string
	Category     string
	Tags         []string
	CaptureAudio bool
	CaptureVideo bool
}

// Create starts a new session and persists its metadata. Creation is
// durable before Create returns.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*core.SessionMetadata, error) {
	now := time.Now().UTC()
	meta := &core.SessionMetadata{
		Id:           core.NewSessionID(),
		Title:        opts.Title,
		Category:     opts.Category,
		Tags:         append([]string(nil), opts.Tags...),
		Status:       core.StatusActive,
		CaptureAudio: opts.CaptureAudio,
		CaptureVideo: opts.CaptureVideo,
		Manifests:    make(map[core.CollectionKind]core.Manifest, len(core.Collections)),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, kind := range core.Collections {
		meta.Manifests[kind] = core.Manifest{ItemsPerChunk: m.itemsPerChunk}
	}
	if err := core.ValidateSessionMetadata(meta); err != nil {
		return nil, err
	}

	if err := m.persistMetadata(meta, queue.PriorityCritical); err != nil {
		return nil, err
	}
	if err := m.queue.Flush(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.working[meta.Id] = cloneMetadata(meta)
	m.mu.Unlock()

	m.indexer.UpdateSession(cloneMetadata(meta))
	m.logger.Info("created session", "id", meta.Id, "title", meta.Title)
	return cloneMetadata(meta), nil
}

func (m *Manager) persistMetadata(meta *core.SessionMetadata, priority queue.Priority) error {
	return m.queue.Enqueue(queue.Op{
		Key:      storage.MetadataKey(meta.Id),
		Payload:  storage.MarshalSessionMetadata(meta),
		Priority: priority,
		Kind:     queue.KindSimple,
	})
}

// LoadMetadata returns a session's metadata. It never touches chunk data,
// so the cost is constant regardless of session size.
func (m *Manager) LoadMetadata(ctx context.Context, id core.SessionID) (*core.SessionMetadata, error) {
	m.mu.Lock()
	if meta, ok := m.working[id]; ok {
		defer m.mu.Unlock()
		return cloneMetadata(meta), nil
	}
	m.mu.Unlock()

	data, err := m.adapter.Get(ctx, storage.MetadataKey(id))
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return storage.UnmarshalSessionMetadata(data)
}

// loadMutable returns the metadata for a mutation: the working copy if one
// exists, otherwise a fresh load. Caller must hold the session's lane.
func (m *Manager) loadMutable(ctx context.Context, id core.SessionID) (*core.SessionMetadata, error) {
	meta, err := m.LoadMetadata(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta.Status == core.StatusTombstoned {
		return nil, ErrSessionTombstoned
	}
	return meta, nil
}

// AppendItem adds one media item to the tail chunk of a collection. The
// chunk write and the manifest update land in the same batch window, so
// they commit atomically.
func (m *Manager) AppendItem(ctx context.Context, id core.SessionID, kind core.CollectionKind, item core.MediaItem) error {
	if err := core.ValidateCollectionKind(kind); err != nil {
		return err
	}
	if err := core.ValidateMediaItem(&item); err != nil {
		return err
	}

	lane := m.lane(id)
	lane.Lock()
	defer lane.Unlock()

	meta, err := m.loadMutable(ctx, id)
	if err != nil {
		return err
	}

	manifest := meta.Manifest(kind)
	if manifest.ItemsPerChunk == 0 {
		manifest.ItemsPerChunk = m.itemsPerChunk
	}
	chunkIndex := manifest.ItemCount / manifest.ItemsPerChunk
	chunkKey := storage.ChunkKey(id, kind, chunkIndex)

	manifest.ItemCount++
	manifest.ChunkCount = chunkIndex + 1
	meta.Manifests[kind] = manifest
	meta.Version++
	meta.UpdatedAt = time.Now().UTC()

	// One group: a crash between the chunk write and the manifest update
	// cannot leave the counts inconsistent.
	if err := m.queue.EnqueueAll(
		queue.Op{
			Key:      chunkKey,
			Payload:  storage.MarshalMediaItem(&item),
			Priority: queue.PriorityNormal,
			Kind:     queue.KindChunkAppend,
		},
		queue.Op{
			Key:      storage.MetadataKey(meta.Id),
			Payload:  storage.MarshalSessionMetadata(meta),
			Priority: queue.PriorityNormal,
			Kind:     queue.KindSimple,
		},
	); err != nil {
		return err
	}

	m.mu.Lock()
	m.working[id] = meta
	m.mu.Unlock()

	// The cached copy of the tail chunk is stale now.
	m.cache.Delete(chunkKey)
	m.indexer.UpdateSession(cloneMetadata(meta))
	return nil
}

// UpdateMetadata applies a mutation to a session's metadata under the
// session lane and persists the result. The mutation must not change the
// session id.
func (m *Manager) UpdateMetadata(ctx context.Context, id core.SessionID, mutate func(*core.SessionMetadata) error) error {
	lane := m.lane(id)
	lane.Lock()
	defer lane.Unlock()

	meta, err := m.loadMutable(ctx, id)
	if err != nil {
		return err
	}

	if err := mutate(meta); err != nil {
		return err
	}
	meta.Id = id
	if err := core.ValidateSessionMetadata(meta); err != nil {
		return err
	}
	meta.Version++
	meta.UpdatedAt = time.Now().UTC()

	if err := m.persistMetadata(meta, queue.PriorityNormal); err != nil {
		return err
	}

	m.mu.Lock()
	m.working[id] = meta
	m.mu.Unlock()

	m.indexer.UpdateSession(cloneMetadata(meta))
	return nil
}

// LoadFull reconstructs the complete session: metadata plus every item of
// every collection, in order. Chunks load in parallel on the loader pool
// with cache read-through.
func (m *Manager) LoadFull(ctx context.Context, id core.SessionID) (*core.Session, error) {
	m.mu.Lock()
	_, pending := m.working[id]
	m.mu.Unlock()
	if pending {
		// Queued appends must be visible before chunks are read.
		if err := m.queue.Flush(ctx); err != nil {
			return nil, err
		}
	}

	meta, err := m.LoadMetadata(ctx, id)
	if err != nil {
		return nil, err
	}

	type chunkTask struct {
		kind  core.CollectionKind
		index int
	}
	var tasks []chunkTask
	for _, kind := range core.Collections {
		manifest := meta.Manifest(kind)
		for i := 0; i < manifest.ChunkCount; i++ {
			tasks = append(tasks, chunkTask{kind: kind, index: i})
		}
	}

	chunks := make([]*core.Chunk, len(tasks))
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		i, task := i, task
		wg.Add(1)
		job := func() {
			defer wg.Done()
			chunks[i], errs[i] = m.loadChunk(ctx, id, task.kind, task.index)
		}
		if err := m.pool.Submit(job); err != nil {
			job()
		}
	}
	wg.Wait()

	session := &core.Session{
		Metadata:    meta,
		Collections: make(map[core.CollectionKind][]core.MediaItem, len(core.Collections)),
	}
	for i, chunk := range chunks {
		if errs[i] != nil {
			return nil, errs[i]
		}
		session.Collections[chunk.Kind] = append(session.Collections[chunk.Kind], chunk.Items...)
	}

	for _, kind := range core.Collections {
		manifest := meta.Manifest(kind)
		if got := len(session.Collections[kind]); got != manifest.ItemCount {
			return nil, fmt.Errorf("%w: collection %s has %d items, manifest says %d",
				core.ErrManifestMismatch, kind, got, manifest.ItemCount)
		}
	}
	return session, nil
}

func (m *Manager) loadChunk(ctx context.Context, id core.SessionID, kind core.CollectionKind, index int) (*core.Chunk, error) {
	key := storage.ChunkKey(id, kind, index)
	if data, ok := m.cache.Get(key); ok {
		return storage.UnmarshalChunk(data)
	}
	data, err := m.adapter.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", key, err)
	}
	chunk, err := storage.UnmarshalChunk(data)
	if err != nil {
		return nil, err
	}
	m.cache.Set(key, data)
	return chunk, nil
}

// Delete removes a session. The metadata is tombstoned immediately and
// durably; chunk and metadata reclamation runs at low priority, and every
// unique blob referenced by the session loses one reference. Deleting a
// session that is already gone, or already tombstoned, is a no-op.
func (m *Manager) Delete(ctx context.Context, id core.SessionID) error {
	lane := m.lane(id)
	lane.Lock()
	defer lane.Unlock()

	meta, err := m.LoadMetadata(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if meta.Status == core.StatusTombstoned {
		return nil
	}

	meta.Status = core.StatusTombstoned
	meta.Version++
	meta.UpdatedAt = time.Now().UTC()
	if err := m.persistMetadata(meta, queue.PriorityCritical); err != nil {
		return err
	}

	// Chunks must be durable before they are scanned for blob references.
	if err := m.queue.Flush(ctx); err != nil {
		return err
	}

	seen := make(map[core.ContentHash]struct{})
	var chunkKeys []string
	for _, kind := range core.Collections {
		keys, err := m.adapter.ListKeys(ctx, storage.CollectionKeyPrefix(id, kind))
		if err != nil {
			return err
		}
		for _, key := range keys {
			chunkKeys = append(chunkKeys, key)
			data, err := m.adapter.Get(ctx, key)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}
			chunk, err := storage.UnmarshalChunk(data)
			if err != nil {
				return err
			}
			for _, item := range chunk.Items {
				seen[item.ContentId] = struct{}{}
			}
		}
	}

	for hash := range seen {
		if err := m.blobs.RemoveReference(ctx, hash); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return err
		}
	}

	for _, key := range append(chunkKeys, storage.MetadataKey(id)) {
		if err := m.queue.Enqueue(queue.Op{
			Key:      key,
			Priority: queue.PriorityLow,
			Kind:     queue.KindCleanup,
		}); err != nil {
			return err
		}
	}

	m.mu.Lock()
	delete(m.working, id)
	m.mu.Unlock()

	m.indexer.RemoveSession(id)
	m.cache.InvalidatePrefix(storage.SessionKeyPrefix(id))
	m.logger.Info("deleted session", "id", id, "blobs", len(seen), "chunks", len(chunkKeys))
	return nil
}

// AllMetadata returns the metadata of every non-tombstoned session. Used
// for index rebuilds; the working set overlays persisted records.
func (m *Manager) AllMetadata(ctx context.Context) ([]*core.SessionMetadata, error) {
	keys, err := m.adapter.ListKeys(ctx, storage.SessionPrefix)
	if err != nil {
		return nil, err
	}

	var out []*core.SessionMetadata
	seen := make(map[core.SessionID]struct{})
	for _, key := range keys {
		if !strings.HasSuffix(key, "/metadata") {
			continue
		}
		id, ok := storage.SessionIDFromKey(key)
		if !ok {
			continue
		}
		meta, err := m.LoadMetadata(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if meta.Status == core.StatusTombstoned {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, meta)
	}

	m.mu.Lock()
	for id, meta := range m.working {
		if _, ok := seen[id]; ok {
			continue
		}
		if meta.Status == core.StatusTombstoned {
			continue
		}
		out = append(out, cloneMetadata(meta))
	}
	m.mu.Unlock()
	return out, nil
}
