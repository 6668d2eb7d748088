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

package sessiondb

import (
	"context"
	"log/slog"
	"time"

	"github.com/poiesic/sessiondb/cache"
	"github.com/poiesic/sessiondb/content"
	"github.com/poiesic/sessiondb/index"
	"github.com/poiesic/sessiondb/queue"
	"github.com/poiesic/sessiondb/session"
	"github.com/poiesic/sessiondb/storage/badger"
)

// Engine is the assembled session storage engine: one backend, one write
// queue, and the component layers wired on top of them.
type Engine struct {
	backend  *badger.Backend
	queue    *queue.Queue
	blobs    *content.Store
	sessions *session.Manager
	indexes  *index.Engine
	hot      *cache.Cache
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	inMemory      bool
	itemsPerChunk int
	cacheMaxBytes int64
	cacheTTL      time.Duration
	batchInterval time.Duration
	queueDepth    int
	gcGrace       time.Duration
	indexFlush    time.Duration
	logger        *slog.Logger
	monitor       queue.Monitor
}

// WithInMemory keeps all data in memory. Intended for tests and tooling.
func WithInMemory() Option {
	return func(o *engineOptions) { o.inMemory = true }
}

// WithChunkSize sets how many items each collection chunk holds.
func WithChunkSize(n int) Option {
	return func(o *engineOptions) { o.itemsPerChunk = n }
}

// WithCacheMaxBytes sets the hot cache byte bound.
func WithCacheMaxBytes(n int64) Option {
	return func(o *engineOptions) { o.cacheMaxBytes = n }
}

// WithCacheTTL sets the hot cache entry lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *engineOptions) { o.cacheTTL = ttl }
}

// WithBatchInterval sets the write queue batch window.
func WithBatchInterval(interval time.Duration) Option {
	return func(o *engineOptions) { o.batchInterval = interval }
}

// WithQueueDepth sets the write queue backlog limit.
func WithQueueDepth(n int) Option {
	return func(o *engineOptions) { o.queueDepth = n }
}

// WithGCGrace sets how long unreferenced blobs survive before collection.
func WithGCGrace(grace time.Duration) Option {
	return func(o *engineOptions) { o.gcGrace = grace }
}

// WithIndexFlushInterval sets how often dirty postings are persisted.
func WithIndexFlushInterval(interval time.Duration) Option {
	return func(o *engineOptions) { o.indexFlush = interval }
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// WithQueueMonitor sets the observer for write queue events.
func WithQueueMonitor(m queue.Monitor) Option {
	return func(o *engineOptions) { o.monitor = m }
}

// Open assembles an engine on a badger backend at filePath. Components are
// explicit instances wired here; nothing is global.
func Open(filePath string, opts ...Option) (*Engine, error) {
	options := &engineOptions{}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := badger.OpenBackend(filePath, options.inMemory)
	if err != nil {
		return nil, err
	}

	var queueOpts []queue.Option
	queueOpts = append(queueOpts, queue.WithLogger(logger))
	if options.batchInterval > 0 {
		queueOpts = append(queueOpts, queue.WithInterval(options.batchInterval))
	}
	if options.queueDepth > 0 {
		queueOpts = append(queueOpts, queue.WithMaxDepth(options.queueDepth))
	}
	if options.monitor != nil {
		queueOpts = append(queueOpts, queue.WithMonitor(options.monitor))
	}
	q, err := queue.New(backend, queueOpts...)
	if err != nil {
		backend.Close()
		return nil, err
	}

	contentOpts := []content.Option{content.WithLogger(logger)}
	if options.gcGrace > 0 {
		contentOpts = append(contentOpts, content.WithGrace(options.gcGrace))
	}
	blobs, err := content.NewStore(backend, q, contentOpts...)
	if err != nil {
		q.Close()
		backend.Close()
		return nil, err
	}

	cacheOpts := []cache.Option{cache.WithLogger(logger)}
	if options.cacheMaxBytes > 0 {
		cacheOpts = append(cacheOpts, cache.WithMaxBytes(options.cacheMaxBytes))
	}
	if options.cacheTTL > 0 {
		cacheOpts = append(cacheOpts, cache.WithTTL(options.cacheTTL))
	}
	hot, err := cache.New(cacheOpts...)
	if err != nil {
		q.Close()
		backend.Close()
		return nil, err
	}

	indexOpts := []index.Option{index.WithLogger(logger)}
	if options.indexFlush > 0 {
		indexOpts = append(indexOpts, index.WithFlushInterval(options.indexFlush))
	}
	indexes, err := index.NewEngine(backend, q, indexOpts...)
	if err != nil {
		hot.Close()
		q.Close()
		backend.Close()
		return nil, err
	}

	sessionOpts := []session.Option{
		session.WithLogger(logger),
		session.WithIndexer(indexes),
		session.WithCache(hot),
	}
	if options.itemsPerChunk > 0 {
		sessionOpts = append(sessionOpts, session.WithItemsPerChunk(options.itemsPerChunk))
	}
	sessions, err := session.NewManager(backend, q, blobs, sessionOpts...)
	if err != nil {
		indexes.Close()
		hot.Close()
		q.Close()
		backend.Close()
		return nil, err
	}

	indexes.SetSource(sessions)
	if err := indexes.Load(context.Background()); err != nil {
		sessions.Close()
		indexes.Close()
		hot.Close()
		q.Close()
		backend.Close()
		return nil, err
	}

	return &Engine{
		backend:  backend,
		queue:    q,
		blobs:    blobs,
		sessions: sessions,
		indexes:  indexes,
		hot:      hot,
		logger:   logger,
	}, nil
}

// Close flushes pending state and shuts the engine down. Flushing the
// write queue is the only blocking step.
func (e *Engine) Close() error {
	ctx := context.Background()

	if err := e.indexes.Close(); err != nil {
		e.logger.Error("error stopping index flush loop", "err", err)
	}
	if err := e.indexes.Flush(ctx); err != nil {
		e.logger.Error("error flushing indexes", "err", err)
	}
	if err := e.queue.Flush(ctx); err != nil {
		e.logger.Error("error flushing write queue", "err", err)
	}
	if err := e.queue.Close(); err != nil {
		e.logger.Error("error closing write queue", "err", err)
	}
	if err := e.sessions.Close(); err != nil {
		e.logger.Error("error closing session manager", "err", err)
	}
	if err := e.hot.Close(); err != nil {
		e.logger.Error("error closing cache", "err", err)
	}
	if err := e.backend.Close(); err != nil {
		e.logger.Error("error closing backend storage", "err", err)
		return err
	}
	return nil
}

// Sessions returns the session manager.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// Content returns the content store.
func (e *Engine) Content() *content.Store {
	return e.blobs
}

// Index returns the index engine.
func (e *Engine) Index() *index.Engine {
	return e.indexes
}

// Cache returns the hot cache.
func (e *Engine) Cache() *cache.Cache {
	return e.hot
}

// Queue returns the write queue.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

// Stats aggregates every component's counters.
type Stats struct {
	Queue   queue.Stats
	Content content.Stats
	Index   index.Stats
	Cache   cache.Stats
}

// Stats returns a snapshot across all components.
func (e *Engine) Stats() Stats {
	return Stats{
		Queue:   e.queue.Stats(),
		Content: e.blobs.Stats(),
		Index:   e.indexes.Stats(),
		Cache:   e.hot.Stats(),
	}
}
