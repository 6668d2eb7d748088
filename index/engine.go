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

package index

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/poiesic/sessiondb/core"
	"github.com/poiesic/sessiondb/queue"
	"github.com/poiesic/sessiondb/storage"
)

// Named indexes maintained over session metadata.
const (
	IndexStatus   = "status"
	IndexCategory = "category"
	IndexTag      = "tag"
	IndexDate     = "date"
	IndexTitle    = "title"
)

// indexNames is the fixed set of maintained indexes, in persistence order.
var indexNames = []string{IndexStatus, IndexCategory, IndexTag, IndexDate, IndexTitle}

const defaultFlushInterval = 5 * time.Second

// MetadataSource supplies every live session's metadata for rebuilds.
type MetadataSource interface {
	AllMetadata(ctx context.Context) ([]*core.SessionMetadata, error)
}

// Engine maintains the inverted indexes and answers predicate queries.
// Postings live in memory; Flush persists them through the write queue and
// Load restores them at startup.
type Engine struct {
	adapter       storage.Adapter
	queue         *queue.Queue
	source        MetadataSource
	logger        *slog.Logger
	flushInterval time.Duration

	mu      sync.RWMutex
	indexes map[string]map[string][]string
	dirty   map[string]bool

	rebuilds atomic.Uint64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine) error

// WithSource sets the metadata source used for rebuilds.
func WithSource(src MetadataSource) Option {
	return func(e *Engine) error {
		e.source = src
		return nil
	}
}

// WithLogger sets the logger used by the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithFlushInterval sets how often dirty postings are flushed in the
// background. Postings are rebuildable, but the rebuild walks every
// session; flushing bounds how much a crash can lose.
func WithFlushInterval(interval time.Duration) Option {
	return func(e *Engine) error {
		if interval <= 0 {
			return ErrInvalidFlushInterval
		}
		e.flushInterval = interval
		return nil
	}
}

// NewEngine creates an index engine with empty indexes and starts its
// background flush loop. Call Load to restore persisted postings.
func NewEngine(adapter storage.Adapter, q *queue.Queue, opts ...Option) (*Engine, error) {
	e := &Engine{
		adapter:       adapter,
		queue:         q,
		logger:        slog.Default(),
		flushInterval: defaultFlushInterval,
		indexes:       make(map[string]map[string][]string, len(indexNames)),
		dirty:         make(map[string]bool, len(indexNames)),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, name := range indexNames {
		e.indexes[name] = make(map[string][]string)
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	go e.flushLoop()
	return e, nil
}

// Close stops the background flush loop. It does not flush; callers
// flush explicitly before closing the queue.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.stop) })
	<-e.done
	return nil
}

func (e *Engine) flushLoop() {
	defer close(e.done)
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if err := e.Flush(context.Background()); err != nil {
				e.logger.Warn("periodic index flush failed", "error", err)
			}
		}
	}
}

// SetSource sets the metadata source after construction. The engine and
// the session manager reference each other, so one side is wired late.
func (e *Engine) SetSource(src MetadataSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.source = src
}

// DayBucket returns the date index term for a timestamp: its UTC calendar
// day. Day buckets sort chronologically as strings.
func DayBucket(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

func normalizeTerm(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

// tokenize splits a title into lowercase word terms.
func tokenize(title string) []string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// terms maps metadata to its index terms, per index name.
func terms(meta *core.SessionMetadata) map[string][]string {
	out := map[string][]string{
		IndexStatus: {meta.Status.String()},
		IndexDate:   {DayBucket(meta.CreatedAt)},
		IndexTitle:  tokenize(meta.Title),
	}
	if c := normalizeTerm(meta.Category); c != "" {
		out[IndexCategory] = []string{c}
	}
	for _, tag := range meta.Tags {
		if t := normalizeTerm(tag); t != "" {
			out[IndexTag] = append(out[IndexTag], t)
		}
	}
	return out
}

// UpdateSession replaces every posting for the session with terms derived
// from the given metadata.
func (e *Engine) UpdateSession(meta *core.SessionMetadata) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(meta.Id)
	for name, ts := range terms(meta) {
		for _, term := range ts {
			e.insertLocked(name, term, string(meta.Id))
		}
		e.dirty[name] = true
	}
}

// RemoveSession drops every posting for the session.
func (e *Engine) RemoveSession(id core.SessionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(id)
}

func (e *Engine) insertLocked(name, term, id string) {
	postings := e.indexes[name]
	if postings == nil {
		return
	}
	ids := postings[term]
	pos := sort.SearchStrings(ids, id)
	if pos < len(ids) && ids[pos] == id {
		return
	}
	ids = append(ids, "")
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = id
	postings[term] = ids
}

func (e *Engine) removeLocked(id core.SessionID) {
	want := string(id)
	for name, postings := range e.indexes {
		for term, ids := range postings {
			pos := sort.SearchStrings(ids, want)
			if pos >= len(ids) || ids[pos] != want {
				continue
			}
			ids = append(ids[:pos], ids[pos+1:]...)
			if len(ids) == 0 {
				delete(postings, term)
			} else {
				postings[term] = ids
			}
			e.dirty[name] = true
		}
	}
}

// Search evaluates a predicate tree and returns the matching session ids
// in ascending (creation) order.
func (e *Engine) Search(ctx context.Context, pred Predicate) ([]core.SessionID, error) {
	if pred == nil {
		return nil, ErrNilPredicate
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids, err := pred.eval(snapshot(e.indexes))
	if err != nil {
		return nil, err
	}
	out := make([]core.SessionID, len(ids))
	for i, id := range ids {
		out[i] = core.SessionID(id)
	}
	return out, nil
}

// Flush enqueues the serialized postings of every changed index. The
// writes commit with the queue's next batch; callers needing durability
// flush the queue afterwards.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range indexNames {
		if !e.dirty[name] {
			continue
		}
		if err := e.queue.Enqueue(queue.Op{
			Key:      storage.IndexKey(name),
			Payload:  storage.MarshalPostings(e.indexes[name]),
			Priority: queue.PriorityLow,
			Kind:     queue.KindIndexUpdate,
		}); err != nil {
			return err
		}
		e.dirty[name] = false
	}
	return nil
}

// Load restores persisted postings. Indexes are derived data: if any
// persisted index fails to decode, everything is rebuilt from session
// metadata instead of failing.
func (e *Engine) Load(ctx context.Context) error {
	loaded := make(map[string]map[string][]string, len(indexNames))
	for _, name := range indexNames {
		data, err := e.adapter.Get(ctx, storage.IndexKey(name))
		if errors.Is(err, storage.ErrNotFound) {
			loaded[name] = make(map[string][]string)
			continue
		}
		if err != nil {
			return err
		}
		postings, err := storage.UnmarshalPostings(data)
		if err != nil {
			e.logger.Warn("corrupt index, rebuilding from metadata", "index", name, "error", err)
			return e.Rebuild(ctx)
		}
		loaded[name] = postings
	}

	e.mu.Lock()
	e.indexes = loaded
	clear(e.dirty)
	e.mu.Unlock()
	return nil
}

// Rebuild discards every posting and re-indexes all live sessions from
// the metadata source.
func (e *Engine) Rebuild(ctx context.Context) error {
	e.mu.RLock()
	source := e.source
	e.mu.RUnlock()
	if source == nil {
		return ErrNoSource
	}
	metas, err := source.AllMetadata(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.indexes = make(map[string]map[string][]string, len(indexNames))
	for _, name := range indexNames {
		e.indexes[name] = make(map[string][]string)
		e.dirty[name] = true
	}
	e.mu.Unlock()

	for _, meta := range metas {
		e.UpdateSession(meta)
	}
	e.rebuilds.Add(1)
	e.logger.Info("rebuilt indexes", "sessions", len(metas))
	return e.Flush(ctx)
}

// Stats is a point-in-time snapshot of index shape and rebuild activity.
type Stats struct {
	Terms    int
	Postings int
	Rebuilds uint64
}

// Stats returns a snapshot of index counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Stats{Rebuilds: e.rebuilds.Load()}
	for _, postings := range e.indexes {
		s.Terms += len(postings)
		for _, ids := range postings {
			s.Postings += len(ids)
		}
	}
	return s
}
