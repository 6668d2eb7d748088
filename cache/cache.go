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

package cache

import (
	"container/list"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxBytes      = 64 << 20 // 64 MiB
	defaultTTL           = 5 * time.Minute
	defaultSweepInterval = time.Minute
)

var (
	// ErrInvalidMaxBytes indicates a non-positive byte bound.
	ErrInvalidMaxBytes = errors.New("max bytes must be positive")

	// ErrInvalidTTL indicates a non-positive entry lifetime.
	ErrInvalidTTL = errors.New("ttl must be positive")
)

type entry struct {
	key     string
	value   []byte
	expires time.Time
}

// Cache is a byte-bounded LRU cache with TTL expiry. All operations are
// O(1) except the invalidation scans. Safe for concurrent use.
type Cache struct {
	maxBytes      int64
	ttl           time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger

	mu        sync.Mutex
	entries   map[string]*list.Element
	recency   *list.List // Front is most recently used
	bytes     int64
	hits      uint64
	misses    uint64
	evictions uint64

	stop      chan struct{}
	closeOnce sync.Once
}

// Option configures a Cache.
type Option func(*Cache) error

// WithMaxBytes sets the total resident byte bound.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) error {
		if n <= 0 {
			return ErrInvalidMaxBytes
		}
		c.maxBytes = n
		return nil
	}
}

// WithTTL sets how long entries stay valid after insertion.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) error {
		if ttl <= 0 {
			return ErrInvalidTTL
		}
		c.ttl = ttl
		return nil
	}
}

// WithSweepInterval sets how often the background sweep removes expired
// entries.
func WithSweepInterval(interval time.Duration) Option {
	return func(c *Cache) error {
		if interval <= 0 {
			return ErrInvalidTTL
		}
		c.sweepInterval = interval
		return nil
	}
}

// WithLogger sets the logger used by the cache.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) error {
		c.logger = logger
		return nil
	}
}

// New creates a cache and starts its background sweeper.
func New(opts ...Option) (*Cache, error) {
	c := &Cache{
		maxBytes:      defaultMaxBytes,
		ttl:           defaultTTL,
		sweepInterval: defaultSweepInterval,
		logger:        slog.Default(),
		entries:       make(map[string]*list.Element),
		recency:       list.New(),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	go c.sweep()
	return c, nil
}

// Close stops the background sweeper.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *Cache) removeExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for _, elem := range c.entries {
		if now.After(elem.Value.(*entry).expires) {
			c.removeLocked(elem)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("swept expired cache entries", "removed", removed)
	}
}

// Get returns the cached value for a key. Expired entries count as misses
// and are removed on access. The returned slice must not be modified.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	ent := elem.Value.(*entry)
	if time.Now().After(ent.expires) {
		c.removeLocked(elem)
		c.misses++
		return nil, false
	}
	c.recency.MoveToFront(elem)
	c.hits++
	return ent.value, true
}

// Set inserts or replaces a value with the cache's default lifetime.
// Values larger than the byte bound are not cached. Insertion evicts
// least recently used entries until the cache fits its bound again.
func (c *Cache) Set(key string, value []byte) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL inserts or replaces a value with a per-entry lifetime. A
// non-positive ttl falls back to the cache default.
func (c *Cache) SetWithTTL(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	size := int64(len(value))
	if size > c.maxBytes {
		return
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
	ent := &entry{key: key, value: stored, expires: time.Now().Add(ttl)}
	c.entries[key] = c.recency.PushFront(ent)
	c.bytes += size

	for c.bytes > c.maxBytes {
		tail := c.recency.Back()
		if tail == nil {
			break
		}
		c.removeLocked(tail)
		c.evictions++
	}
}

// Delete removes a single key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
}

// InvalidatePrefix removes every entry whose key starts with the prefix.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.removeLocked(elem)
		}
	}
}

// InvalidatePattern removes every entry whose key matches the pattern.
func (c *Cache) InvalidatePattern(pattern *regexp.Regexp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.entries {
		if pattern.MatchString(key) {
			c.removeLocked(elem)
		}
	}
}

// removeLocked unlinks an element. Caller must hold c.mu.
func (c *Cache) removeLocked(elem *list.Element) {
	ent := elem.Value.(*entry)
	c.recency.Remove(elem)
	delete(c.entries, ent.key)
	c.bytes -= int64(len(ent.value))
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Entries       int
	ResidentBytes int64
}

// HitRate returns the fraction of lookups served from cache.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		Entries:       len(c.entries),
		ResidentBytes: c.bytes,
	}
}
