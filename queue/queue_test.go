package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/sessiondb/core"
	"github.com/poiesic/sessiondb/storage"
	"github.com/poiesic/sessiondb/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *memory.Adapter) {
	t.Helper()
	adapter := memory.New()
	q, err := New(adapter, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		q.Close()
		adapter.Close()
	})
	return q, adapter
}

func TestEnqueueAndFlush(t *testing.T) {
	q, adapter := newTestQueue(t)

	err := q.Enqueue(Op{Key: "k1", Payload: []byte("v1"), Priority: PriorityNormal, Kind: KindSimple})
	require.NoError(t, err)

	require.NoError(t, q.Flush(context.Background()))

	value, err := adapter.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
	assert.Equal(t, int64(0), q.Stats().Depth)
}

func TestLastWriteWins(t *testing.T) {
	// Long interval so all three updates land in one batch window.
	q, adapter := newTestQueue(t, WithInterval(time.Hour))

	for _, payload := range []string{"first", "second", "third"} {
		err := q.Enqueue(Op{Key: "sessions/s1/metadata", Payload: []byte(payload),
			Priority: PriorityNormal, Kind: KindSimple})
		require.NoError(t, err)
	}

	require.NoError(t, q.Flush(context.Background()))

	value, err := adapter.Get(context.Background(), "sessions/s1/metadata")
	require.NoError(t, err)
	assert.Equal(t, []byte("third"), value)

	// All three ops collapsed into a single transaction.
	assert.Equal(t, uint64(1), q.Stats().Batches)
	assert.Equal(t, uint64(3), q.Stats().Committed)
}

func TestChunkAppendAccumulates(t *testing.T) {
	q, adapter := newTestQueue(t, WithInterval(time.Hour))

	id := core.SessionID("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	key := storage.ChunkKey(id, core.CollectionScreenshots, 0)

	for _, name := range []string{"a", "b", "c"} {
		item := core.MediaItem{Id: name, ContentId: core.HashContent([]byte(name))}
		err := q.Enqueue(Op{Key: key, Payload: storage.MarshalMediaItem(&item),
			Priority: PriorityNormal, Kind: KindChunkAppend})
		require.NoError(t, err)
	}

	require.NoError(t, q.Flush(context.Background()))

	data, err := adapter.Get(context.Background(), key)
	require.NoError(t, err)
	chunk, err := storage.UnmarshalChunk(data)
	require.NoError(t, err)
	require.Len(t, chunk.Items, 3)
	assert.Equal(t, "a", chunk.Items[0].Id)
	assert.Equal(t, "c", chunk.Items[2].Id)
}

func TestBlobRefDeltasSum(t *testing.T) {
	q, adapter := newTestQueue(t, WithInterval(time.Hour))
	ctx := context.Background()

	hash := core.HashContent([]byte("shared"))
	key := storage.BlobMetaKey(hash)
	info := &core.BlobInfo{Hash: hash, Size: 6, RefCount: 1, CreatedAt: time.Now().UTC()}
	require.NoError(t, adapter.Set(ctx, key, storage.MarshalBlobInfo(info)))

	// +1 +1 -1 collapses into a single +1 applied once.
	for _, delta := range []int64{1, 1, -1} {
		err := q.Enqueue(Op{Key: key, Delta: delta, Priority: PriorityNormal, Kind: KindBlobRef})
		require.NoError(t, err)
	}

	require.NoError(t, q.Flush(ctx))

	data, err := adapter.Get(ctx, key)
	require.NoError(t, err)
	got, err := storage.UnmarshalBlobInfo(data)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.RefCount)
}

func TestCriticalCommitsImmediately(t *testing.T) {
	// Interval long enough that only the critical path can commit.
	q, adapter := newTestQueue(t, WithInterval(time.Hour))
	ctx := context.Background()

	err := q.Enqueue(Op{Key: "k", Payload: []byte("v"), Priority: PriorityCritical, Kind: KindSimple})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := adapter.Get(ctx, "k")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLowPriorityWaitsForIdle(t *testing.T) {
	q, adapter := newTestQueue(t, WithInterval(20*time.Millisecond))
	ctx := context.Background()

	err := q.Enqueue(Op{Key: "low", Payload: []byte("v"), Priority: PriorityLow, Kind: KindSimple})
	require.NoError(t, err)

	// With no higher-priority work, the low op commits on a later tick.
	require.Eventually(t, func() bool {
		_, err := adapter.Get(ctx, "low")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLowPriorityPromotion(t *testing.T) {
	q, adapter := newTestQueue(t, WithInterval(time.Hour))
	ctx := context.Background()

	// A newer normal write for the same key must never be overwritten by
	// the older low-priority payload.
	require.NoError(t, q.Enqueue(Op{Key: "k", Payload: []byte("old"), Priority: PriorityLow, Kind: KindSimple}))
	require.NoError(t, q.Enqueue(Op{Key: "k", Payload: []byte("new"), Priority: PriorityNormal, Kind: KindSimple}))

	require.NoError(t, q.Flush(ctx))

	value, err := adapter.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), value)
}

func TestCleanupDeletes(t *testing.T) {
	q, adapter := newTestQueue(t, WithInterval(time.Hour))
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "doomed", []byte("x")))
	require.NoError(t, q.Enqueue(Op{Key: "doomed", Priority: PriorityLow, Kind: KindCleanup}))
	require.NoError(t, q.Flush(ctx))

	_, err := adapter.Get(ctx, "doomed")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBackpressure(t *testing.T) {
	q, _ := newTestQueue(t, WithInterval(time.Hour), WithMaxDepth(3))

	for i := 0; i < 3; i++ {
		err := q.Enqueue(Op{Key: "k", Payload: []byte{byte(i)}, Priority: PriorityLow, Kind: KindSimple})
		require.NoError(t, err)
	}

	err := q.Enqueue(Op{Key: "k", Payload: []byte("overflow"), Priority: PriorityLow, Kind: KindSimple})
	assert.ErrorIs(t, err, ErrQueueFull)

	// Draining frees capacity again.
	require.NoError(t, q.Flush(context.Background()))
	assert.NoError(t, q.Enqueue(Op{Key: "k", Payload: []byte("ok"), Priority: PriorityLow, Kind: KindSimple}))
}

func TestEnqueueAfterClose(t *testing.T) {
	adapter := memory.New()
	defer adapter.Close()
	q, err := New(adapter)
	require.NoError(t, err)
	require.NoError(t, q.Close())

	err = q.Enqueue(Op{Key: "k", Kind: KindSimple})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestCloseDrainsPending(t *testing.T) {
	adapter := memory.New()
	defer adapter.Close()
	q, err := New(adapter, WithInterval(time.Hour))
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(Op{Key: "k", Payload: []byte("v"), Priority: PriorityNormal, Kind: KindSimple}))
	require.NoError(t, q.Close())

	value, err := adapter.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestGroupedOpsShareOneBatch(t *testing.T) {
	// Interval long enough that only the critical path can commit.
	q, adapter := newTestQueue(t, WithInterval(time.Hour))
	ctx := context.Background()

	id := core.SessionID("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	chunkKey := storage.ChunkKey(id, core.CollectionScreenshots, 0)
	item := core.MediaItem{Id: "a", ContentId: core.HashContent([]byte("a"))}

	require.NoError(t, q.EnqueueAll(
		Op{Key: chunkKey, Payload: storage.MarshalMediaItem(&item),
			Priority: PriorityNormal, Kind: KindChunkAppend},
		Op{Key: storage.MetadataKey(id), Payload: []byte("manifest"),
			Priority: PriorityNormal, Kind: KindSimple},
	))

	// A critical op arriving after the group closes the window. The group
	// was staged whole, so both its members commit with it.
	require.NoError(t, q.Enqueue(Op{Key: "other", Payload: []byte("x"),
		Priority: PriorityCritical, Kind: KindSimple}))

	require.Eventually(t, func() bool {
		_, err := adapter.Get(ctx, "other")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	_, err := adapter.Get(ctx, chunkKey)
	require.NoError(t, err)
	_, err = adapter.Get(ctx, storage.MetadataKey(id))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), q.Stats().Batches)
}

// flakyReadAdapter fails the first Get calls, then recovers.
type flakyReadAdapter struct {
	*memory.Adapter
	mu       sync.Mutex
	failures int
}

func (f *flakyReadAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, storage.ErrAdapterUnavailable
	}
	f.mu.Unlock()
	return f.Adapter.Get(ctx, key)
}

func TestMergeBaseReadRetriesTransientFailure(t *testing.T) {
	// A blob-ref delta needs its stored base; one failed read must not
	// dead-letter the batch while retry budget remains.
	adapter := &flakyReadAdapter{Adapter: memory.New(), failures: 1}
	defer adapter.Close()
	q, err := New(adapter, WithInterval(time.Hour), WithRetry(3, time.Millisecond))
	require.NoError(t, err)
	defer q.Close()
	ctx := context.Background()

	hash := core.HashContent([]byte("shared"))
	key := storage.BlobMetaKey(hash)
	info := &core.BlobInfo{Hash: hash, Size: 6, RefCount: 1, CreatedAt: time.Now().UTC()}
	require.NoError(t, adapter.Set(ctx, key, storage.MarshalBlobInfo(info)))

	require.NoError(t, q.Enqueue(Op{Key: key, Delta: 1, Priority: PriorityNormal, Kind: KindBlobRef}))
	require.NoError(t, q.Flush(ctx))

	data, err := adapter.Get(ctx, key)
	require.NoError(t, err)
	got, err := storage.UnmarshalBlobInfo(data)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.RefCount)
	assert.Equal(t, uint64(0), q.Stats().DeadLettered)
}

// failingAdapter wraps the memory adapter and fails every Update.
type failingAdapter struct {
	*memory.Adapter
}

func (f *failingAdapter) Update(ctx context.Context, fn func(tx storage.Txn) error) error {
	return storage.ErrAdapterUnavailable
}

// deadLetterMonitor records dead-lettered operations.
type deadLetterMonitor struct {
	mu   sync.Mutex
	dead []Op
}

func (m *deadLetterMonitor) Enqueued(_ Op)                    {}
func (m *deadLetterMonitor) Batched(_ int)                    {}
func (m *deadLetterMonitor) Committed(_ int, _ time.Duration) {}
func (m *deadLetterMonitor) Failed(_ error, _ int)            {}
func (m *deadLetterMonitor) DeadLettered(ops []Op) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = append(m.dead, ops...)
}

func (m *deadLetterMonitor) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dead)
}

func TestDeadLetterAfterRetriesExhausted(t *testing.T) {
	adapter := &failingAdapter{Adapter: memory.New()}
	monitor := &deadLetterMonitor{}

	q, err := New(adapter, WithInterval(time.Hour),
		WithRetry(2, time.Millisecond), WithMonitor(monitor))
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Enqueue(Op{Key: "k", Payload: []byte("v"), Priority: PriorityNormal, Kind: KindSimple}))
	require.NoError(t, q.Flush(context.Background()))

	assert.Equal(t, 1, monitor.count())
	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.DeadLettered)
	assert.Equal(t, int64(0), stats.Depth)
}

// attemptMonitor records the attempt number of every failure.
type attemptMonitor struct {
	mu       sync.Mutex
	attempts []int
}

func (m *attemptMonitor) Enqueued(_ Op)                    {}
func (m *attemptMonitor) Batched(_ int)                    {}
func (m *attemptMonitor) Committed(_ int, _ time.Duration) {}
func (m *attemptMonitor) DeadLettered(_ []Op)              {}
func (m *attemptMonitor) Failed(_ error, attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attempt)
}

func (m *attemptMonitor) recorded() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.attempts...)
}

func TestFailedReportsAttemptNumbers(t *testing.T) {
	adapter := &failingAdapter{Adapter: memory.New()}
	defer adapter.Close()
	monitor := &attemptMonitor{}

	q, err := New(adapter, WithInterval(time.Hour),
		WithRetry(3, time.Millisecond), WithMonitor(monitor))
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Enqueue(Op{Key: "k", Payload: []byte("v"), Priority: PriorityNormal, Kind: KindSimple}))
	require.NoError(t, q.Flush(context.Background()))

	assert.Equal(t, []int{1, 2, 3}, monitor.recorded())
}

func TestStatsBacklogByPriority(t *testing.T) {
	q, _ := newTestQueue(t, WithInterval(time.Hour))

	require.NoError(t, q.Enqueue(Op{Key: "a", Payload: nil, Priority: PriorityNormal, Kind: KindSimple}))
	require.NoError(t, q.Enqueue(Op{Key: "b", Payload: nil, Priority: PriorityLow, Kind: KindSimple}))

	stats := q.Stats()
	assert.Equal(t, int64(2), stats.Depth)
	assert.Equal(t, int64(1), stats.NormalBacklog)
	assert.Equal(t, int64(1), stats.LowBacklog)

	require.NoError(t, q.Flush(context.Background()))
	assert.Equal(t, int64(0), q.Stats().Depth)
}
