package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/poiesic/sessiondb/storage"
)

// Priority orders operations by urgency.
type Priority int

const (
	// PriorityCritical commits as soon as the current batch window closes.
	PriorityCritical Priority = iota
	// PriorityNormal batches on the configured interval.
	PriorityNormal
	// PriorityLow commits only when no higher-priority work is pending.
	PriorityLow
)

// Kind selects the coalescing behavior for an operation.
type Kind int

const (
	// KindSimple is a plain write; the latest payload for a key wins.
	KindSimple Kind = iota
	// KindChunkAppend accumulates item payloads onto a stored chunk.
	KindChunkAppend
	// KindIndexUpdate is a plain write of serialized posting lists.
	KindIndexUpdate
	// KindBlobRef sums refcount deltas against a stored blob meta record.
	KindBlobRef
	// KindCleanup deletes the key.
	KindCleanup
)

// Op is one queued write operation.
type Op struct {
	Key      string
	Payload  []byte
	Delta    int64 // refcount delta, KindBlobRef only
	Priority Priority
	Kind     Kind
}

const (
	defaultInterval    = 100 * time.Millisecond
	defaultMaxDepth    = 10000
	defaultMaxAttempts = 5
	defaultBaseDelay   = 50 * time.Millisecond
)

// Queue is the engine's asynchronous write path. One drain goroutine owns
// all commits; callers only ever stage operations.
type Queue struct {
	adapter storage.Adapter
	logger  *slog.Logger
	monitor Monitor

	interval    time.Duration
	maxDepth    int
	maxAttempts int
	baseDelay   time.Duration

	ops      chan []Op
	flushReq chan chan struct{}
	stop     chan struct{}
	done     chan struct{}

	closed  atomic.Bool
	depth   atomic.Int64
	backlog [3]atomic.Int64

	batches      atomic.Uint64
	committedOps atomic.Uint64
	deadLetters  atomic.Uint64
}

// Option configures a Queue.
type Option func(*Queue) error

// WithInterval sets the batch window for normal-priority operations.
// Default is 100ms.
func WithInterval(interval time.Duration) Option {
	return func(q *Queue) error {
		if interval > 0 {
			q.interval = interval
		}
		return nil
	}
}

// WithMaxDepth sets the backlog limit above which Enqueue rejects with
// ErrQueueFull. Default is 10000.
func WithMaxDepth(depth int) Option {
	return func(q *Queue) error {
		if depth > 0 {
			q.maxDepth = depth
		}
		return nil
	}
}

// WithRetry sets the commit retry policy: attempts and base backoff delay.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(q *Queue) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		q.maxAttempts = maxAttempts
		q.baseDelay = baseDelay
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) error {
		if logger == nil {
			logger = slog.Default()
		}
		q.logger = logger
		return nil
	}
}

// WithMonitor sets the observer for queue events.
func WithMonitor(monitor Monitor) Option {
	return func(q *Queue) error {
		if monitor == nil {
			monitor = &noopMonitor{}
		}
		q.monitor = monitor
		return nil
	}
}

// New creates a queue on the given adapter and starts its drain loop.
func New(adapter storage.Adapter, opts ...Option) (*Queue, error) {
	q := &Queue{
		adapter:     adapter,
		logger:      slog.Default(),
		monitor:     &noopMonitor{},
		interval:    defaultInterval,
		maxDepth:    defaultMaxDepth,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		flushReq:    make(chan chan struct{}),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}

	q.ops = make(chan []Op, q.maxDepth)
	go q.drain()

	return q, nil
}

// Enqueue stages an operation and returns immediately. Transient backend
// errors never surface here; they are retried inside the drain loop.
// Returns ErrQueueFull when the backlog limit is reached (backpressure)
// and ErrQueueClosed after Close.
func (q *Queue) Enqueue(op Op) error {
	return q.EnqueueAll(op)
}

// EnqueueAll stages operations as one group. Grouped operations always
// land in the same batch window, so they commit in a single transaction;
// a crash can never apply some of the group without the rest.
func (q *Queue) EnqueueAll(ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}
	if q.closed.Load() {
		return ErrQueueClosed
	}
	if int(q.depth.Load())+len(ops) > q.maxDepth {
		return ErrQueueFull
	}

	q.depth.Add(int64(len(ops)))
	for _, op := range ops {
		q.backlog[op.Priority].Add(1)
	}

	group := make([]Op, len(ops))
	copy(group, ops)
	select {
	case q.ops <- group:
	default:
		q.depth.Add(int64(-len(ops)))
		for _, op := range ops {
			q.backlog[op.Priority].Add(-1)
		}
		return ErrQueueFull
	}

	for _, op := range ops {
		q.monitor.Enqueued(op)
	}
	return nil
}

// Flush drains all pending operations and waits for their commits. This is
// the only blocking call; it is meant for shutdown and for tests. Flush
// itself is not cancellable, but the caller's context bounds the wait —
// the drain continues in the background if the context expires.
func (q *Queue) Flush(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case q.flushReq <- reply:
	case <-q.done:
		return ErrQueueClosed
	}

	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting operations, drains everything pending, and stops
// the drain loop.
func (q *Queue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	close(q.stop)
	<-q.done
	return nil
}

// Stats is the queue's read-only observability surface.
type Stats struct {
	Depth           int64
	CriticalBacklog int64
	NormalBacklog   int64
	LowBacklog      int64
	Batches         uint64
	Committed       uint64
	DeadLettered    uint64
}

// Stats returns a snapshot of queue depth and counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Depth:           q.depth.Load(),
		CriticalBacklog: q.backlog[PriorityCritical].Load(),
		NormalBacklog:   q.backlog[PriorityNormal].Load(),
		LowBacklog:      q.backlog[PriorityLow].Load(),
		Batches:         q.batches.Load(),
		Committed:       q.committedOps.Load(),
		DeadLettered:    q.deadLetters.Load(),
	}
}

// pending is the collapsed state of one key inside a batch window.
type pending struct {
	ops      []Op     // staged operations, kept for accounting and dead-letters
	payload  []byte   // last full-value write (last-write-wins)
	hasValue bool
	appends  [][]byte // accumulated chunk-append payloads
	delta    int64    // summed blob refcount delta
	del      bool
}

func (p *pending) stage(op Op) {
	p.ops = append(p.ops, op)
	switch op.Kind {
	case KindSimple, KindIndexUpdate:
		p.payload = op.Payload
		p.hasValue = true
		p.del = false
	case KindChunkAppend:
		p.appends = append(p.appends, op.Payload)
		p.del = false
	case KindBlobRef:
		p.delta += op.Delta
		if op.Payload != nil {
			p.payload = op.Payload
			p.hasValue = true
		}
		p.del = false
	case KindCleanup:
		p.payload = nil
		p.hasValue = false
		p.appends = nil
		p.delta = 0
		p.del = true
	}
}

// drain is the queue's single writer goroutine.
func (q *Queue) drain() {
	defer close(q.done)

	main := make(map[string]*pending)  // critical + normal
	low := make(map[string]*pending)   // low priority, committed when idle
	order := make([]string, 0, 64)     // key arrival order for main
	lowOrder := make([]string, 0, 16)

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	stageOp := func(op Op) {
		// Keys already staged at low priority are promoted so a later
		// higher-priority write can never be overwritten by an older one.
		if entry, ok := low[op.Key]; ok && op.Priority != PriorityLow {
			delete(low, op.Key)
			for i, k := range lowOrder {
				if k == op.Key {
					lowOrder = append(lowOrder[:i], lowOrder[i+1:]...)
					break
				}
			}
			main[op.Key] = entry
			order = append(order, op.Key)
		}

		target, keys := main, &order
		if op.Priority == PriorityLow {
			if _, inMain := main[op.Key]; !inMain {
				target, keys = low, &lowOrder
			}
		}

		entry, ok := target[op.Key]
		if !ok {
			entry = &pending{}
			target[op.Key] = entry
			*keys = append(*keys, op.Key)
		}
		entry.stage(op)
	}

	stageGroup := func(group []Op) (critical bool) {
		for _, op := range group {
			stageOp(op)
			if op.Priority == PriorityCritical {
				critical = true
			}
		}
		return critical
	}

	// drainAvailable pulls every group already buffered without blocking.
	drainAvailable := func() {
		for {
			select {
			case group := <-q.ops:
				stageGroup(group)
			default:
				return
			}
		}
	}

	commitMain := func() {
		q.commit(main, order)
		clear(main)
		order = order[:0]
	}
	commitLow := func() {
		q.commit(low, lowOrder)
		clear(low)
		lowOrder = lowOrder[:0]
	}

	for {
		select {
		case group := <-q.ops:
			if stageGroup(group) {
				drainAvailable()
				commitMain()
			}

		case <-ticker.C:
			drainAvailable()
			if len(main) > 0 {
				commitMain()
			} else if len(low) > 0 && len(q.ops) == 0 {
				// Low-priority work only runs when nothing else is waiting.
				commitLow()
			}

		case reply := <-q.flushReq:
			drainAvailable()
			commitMain()
			commitLow()
			close(reply)

		case <-q.stop:
			drainAvailable()
			commitMain()
			commitLow()
			return
		}
	}
}

// commit applies one collapsed batch in a single adapter transaction.
// Logical merge failures fail fast; transient adapter failures retry with
// backoff and dead-letter after exhausting attempts.
func (q *Queue) commit(batch map[string]*pending, order []string) {
	if len(batch) == 0 {
		return
	}

	total := 0
	for _, entry := range batch {
		total += len(entry.ops)
	}
	q.monitor.Batched(total)
	q.batches.Add(1)

	ctx := context.Background()
	start := time.Now()

	// The whole attempt runs inside the retry loop: merge-kind entries are
	// resolved against stored values, then everything commits in a single
	// transaction. A transient Get failure retries the same way a failed
	// commit does. The drain goroutine is the only writer for merge keys,
	// so re-reading on a later attempt is safe.
	attempt := 0
	var logicalErr error
	err := RetryWithBackoff(ctx, func() error {
		attempt++
		now := time.Now().UTC()
		values := make(map[string][]byte, len(batch))
		for _, key := range order {
			entry := batch[key]
			if entry.del {
				continue
			}

			base := entry.payload
			if !entry.hasValue && (len(entry.appends) > 0 || entry.delta != 0) {
				stored, err := q.adapter.Get(ctx, key)
				if err != nil && !errors.Is(err, storage.ErrNotFound) {
					q.monitor.Failed(err, attempt)
					return err
				}
				base = stored
			}

			value := base
			var err error
			if len(entry.appends) > 0 {
				value, err = storage.MergeChunkAppend(key, base, entry.appends)
			}
			if err == nil && entry.delta != 0 {
				value, err = storage.ApplyBlobDelta(value, entry.delta, now)
			}
			if err != nil {
				// Logical failure: retrying cannot help.
				logicalErr = err
				return nil
			}
			values[key] = value
		}

		attemptErr := q.adapter.Update(ctx, func(tx storage.Txn) error {
			for _, key := range order {
				entry := batch[key]
				if entry.del {
					if err := tx.Delete(key); err != nil {
						return err
					}
					continue
				}
				if err := tx.Set(key, values[key]); err != nil {
					return err
				}
			}
			return nil
		})
		if attemptErr != nil {
			q.monitor.Failed(attemptErr, attempt)
		}
		return attemptErr
	}, q.maxAttempts, q.baseDelay)

	if err != nil {
		q.retryOrDeadLetter(batch, order, err)
		return
	}
	if logicalErr != nil {
		q.deadLetter(batch, logicalErr)
		return
	}

	q.settle(batch, total)
	q.committedOps.Add(uint64(total))
	q.monitor.Committed(len(batch), time.Since(start))
}

// retryOrDeadLetter handles a batch whose commit failed after the internal
// retry budget was spent.
func (q *Queue) retryOrDeadLetter(batch map[string]*pending, _ []string, err error) {
	q.logger.Error("batch commit failed after retries", "keys", len(batch), "err", err)
	q.deadLetter(batch, err)
}

// deadLetter surfaces every staged op in the batch through the monitor and
// releases its backlog accounting.
func (q *Queue) deadLetter(batch map[string]*pending, err error) {
	var ops []Op
	total := 0
	for _, entry := range batch {
		ops = append(ops, entry.ops...)
		total += len(entry.ops)
	}
	q.logger.Error("dead-lettering operations", "ops", total, "err", err)
	q.deadLetters.Add(uint64(total))
	q.settle(batch, total)
	q.monitor.DeadLettered(ops)
}

// settle releases depth and backlog counts for a finished batch.
func (q *Queue) settle(batch map[string]*pending, total int) {
	q.depth.Add(int64(-total))
	for _, entry := range batch {
		for _, op := range entry.ops {
			q.backlog[op.Priority].Add(-1)
		}
	}
}
