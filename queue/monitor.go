package queue

import "time"

// Monitor provides hooks to observe the write path. Implement this
// interface to track operations as they move through the queue. Events are
// for observation only, never for control flow.
type Monitor interface {
	Enqueued(op Op)
	Batched(ops int)
	Committed(keys int, elapsed time.Duration)
	Failed(err error, attempt int)
	DeadLettered(ops []Op)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Enqueued(_ Op)                       {}
func (n *noopMonitor) Batched(_ int)                       {}
func (n *noopMonitor) Committed(_ int, _ time.Duration)    {}
func (n *noopMonitor) Failed(_ error, _ int)               {}
func (n *noopMonitor) DeadLettered(_ []Op)                 {}
