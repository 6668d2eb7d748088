// Package queue implements the engine's write path: a priority-based,
// batching, retrying persistence layer sitting directly on the storage
// adapter.
//
// Callers never block on persistence. Enqueue stages an operation and
// returns; a dedicated drain goroutine collapses operations per key and
// commits each batch in a single adapter transaction. Simple writes are
// last-write-wins within a batch window; chunk-append operations
// accumulate item payloads; blob-ref operations sum refcount deltas.
//
// Critical operations close the current batch window immediately, normal
// operations commit on a fixed interval, and low-priority operations
// commit only when no higher-priority work is pending. Transient backend
// failures are retried with exponential backoff; operations that exhaust
// their attempts are surfaced through the Monitor as dead letters, never
// silently dropped.
//
// Flush is the only blocking call and is intended for shutdown.
package queue
