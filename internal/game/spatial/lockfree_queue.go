// Package spatial provides high-performance concurrent data structures.
//
// This file implements a bounded lock-free MPSC ring buffer (Vyukov style,
// per-slot sequence numbers) with cache-line padding to prevent false sharing
// between producers and the consumer, plus an SPSC variant.
//
// Origin: LMAX Disruptor (2011), Vyukov bounded MPMC queue
package spatial

import (
	"runtime"
	"sync/atomic"
)

// CacheLineSize is the typical CPU cache line size (64 bytes on x86-64)
const CacheLineSize = 64

// Padding ensures variables don't share cache lines (prevents false sharing)
type Padding [CacheLineSize]byte

// mpscSlot pairs a value with the sequence number that tells producers and
// the consumer whose turn the slot is.
type mpscSlot[T any] struct {
	seq atomic.Uint64
	val T
}

// LockFreeQueue is a bounded MPSC ring buffer.
//
// Items pushed by one producer are popped in the order that producer pushed
// them: slots are claimed in order and the consumer never skips a claimed
// slot whose value is still being written.
//
// Memory Layout (prevents false sharing):
// [Padding][head][Padding][tail][Padding][mask][Padding][slots...]
type LockFreeQueue[T any] struct {
	_pad0 Padding

	head atomic.Uint64 // Next slot to claim (producers)
	_pad1 Padding

	tail atomic.Uint64 // Next slot to read (consumer)
	_pad2 Padding

	mask  uint64 // Capacity mask for fast modulo (capacity-1)
	_pad3 Padding

	slots []mpscSlot[T]
}

// NewLockFreeQueue creates a new lock-free queue.
// capacity is rounded up to a power of 2.
func NewLockFreeQueue[T any](capacity int) *LockFreeQueue[T] {
	size := 1
	for size < capacity {
		size <<= 1
	}

	q := &LockFreeQueue[T]{
		mask:  uint64(size - 1),
		slots: make([]mpscSlot[T], size),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// TryPush attempts to add an item to the queue (producer side).
// Returns false if the queue is full. Safe for concurrent producers.
func (q *LockFreeQueue[T]) TryPush(item T) bool {
	for {
		pos := q.head.Load()
		slot := &q.slots[pos&q.mask]
		seq := slot.seq.Load()
		diff := int64(seq) - int64(pos)

		switch {
		case diff == 0:
			// Slot is free for this position - try to claim it
			if q.head.CompareAndSwap(pos, pos+1) {
				slot.val = item
				slot.seq.Store(pos + 1) // publish to the consumer
				return true
			}
		case diff < 0:
			return false // Queue full
		}

		// Another producer won the race, retry
		runtime.Gosched()
	}
}

// TryPop attempts to remove an item (consumer side).
// Returns (zero, false) when the queue is empty or the next slot is still
// being written. Must only be called by a single consumer.
func (q *LockFreeQueue[T]) TryPop() (T, bool) {
	var zero T

	pos := q.tail.Load()
	slot := &q.slots[pos&q.mask]
	if int64(slot.seq.Load())-int64(pos+1) < 0 {
		return zero, false
	}

	item := slot.val
	slot.val = zero // drop the reference for the GC
	slot.seq.Store(pos + q.mask + 1)
	q.tail.Store(pos + 1)
	return item, true
}

// Len returns the approximate number of items in the queue.
// Note: This is a snapshot and may be stale immediately.
func (q *LockFreeQueue[T]) Len() int {
	head := q.head.Load()
	tail := q.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Cap returns the queue capacity
func (q *LockFreeQueue[T]) Cap() int {
	return int(q.mask + 1)
}

// DrainTo reads available items into a pre-allocated slice (zero-alloc batch).
// Returns the number of items written.
func (q *LockFreeQueue[T]) DrainTo(buf []T) int {
	count := 0
	for count < len(buf) {
		item, ok := q.TryPop()
		if !ok {
			break
		}
		buf[count] = item
		count++
	}
	return count
}

// ============================================================================
// SPSCQueue: Single-Producer Single-Consumer (no CAS)
// ============================================================================

// SPSCQueue is a single-producer single-consumer ring buffer.
// It backs per-session outboxes: the simulation produces, one writer goroutine consumes.
type SPSCQueue[T any] struct {
	_pad0 Padding
	head  atomic.Uint64 // Write position
	_pad1 Padding
	tail  atomic.Uint64 // Read position
	_pad2 Padding
	mask  uint64
	data  []T
}

// NewSPSCQueue creates a new SPSC queue; capacity is rounded up to a power of 2.
func NewSPSCQueue[T any](capacity int) *SPSCQueue[T] {
	size := 1
	for size < capacity {
		size <<= 1
	}

	return &SPSCQueue[T]{
		mask: uint64(size - 1),
		data: make([]T, size),
	}
}

// TryPush (producer only)
func (q *SPSCQueue[T]) TryPush(item T) bool {
	head := q.head.Load()
	tail := q.tail.Load()

	if head-tail > q.mask {
		return false // Full
	}

	q.data[head&q.mask] = item
	q.head.Store(head + 1)
	return true
}

// TryPop (consumer only)
func (q *SPSCQueue[T]) TryPop() (T, bool) {
	var zero T
	tail := q.tail.Load()
	head := q.head.Load()

	if tail >= head {
		return zero, false // Empty
	}

	idx := tail & q.mask
	item := q.data[idx]
	q.data[idx] = zero
	q.tail.Store(tail + 1)
	return item, true
}

// Len returns approximate queue length
func (q *SPSCQueue[T]) Len() int {
	head := q.head.Load()
	tail := q.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Cap returns the queue capacity
func (q *SPSCQueue[T]) Cap() int {
	return int(q.mask + 1)
}
