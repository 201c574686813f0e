// File: internal/concurrency/ring.go
// Package concurrency implements lock-free ring buffers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RingBuffer is a bounded MPMC ring, used as the event ring that EventLoop
// drains.
// Implements api.Ring for cross-package consistency.

package concurrency

import (
	"github.com/momentics/portals4go/api"
)

// Ensure compile-time interface compliance.
var _ api.Ring[any] = (*RingBuffer[any])(nil)

// RingBuffer is a lock-free MPMC ring buffer, power-of-two sized.
// It is a thin, interface-satisfying wrapper over LockFreeQueue so the two
// primitives share one battle-tested cell/sequence implementation instead of
// diverging (the previous ring here only fenced head/tail, not the slot
// itself, and raced under concurrent producers).
type RingBuffer[T any] struct {
	q *LockFreeQueue[T]
}

// NewRingBuffer allocates a ring buffer of power-of-two size.
func NewRingBuffer[T any](size uint64) *RingBuffer[T] {
	if size == 0 || size&(size-1) != 0 {
		panic("size must be power of two")
	}
	return &RingBuffer[T]{q: NewLockFreeQueue[T](int(size))}
}

// Enqueue adds item; returns false if full.
func (r *RingBuffer[T]) Enqueue(item T) bool { return r.q.Enqueue(item) }

// Dequeue removes and returns item; ok false if empty.
func (r *RingBuffer[T]) Dequeue() (T, bool) { return r.q.Dequeue() }

// Len returns number of items currently in buffer.
func (r *RingBuffer[T]) Len() int { return r.q.Len() }

// Cap returns fixed buffer capacity.
func (r *RingBuffer[T]) Cap() int { return r.q.Cap() }
