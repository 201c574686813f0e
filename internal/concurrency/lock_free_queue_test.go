// File: internal/concurrency/lock_free_queue_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
)

// TestLockFreeQueueMPMCStress hammers the queue with many concurrent
// producers and consumers and checks that every enqueued item is dequeued
// exactly once, matching the teacher's MPMC stress-test pattern.
func TestLockFreeQueueMPMCStress(t *testing.T) {
	const (
		producers  = 8
		consumers  = 8
		perProducer = 20_000
	)
	q := NewLockFreeQueue[int](1024)

	var produced int64
	var wgP sync.WaitGroup
	for p := 0; p < producers; p++ {
		wgP.Add(1)
		go func(base int) {
			defer wgP.Done()
			for i := 0; i < perProducer; i++ {
				for !q.Enqueue(base*perProducer + i) {
					// backoff until a consumer frees a slot
				}
				atomic.AddInt64(&produced, 1)
			}
		}(p)
	}

	var consumed int64
	done := make(chan struct{})
	seen := make([]int32, producers*perProducer)
	var wgC sync.WaitGroup
	for c := 0; c < consumers; c++ {
		wgC.Add(1)
		go func() {
			defer wgC.Done()
			for {
				v, ok := q.Dequeue()
				if ok {
					if atomic.AddInt32(&seen[v], 1) != 1 {
						t.Errorf("item %d dequeued more than once", v)
					}
					atomic.AddInt64(&consumed, 1)
					continue
				}
				select {
				case <-done:
					// drain remaining items before exiting
					for {
						v, ok := q.Dequeue()
						if !ok {
							return
						}
						atomic.AddInt32(&seen[v], 1)
						atomic.AddInt64(&consumed, 1)
					}
				default:
				}
			}
		}()
	}

	wgP.Wait()
	close(done)
	wgC.Wait()

	if got, want := atomic.LoadInt64(&produced), int64(producers*perProducer); got != want {
		t.Fatalf("produced = %d, want %d", got, want)
	}
	if got, want := atomic.LoadInt64(&consumed), int64(producers*perProducer); got != want {
		t.Fatalf("consumed = %d, want %d", got, want)
	}
}

func TestLockFreeQueueFIFOSingleThread(t *testing.T) {
	q := NewLockFreeQueue[int](8)
	for i := 0; i < 8; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	if q.Enqueue(99) {
		t.Fatalf("enqueue into full queue should fail")
	}
	for i := 0; i < 8; i++ {
		v, ok := q.Dequeue()
		if !ok || v != i {
			t.Fatalf("dequeue[%d] = (%d, %v), want (%d, true)", i, v, ok, i)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatalf("dequeue from empty queue should fail")
	}
}
