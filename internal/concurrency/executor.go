// File: internal/concurrency/executor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor is the PPE server's resizable worker pool: a bank of goroutines that
// pump CommandEntry tasks off a shared dispatch queue. The queue itself is
// github.com/eapache/queue (the teacher's real dependency for this concern),
// guarded by a mutex/condvar pair since eapache/queue is not safe for
// concurrent use on its own.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// TaskFunc is a unit of work submitted to an Executor. Defined as an alias
// (not a distinct named type) so *Executor's Submit satisfies api.Executor's
// Submit(func()) error without an adapter.
type TaskFunc = func()

// stopSentinel is a poison-pill task Resize enqueues to retire one worker;
// distinguished from ordinary tasks by its own type rather than a nil func.
type stopSentinel struct{}

// Executor is a resizable worker pool draining a shared FIFO queue, backing
// api.Executor for the PPE server's command dispatch.
type Executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	q       *queue.Queue
	closed  bool
	running int
	wg      sync.WaitGroup
}

// NewExecutor starts numWorkers goroutines (minimum 1).
func NewExecutor(numWorkers int) *Executor {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	e := &Executor{q: queue.New(), running: numWorkers}
	e.cond = sync.NewCond(&e.mu)
	for i := 0; i < numWorkers; i++ {
		e.wg.Add(1)
		go e.runWorker()
	}
	return e
}

// Submit enqueues a task for execution. Returns ErrExecutorClosed once Close
// has been called.
func (e *Executor) Submit(task TaskFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExecutorClosed
	}
	e.q.Add(task)
	e.cond.Signal()
	return nil
}

// NumWorkers reports the current worker goroutine count.
func (e *Executor) NumWorkers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Resize grows or shrinks the pool to newCount workers (minimum 1).
// Growing starts additional goroutines immediately. Shrinking enqueues one
// stopSentinel per worker to retire, so each exits only after draining the
// tasks ahead of it rather than abandoning queued work.
func (e *Executor) Resize(newCount int) {
	if newCount < 1 {
		newCount = 1
	}
	e.mu.Lock()
	delta := newCount - e.running
	if delta > 0 {
		e.running += delta
	}
	e.mu.Unlock()

	if delta > 0 {
		for i := 0; i < delta; i++ {
			e.wg.Add(1)
			go e.runWorker()
		}
		return
	}
	for i := 0; i < -delta; i++ {
		e.mu.Lock()
		e.q.Add(stopSentinel{})
		e.cond.Signal()
		e.mu.Unlock()
	}
}

// Close stops accepting new work and waits for in-flight tasks to drain.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cond.Broadcast()
	e.wg.Wait()
}

func (e *Executor) runWorker() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for e.q.Length() == 0 && !e.closed {
			e.cond.Wait()
		}
		if e.q.Length() == 0 && e.closed {
			e.running--
			e.mu.Unlock()
			return
		}
		item := e.q.Remove()
		e.mu.Unlock()

		if _, stop := item.(stopSentinel); stop {
			e.mu.Lock()
			e.running--
			e.mu.Unlock()
			return
		}
		if task, ok := item.(TaskFunc); ok {
			task()
		}
	}
}
