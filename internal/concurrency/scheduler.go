// File: internal/concurrency/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scheduler is a heap-based timer wheel implementing api.Scheduler. The
// connection manager uses it for cancelable retry backoff (resolve-addr,
// resolve-route, connect) instead of a bare time.Sleep loop, so a retry can
// be aborted the moment a connection attempt succeeds on another path.

package concurrency

import (
	"container/heap"
	"sync"
	"time"

	"github.com/momentics/portals4go/api"
)

type timerTask struct {
	deadline int64
	fn       func()
	index    int
	canceled bool
	done     chan struct{}
	err      error
}

func (t *timerTask) Cancel() error {
	close(t.done)
	t.canceled = true
	return nil
}
func (t *timerTask) Done() <-chan struct{} { return t.done }
func (t *timerTask) Err() error            { return t.err }

type taskHeap []*timerTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *taskHeap) Push(x any) {
	t := x.(*timerTask)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	t.index = -1
	return t
}

// Scheduler is a cancelable, heap-ordered timer scheduler.
type Scheduler struct {
	mu     sync.Mutex
	timerQ taskHeap
	notify chan struct{}
	stop   chan struct{}
	closed bool
	start  time.Time
}

var _ api.Scheduler = (*Scheduler)(nil)

// NewScheduler starts the scheduler's background dispatch goroutine.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		start:  time.Now(),
	}
	heap.Init(&s.timerQ)
	go s.run()
	return s
}

// Now returns monotonic nanoseconds since the scheduler was created.
func (s *Scheduler) Now() int64 {
	return int64(time.Since(s.start))
}

// Schedule arranges for fn to run after delayNanos elapse.
func (s *Scheduler) Schedule(delayNanos int64, fn func()) (api.Cancelable, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSchedulerClosed
	}
	t := &timerTask{
		deadline: s.Now() + delayNanos,
		fn:       fn,
		done:     make(chan struct{}),
	}
	heap.Push(&s.timerQ, t)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return t, nil
}

// Cancel aborts a previously scheduled callback if it has not yet fired.
func (s *Scheduler) Cancel(c api.Cancelable) error {
	t, ok := c.(*timerTask)
	if !ok {
		return c.Cancel()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.canceled || t.index < 0 || t.index >= len(s.timerQ) {
		return nil
	}
	heap.Remove(&s.timerQ, t.index)
	return t.Cancel()
}

// Close stops the dispatch loop; pending tasks never fire.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	close(s.stop)
}

func (s *Scheduler) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if len(s.timerQ) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.stop:
				return
			}
		}

		next := s.timerQ[0]
		wait := time.Duration(next.deadline - s.Now())
		s.mu.Unlock()

		if wait <= 0 {
			s.fireDue()
			continue
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
			s.fireDue()
		case <-s.notify:
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) fireDue() {
	now := s.Now()
	var due []*timerTask
	s.mu.Lock()
	for len(s.timerQ) > 0 && s.timerQ[0].deadline <= now {
		due = append(due, heap.Pop(&s.timerQ).(*timerTask))
	}
	s.mu.Unlock()

	for _, t := range due {
		if t.canceled {
			continue
		}
		t.fn()
		close(t.done)
	}
}
