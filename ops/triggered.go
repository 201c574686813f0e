// File: ops/triggered.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Triggered-operation deferral: a priority queue keyed by (CT, threshold),
// implemented with stdlib container/heap since no priority-queue library is
// present anywhere in the retrieved corpus (see DESIGN.md). A triggered op
// fires at most once, as soon as its CT's (success+failure) total first
// reaches its threshold — which may happen on an increment greater than
// one, so firing must re-check the running total rather than only the
// delta of the triggering increment.
package ops

import (
	"container/heap"
	"sync"

	"github.com/momentics/portals4go/handle"
	"github.com/momentics/portals4go/ni"
)

// triggeredItem is one pending triggered operation.
type triggeredItem struct {
	threshold uint64
	seq       uint64 // insertion order, used to break threshold ties deterministically
	exec      func(ni.Event)
	index     int // heap.Interface bookkeeping
}

// ctHeap is a min-heap of triggeredItem ordered by threshold, then seq.
type ctHeap []*triggeredItem

func (h ctHeap) Len() int { return len(h) }
func (h ctHeap) Less(i, j int) bool {
	if h[i].threshold != h[j].threshold {
		return h[i].threshold < h[j].threshold
	}
	return h[i].seq < h[j].seq
}
func (h ctHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *ctHeap) Push(x any) {
	item := x.(*triggeredItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *ctHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// TriggeredQueue holds every pending triggered operation, grouped per CT
// handle so a CT increment only walks that CT's own heap.
type TriggeredQueue struct {
	mu   sync.Mutex
	byCT map[handle.Handle]*ctHeap
	seq  uint64
}

// NewTriggeredQueue constructs an empty queue.
func NewTriggeredQueue() *TriggeredQueue {
	return &TriggeredQueue{byCT: make(map[handle.Handle]*ctHeap)}
}

// Add enqueues exec to run once ct's running total reaches threshold.
// Callers must check the CT's current value first: if it has already
// reached threshold, exec should be invoked directly instead of enqueued,
// since Add never inspects the CT itself (the caller holds the CT
// reference, this queue only orders pending waiters).
func (q *TriggeredQueue) Add(ct handle.Handle, threshold uint64, exec func(ni.Event)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.byCT[ct]
	if !ok {
		h = &ctHeap{}
		heap.Init(h)
		q.byCT[ct] = h
	}
	q.seq++
	heap.Push(h, &triggeredItem{threshold: threshold, seq: q.seq, exec: exec})
}

// OnCTEvent is called after every CT increment with the CT's new value; it
// pops and fires every pending item whose threshold has now been reached,
// including ones skipped over by an increment larger than one.
func (q *TriggeredQueue) OnCTEvent(ct handle.Handle, ev ni.Event) {
	q.mu.Lock()
	h, ok := q.byCT[ct]
	if !ok {
		q.mu.Unlock()
		return
	}
	var fired []*triggeredItem
	for h.Len() > 0 && ev.Reached((*h)[0].threshold) {
		fired = append(fired, heap.Pop(h).(*triggeredItem))
	}
	if h.Len() == 0 {
		delete(q.byCT, ct)
	}
	q.mu.Unlock()

	for _, item := range fired {
		item.exec(ev)
	}
}

// Cancel drops every pending triggered op waiting on ct without executing
// them, mirroring CTCancelTriggered.
func (q *TriggeredQueue) Cancel(ct handle.Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.byCT, ct)
}

// Pending reports how many triggered ops remain queued on ct, for tests
// and introspection.
func (q *TriggeredQueue) Pending(ct handle.Handle) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	h, ok := q.byCT[ct]
	if !ok {
		return 0
	}
	return h.Len()
}
