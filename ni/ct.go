// File: ni/ct.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// CT is the counting event: a {success, failure} pair updated by completed
// operations and polled lock-free by waiters, grounded on ptl_ct.h's
// ct_t/ptl_ct_event_t and on the shared counting-event page contract in
// spec §3 ("a shared page between client and PPE allows lock-free
// polling").
package ni

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/portals4go/api"
	"github.com/momentics/portals4go/handle"
	"github.com/momentics/portals4go/obj"
	"github.com/momentics/portals4go/pool"
)

// CT is a counting event: two monotonically increasing 64-bit counters.
type CT struct {
	obj.Header

	success atomic.Uint64
	failure atomic.Uint64

	mu       sync.Mutex
	waiters  []chan struct{}
	canceled bool
}

// Event is an immutable snapshot of a CT's counters.
type Event struct {
	Success uint64
	Failure uint64
}

// Get returns the current counter snapshot. Lock-free: callers may poll
// this from another process's mapped view of the same counters without
// taking a lock, matching the "shared page" contract.
func (c *CT) Get() Event {
	return Event{Success: c.success.Load(), Failure: c.failure.Load()}
}

// Inc increments success or failure by delta (delta may be >1 for a single
// op whose user-specified increment exceeds one) and wakes any waiters
// whose threshold may now be satisfied.
func (c *CT) Inc(successDelta, failureDelta uint64) Event {
	if successDelta > 0 {
		c.success.Add(successDelta)
	}
	if failureDelta > 0 {
		c.failure.Add(failureDelta)
	}
	ev := c.Get()

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
	return ev
}

// addWaiter registers a channel to be closed on the next Inc call. Used by
// the triggered-operation queue to wake on every increment rather than
// poll, while keeping Get() itself lock-free.
func (c *CT) addWaiter() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan struct{})
	c.waiters = append(c.waiters, ch)
	return ch
}

// Reached reports whether the total (success+failure) count has reached
// threshold, the monotonic condition a triggered op waits on.
func (ev Event) Reached(threshold uint64) bool {
	return ev.Success+ev.Failure >= threshold
}

// CTList owns the CT objects allocated on one NI, backed by a fixed-size
// slot slice plus a pool.Freelist of free slot indices, so a CT's address
// stays stable for as long as its slot is allocated.
type CTList struct {
	niIndex int
	arena   []CT
	free    *pool.Freelist
	mu      sync.Mutex
	gen     []uint32
}

// newCTList allocates capacity CT slots, all initially free.
func newCTList(niIndex, capacity int) *CTList {
	return &CTList{
		niIndex: niIndex,
		arena:   make([]CT, capacity),
		gen:     make([]uint32, capacity),
		free:    pool.NewFreelist(capacity),
	}
}

// Alloc returns a fresh CT handle with its counters zeroed.
func (l *CTList) Alloc() (handle.Handle, *CT, error) {
	idx, ok := l.free.Acquire()
	if !ok {
		return handle.Invalid, nil, api.ErrNoSpace
	}
	l.mu.Lock()
	l.gen[idx]++
	gen := l.gen[idx]
	l.mu.Unlock()

	ct := &l.arena[idx]
	*ct = CT{}
	h := handle.Encode(l.niIndex, handle.KindCT, gen, uint32(idx))
	ct.Init(h, l.niIndex, ctPoolAdapter{l}, uint32(idx))
	return h, ct, nil
}

// Lookup resolves a handle to its CT, verifying the generation still
// matches the live slot (defeats use-after-free across Alloc/Free cycles).
func (l *CTList) Lookup(h handle.Handle) (*CT, error) {
	if h.Kind() != handle.KindCT || h.NIIndex() != l.niIndex {
		return nil, api.ErrInvalidArgument
	}
	idx := h.Index()
	if int(idx) >= len(l.arena) {
		return nil, api.ErrInvalidArgument
	}
	l.mu.Lock()
	live := l.gen[idx] == h.Generation()
	l.mu.Unlock()
	if !live {
		return nil, api.ErrInvalidArgument
	}
	return &l.arena[idx], nil
}

// Free returns a CT's slot to the freelist. Mirrors PtlCTFree.
func (l *CTList) Free(h handle.Handle) error {
	ct, err := l.Lookup(h)
	if err != nil {
		return err
	}
	ct.Put()
	return nil
}

// ctPoolAdapter adapts CTList to obj.Pool for obj.Header.Put's release
// callback.
type ctPoolAdapter struct{ l *CTList }

func (a ctPoolAdapter) Release(index uint32) {
	a.l.mu.Lock()
	a.l.gen[index]++
	a.l.mu.Unlock()
	a.l.free.Release(index)
}
