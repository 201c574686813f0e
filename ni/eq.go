// File: ni/eq.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EQ is the event queue: a ring of event records with a producer cursor
// owned by the PPE and a consumer cursor owned by the client, grounded on
// ptl_eq.h's eq_t and spec §3's EQ entity.
package ni

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/portals4go/api"
	"github.com/momentics/portals4go/handle"
	"github.com/momentics/portals4go/obj"
	"github.com/momentics/portals4go/pool"
)

// EventRecord is one entry posted to an EQ: the minimal fields ReportEvent
// (ops layer, §4.8) needs to describe a completed operation.
type EventRecord struct {
	Type    EventType
	MDOrME  handle.Handle
	NIFail  bool
	Length  uint64
	Offset  uint64
}

// EventType enumerates the kinds of event a completed operation reports.
type EventType int

const (
	EventPutComplete EventType = iota
	EventGetComplete
	EventAtomicComplete
	EventFetchAtomicComplete
	EventSwapComplete
	EventLinkUnlink
)

// EQ is a fixed-capacity ring buffer of EventRecord, single-producer
// (the PPE) and single-consumer (the client), matching spec §3's ownership
// split of the two cursors.
type EQ struct {
	obj.Header

	records []EventRecord
	mask    uint64
	head    atomic.Uint64 // consumer cursor
	tail    atomic.Uint64 // producer cursor

	dropped atomic.Uint64

	mu      sync.Mutex
	waiters []chan struct{}
}

func newEQ(capacity int) *EQ {
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &EQ{records: make([]EventRecord, size), mask: uint64(size - 1)}
}

// Post appends an event. If the ring is full the oldest unread event is
// overwritten and Dropped is incremented, matching a producer that must
// never block.
func (q *EQ) Post(ev EventRecord) {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail-head >= uint64(len(q.records)) {
		q.dropped.Add(1)
		q.head.Add(1)
	}
	q.records[tail&q.mask] = ev
	q.tail.Add(1)

	q.mu.Lock()
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// Poll returns the next unread event, or ok=false if none is queued.
func (q *EQ) Poll() (ev EventRecord, ok bool) {
	head := q.head.Load()
	tail := q.tail.Load()
	if head >= tail {
		return EventRecord{}, false
	}
	ev = q.records[head&q.mask]
	q.head.Add(1)
	return ev, true
}

// Dropped returns the number of events overwritten before being read.
func (q *EQ) Dropped() uint64 {
	return q.dropped.Load()
}

// EQList owns the EQ objects allocated on one NI.
type EQList struct {
	niIndex int
	arena   []*EQ
	free    *pool.Freelist
	mu      sync.Mutex
	gen     []uint32
	cap     int
}

func newEQList(niIndex, capacity, eqDepth int) *EQList {
	arena := make([]*EQ, capacity)
	for i := range arena {
		arena[i] = newEQ(eqDepth)
	}
	return &EQList{
		niIndex: niIndex,
		arena:   arena,
		gen:     make([]uint32, capacity),
		free:    pool.NewFreelist(capacity),
		cap:     capacity,
	}
}

// Alloc returns a fresh EQ handle.
func (l *EQList) Alloc() (handle.Handle, *EQ, error) {
	idx, ok := l.free.Acquire()
	if !ok {
		return handle.Invalid, nil, api.ErrNoSpace
	}
	l.mu.Lock()
	l.gen[idx]++
	gen := l.gen[idx]
	l.mu.Unlock()

	eq := l.arena[idx]
	eq.head.Store(0)
	eq.tail.Store(0)
	eq.dropped.Store(0)
	h := handle.Encode(l.niIndex, handle.KindEQ, gen, idx)
	eq.Init(h, l.niIndex, eqPoolAdapter{l}, idx)
	return h, eq, nil
}

// Lookup resolves a handle to its EQ, checking generation liveness.
func (l *EQList) Lookup(h handle.Handle) (*EQ, error) {
	if h.Kind() != handle.KindEQ || h.NIIndex() != l.niIndex || int(h.Index()) >= l.cap {
		return nil, api.ErrInvalidArgument
	}
	l.mu.Lock()
	live := l.gen[h.Index()] == h.Generation()
	l.mu.Unlock()
	if !live {
		return nil, api.ErrInvalidArgument
	}
	return l.arena[h.Index()], nil
}

// Free returns an EQ's slot to the freelist.
func (l *EQList) Free(h handle.Handle) error {
	eq, err := l.Lookup(h)
	if err != nil {
		return err
	}
	eq.Put()
	return nil
}

type eqPoolAdapter struct{ l *EQList }

func (a eqPoolAdapter) Release(index uint32) {
	a.l.mu.Lock()
	a.l.gen[index]++
	a.l.mu.Unlock()
	a.l.free.Release(index)
}
