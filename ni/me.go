// File: ni/me.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ME/LE are matching and non-matching list entries, grounded on ptl_me.h /
// ptl_le.h and spec §3's ME/LE entity: "{start, length|iovec, match_bits,
// ignore_bits, options, counting_event_handle, list(priority|overflow)}".
package ni

import (
	"sync"

	"github.com/momentics/portals4go/api"
	"github.com/momentics/portals4go/handle"
	"github.com/momentics/portals4go/obj"
	"github.com/momentics/portals4go/pool"
)

// ListKind distinguishes the priority list (searched first, the common
// expected-message path) from the overflow list (holds unexpected messages
// until a late-posted ME/LE claims them).
type ListKind int

const (
	ListPriority ListKind = iota
	ListOverflow
)

// Entry is the unified representation for both ME (matching) and LE
// (non-matching) list entries; a non-matching NI always uses MatchBits=0,
// IgnoreBits=^uint64(0) so every message matches.
type Entry struct {
	obj.Header

	Start  uintptr
	Length uint64
	Iov    []Iovec

	MatchBits  uint64
	IgnoreBits uint64

	Options  uint32
	CTHandle handle.Handle

	List ListKind

	// UseOnce marks a USE_ONCE entry: unlinked automatically after the
	// first message it matches is delivered, mirroring PTL_ME_USE_ONCE.
	UseOnce bool
	// MinFree holds the PTL_ME_MIN_FREE threshold. It is stored with the
	// entry only: neither Matches nor the portal table's Match consults it,
	// so an entry is matched whatever free space an operation would leave.
	MinFree uint64
}

// Flat implements rdma.LocalSegments for a flat (non-iovec) entry.
func (e *Entry) Flat() (uintptr, uint64) { return e.Start, e.Length }

// NumIov implements rdma.LocalSegments.
func (e *Entry) NumIov() int { return len(e.Iov) }

// IovAt implements rdma.LocalSegments.
func (e *Entry) IovAt(i int) (uintptr, uint64) { return e.Iov[i].Base, e.Iov[i].Length }

// Matches reports whether this entry's match criteria accept an incoming
// message's match bits, following ptl_me.h's match rule: the bits that
// differ must all be within IgnoreBits.
func (e *Entry) Matches(msgBits uint64) bool {
	return (e.MatchBits &^ e.IgnoreBits) == (msgBits &^ e.IgnoreBits)
}

// EntryList owns the Entry objects allocated on one NI, independent of
// which portal-table index or list (priority/overflow) currently links
// them — PTIndex.Priority/.Overflow hold the ordering, this just owns
// storage and handle generations.
type EntryList struct {
	niIndex int
	arena   []Entry
	free    *pool.Freelist
	mu      sync.Mutex
	gen     []uint32
}

func newEntryList(niIndex, capacity int) *EntryList {
	return &EntryList{
		niIndex: niIndex,
		arena:   make([]Entry, capacity),
		gen:     make([]uint32, capacity),
		free:    pool.NewFreelist(capacity),
	}
}

// Alloc reserves a fresh Entry slot and fills it in; it does not link the
// entry into any portal-table list — callers (PTIndex.Append) do that.
func (l *EntryList) Alloc(kind handle.Kind, e Entry) (handle.Handle, *Entry, error) {
	idx, ok := l.free.Acquire()
	if !ok {
		return handle.Invalid, nil, api.ErrNoSpace
	}
	l.mu.Lock()
	l.gen[idx]++
	gen := l.gen[idx]
	l.mu.Unlock()

	slot := &l.arena[idx]
	e.Header = obj.Header{}
	*slot = e
	h := handle.Encode(l.niIndex, kind, gen, idx)
	slot.Init(h, l.niIndex, entryPoolAdapter{l}, idx)
	return h, slot, nil
}

// Lookup resolves a handle to its Entry.
func (l *EntryList) Lookup(h handle.Handle) (*Entry, error) {
	if (h.Kind() != handle.KindME && h.Kind() != handle.KindLE) || h.NIIndex() != l.niIndex || int(h.Index()) >= len(l.arena) {
		return nil, api.ErrInvalidArgument
	}
	l.mu.Lock()
	live := l.gen[h.Index()] == h.Generation()
	l.mu.Unlock()
	if !live {
		return nil, api.ErrInvalidArgument
	}
	return &l.arena[h.Index()], nil
}

// Release drops a reference to an Entry, returning its slot to the
// freelist once the refcount reaches zero (mirrors PtlMEUnlink/LEUnlink
// once in-flight matches have drained).
func (l *EntryList) Release(h handle.Handle) error {
	e, err := l.Lookup(h)
	if err != nil {
		return err
	}
	e.Put()
	return nil
}

type entryPoolAdapter struct{ l *EntryList }

func (a entryPoolAdapter) Release(index uint32) {
	a.l.mu.Lock()
	a.l.gen[index]++
	a.l.mu.Unlock()
	a.l.free.Release(index)
}
