// File: ni/md.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// MD is a registered send source, grounded on ptl_md.h's md_t and spec §3's
// Memory Descriptor entity: created by MDBind, destroyed by MDRelease once
// no in-flight operation holds a reference (obj.Header's refcount).
package ni

import (
	"sync"

	"github.com/momentics/portals4go/api"
	"github.com/momentics/portals4go/handle"
	"github.com/momentics/portals4go/obj"
	"github.com/momentics/portals4go/pool"
)

// Iovec is one element of a scatter/gather memory description.
type Iovec struct {
	Base   uintptr
	Length uint64
}

// MD is a memory descriptor: a registered send source, either a flat
// buffer or an iovec.
type MD struct {
	obj.Header

	Start  uintptr
	Length uint64
	Iov    []Iovec // non-nil iff this MD describes an iovec, not a flat buffer

	Options  uint32
	EQHandle handle.Handle
	CTHandle handle.Handle
}

// NumIov implements rdma.LocalSegments.
func (m *MD) NumIov() int {
	return len(m.Iov)
}

// Flat implements rdma.LocalSegments.
func (m *MD) Flat() (uintptr, uint64) { return m.Start, m.Length }

// Iov element accessor implementing rdma.LocalSegments.
func (m *MD) IovAt(i int) (uintptr, uint64) {
	return m.Iov[i].Base, m.Iov[i].Length
}

// MDList owns the MD objects allocated on one NI.
type MDList struct {
	niIndex int
	arena   []MD
	free    *pool.Freelist
	mu      sync.Mutex
	gen     []uint32
}

func newMDList(niIndex, capacity int) *MDList {
	return &MDList{
		niIndex: niIndex,
		arena:   make([]MD, capacity),
		gen:     make([]uint32, capacity),
		free:    pool.NewFreelist(capacity),
	}
}

// Bind allocates and fills in an MD, mirroring PtlMDBind.
func (l *MDList) Bind(start uintptr, length uint64, iov []Iovec, options uint32, eq, ct handle.Handle) (handle.Handle, *MD, error) {
	idx, ok := l.free.Acquire()
	if !ok {
		return handle.Invalid, nil, api.ErrNoSpace
	}
	l.mu.Lock()
	l.gen[idx]++
	gen := l.gen[idx]
	l.mu.Unlock()

	md := &l.arena[idx]
	*md = MD{Start: start, Length: length, Iov: iov, Options: options, EQHandle: eq, CTHandle: ct}
	h := handle.Encode(l.niIndex, handle.KindMD, gen, idx)
	md.Init(h, l.niIndex, mdPoolAdapter{l}, idx)
	return h, md, nil
}

// Lookup resolves a handle to its MD.
func (l *MDList) Lookup(h handle.Handle) (*MD, error) {
	if h.Kind() != handle.KindMD || h.NIIndex() != l.niIndex || int(h.Index()) >= len(l.arena) {
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

// Release drops the caller's reference to an MD, mirroring PtlMDRelease:
// the slot is only actually returned to the freelist once the last
// in-flight operation's reference is also dropped (obj.Header.Put's
// refcount semantics).
func (l *MDList) Release(h handle.Handle) error {
	md, err := l.Lookup(h)
	if err != nil {
		return err
	}
	md.Put()
	return nil
}

type mdPoolAdapter struct{ l *MDList }

func (a mdPoolAdapter) Release(index uint32) {
	a.l.mu.Lock()
	a.l.gen[index]++
	a.l.mu.Unlock()
	a.l.free.Release(index)
}
