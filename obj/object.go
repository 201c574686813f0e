// File: obj/object.go
// Package obj implements the base object header and reference-counting
// discipline shared by the NI object kinds MD, ME, LE, CT and EQ.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on ptl_ni.h's PTL_BASE_OBJ convention (every object embeds a
// common header carrying its handle, refcount, and owning NI) and on the
// teacher's pool/slab_pool.go pattern of per-field atomics instead of one
// coarse lock.

package obj

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/portals4go/handle"
)

// Pool is the minimal contract an object needs from its owning arena to
// return itself when its reference count drops to zero.
type Pool interface {
	// Release returns the slot at index to the pool's freelist.
	Release(index uint32)
}

// Header is the base object embedded by every NI object kind. Mutations to
// refCount are atomic; other fields are set once at allocation and read
// thereafter without synchronization (the owning arena's spinlock, not this
// header, guards list membership).
type Header struct {
	H          handle.Handle
	refCount   atomic.Int64
	OwningNI   int
	owningPool Pool
	index      uint32

	mu sync.Mutex // guards fields objects add beyond this header, if any
}

// Init sets the identity fields of a freshly allocated object. refCount
// starts at 1: the allocation itself is the first reference.
func (h *Header) Init(hdl handle.Handle, ni int, p Pool, index uint32) {
	h.H = hdl
	h.OwningNI = ni
	h.owningPool = p
	h.index = index
	h.refCount.Store(1)
}

// Handle returns the object's 64-bit handle.
func (h *Header) Handle() handle.Handle { return h.H }

// Ref increments the reference count. Called whenever a new operation or
// list begins holding a pointer to the object.
func (h *Header) Ref() {
	h.refCount.Add(1)
}

// Put decrements the reference count and, if it reaches zero, returns the
// object to its owning pool. Returns true if this call released the object.
func (h *Header) Put() bool {
	if h.refCount.Add(-1) == 0 {
		if h.owningPool != nil {
			h.owningPool.Release(h.index)
		}
		return true
	}
	return false
}

// RefCount returns the current reference count, for introspection/tests.
func (h *Header) RefCount() int64 {
	return h.refCount.Load()
}

// Lock/Unlock guard object-specific mutable state in embedding types; kept
// on the header so every object gets one without re-declaring a mutex.
func (h *Header) Lock()   { h.mu.Lock() }
func (h *Header) Unlock() { h.mu.Unlock() }
