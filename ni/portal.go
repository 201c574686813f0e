// File: ni/portal.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// PT is one portal-table index: a pair of ME/LE lists (priority, searched
// first, and overflow, holding unexpected messages), grounded on ptl_pt.h's
// pt_t and spec §4.7 ("portal-table management: PTAlloc/Free/Enable/Disable,
// append/unlink of LEs and MEs with list discipline").
//
// Each PT entry gets its own mutex rather than one NI-wide lock, following
// the teacher's per-field-lock-granularity style (pool/slab_pool.go guards
// each slab independently rather than taking one pool-wide lock per op).
package ni

import (
	"sync"

	"github.com/momentics/portals4go/api"
	"github.com/momentics/portals4go/handle"
)

// PTState is the enable/disable state of one portal-table index. A
// disabled PT rejects new Put/Get/Atomic targeting it but still allows
// ME/LE append and unlink, matching PtlPTDisable's semantics.
type PTState int

const (
	PTDisabled PTState = iota
	PTEnabled
)

// PT is one portal-table index.
type PT struct {
	mu       sync.Mutex
	state    PTState
	allocated bool

	priority []handle.Handle
	overflow []handle.Handle

	eqHandle handle.Handle // EQ events for this PT are reported to, if any
}

// PortalTable owns all PT indices for one NI.
type PortalTable struct {
	niIndex int
	entries *EntryList
	pts     []PT
}

func newPortalTable(niIndex int, maxIndices int, entries *EntryList) *PortalTable {
	return &PortalTable{niIndex: niIndex, entries: entries, pts: make([]PT, maxIndices)}
}

// Alloc reserves a portal-table index, optionally at a specific index if
// requested>=0, mirroring PtlPTAlloc's "any free index" vs. a fixed-index
// reservation used by well-known services.
func (t *PortalTable) Alloc(requested int, eq handle.Handle) (int, error) {
	if requested >= 0 {
		if requested >= len(t.pts) {
			return 0, api.ErrInvalidArgument
		}
		pt := &t.pts[requested]
		pt.mu.Lock()
		defer pt.mu.Unlock()
		if pt.allocated {
			return 0, api.ErrNoSpace
		}
		pt.allocated = true
		pt.state = PTDisabled
		pt.eqHandle = eq
		pt.priority = nil
		pt.overflow = nil
		return requested, nil
	}
	for i := range t.pts {
		pt := &t.pts[i]
		pt.mu.Lock()
		if !pt.allocated {
			pt.allocated = true
			pt.state = PTDisabled
			pt.eqHandle = eq
			pt.priority = nil
			pt.overflow = nil
			pt.mu.Unlock()
			return i, nil
		}
		pt.mu.Unlock()
	}
	return 0, api.ErrNoSpace
}

// Free releases a portal-table index. Mirrors PtlPTFree: the index must
// have no linked ME/LE entries remaining.
func (t *PortalTable) Free(index int) error {
	if index < 0 || index >= len(t.pts) {
		return api.ErrInvalidArgument
	}
	pt := &t.pts[index]
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if !pt.allocated {
		return api.ErrInvalidArgument
	}
	if len(pt.priority) != 0 || len(pt.overflow) != 0 {
		return api.ErrInvalidArgument
	}
	pt.allocated = false
	pt.state = PTDisabled
	return nil
}

// Enable flips a PT index to accept new matching operations.
func (t *PortalTable) Enable(index int) error {
	return t.setState(index, PTEnabled)
}

// Disable flips a PT index to reject new matching operations while
// leaving existing ME/LE links intact.
func (t *PortalTable) Disable(index int) error {
	return t.setState(index, PTDisabled)
}

func (t *PortalTable) setState(index int, s PTState) error {
	if index < 0 || index >= len(t.pts) {
		return api.ErrInvalidArgument
	}
	pt := &t.pts[index]
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if !pt.allocated {
		return api.ErrInvalidArgument
	}
	pt.state = s
	return nil
}

// IsEnabled reports whether index currently accepts matching operations.
func (t *PortalTable) IsEnabled(index int) bool {
	if index < 0 || index >= len(t.pts) {
		return false
	}
	pt := &t.pts[index]
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.allocated && pt.state == PTEnabled
}

// Append links a new ME/LE handle to the tail of the requested list,
// mirroring PtlMEAppend/PtlLEAppend's append-to-tail ordering guarantee
// (entries are searched in append order within a list).
func (t *PortalTable) Append(index int, list ListKind, h handle.Handle) error {
	if index < 0 || index >= len(t.pts) {
		return api.ErrInvalidArgument
	}
	pt := &t.pts[index]
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if !pt.allocated {
		return api.ErrInvalidArgument
	}
	switch list {
	case ListPriority:
		pt.priority = append(pt.priority, h)
	case ListOverflow:
		pt.overflow = append(pt.overflow, h)
	default:
		return api.ErrInvalidArgument
	}
	return nil
}

// Unlink removes a previously appended handle from whichever list it is
// in. Returns ErrInvalidArgument if not found, matching PtlMEUnlink on an
// already-unlinked entry.
func (t *PortalTable) Unlink(index int, h handle.Handle) error {
	if index < 0 || index >= len(t.pts) {
		return api.ErrInvalidArgument
	}
	pt := &t.pts[index]
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if !pt.allocated {
		return api.ErrInvalidArgument
	}
	if removed := removeHandle(&pt.priority, h); removed {
		return nil
	}
	if removed := removeHandle(&pt.overflow, h); removed {
		return nil
	}
	return api.ErrInvalidArgument
}

func removeHandle(list *[]handle.Handle, h handle.Handle) bool {
	for i, v := range *list {
		if v == h {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// Match searches the priority list first, then the overflow list, for an
// entry whose match criteria accept msgBits, mirroring the search order
// PtlPut/PtlGet's target-side matching uses.
func (t *PortalTable) Match(index int, msgBits uint64, entries *EntryList) (handle.Handle, *Entry, bool) {
	if index < 0 || index >= len(t.pts) {
		return handle.Invalid, nil, false
	}
	pt := &t.pts[index]
	pt.mu.Lock()
	candidates := append(append([]handle.Handle{}, pt.priority...), pt.overflow...)
	pt.mu.Unlock()

	for _, h := range candidates {
		e, err := entries.Lookup(h)
		if err != nil {
			continue
		}
		if e.Matches(msgBits) {
			return h, e, true
		}
	}
	return handle.Invalid, nil, false
}
