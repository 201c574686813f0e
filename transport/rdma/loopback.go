// File: transport/rdma/loopback.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// LoopbackQueuePair is a software QueuePair for single-node testing and for
// deployments with no RDMA-capable NIC: it performs the memory copy a real
// HCA's DMA engine would perform, against a process-local registered-memory
// table, and reports completions through a CompletionQueue exactly as a
// real QP would via its CQ. Grounded in the same role
// internal/transport.HasRDMADeviceSupport's always-false stub plays: no
// cgo libibverbs binding exists in this corpus, so every RDMA code path
// must also work against a pure-Go backend.
package rdma

import (
	"fmt"
	"sync"
	"unsafe"
)

// MemoryRegion is the loopback equivalent of an ibv_mr: a registered local
// byte range addressable by (lkey/rkey) from a PostRDMA call.
type MemoryRegion struct {
	Addr uintptr
	Len  uint64
	Key  uint32
	data []byte
}

// RegistrationTable maps keys to MemoryRegions for the loopback backend,
// standing in for the real ibv_reg_mr/rkey exchange.
type RegistrationTable struct {
	mu      sync.Mutex
	regions map[uint32]*MemoryRegion
	nextKey uint32
}

// NewRegistrationTable builds an empty table.
func NewRegistrationTable() *RegistrationTable {
	return &RegistrationTable{regions: make(map[uint32]*MemoryRegion)}
}

// Register records buf as a memory region and returns its key.
func (t *RegistrationTable) Register(buf []byte) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextKey++
	key := t.nextKey
	addr := uintptrOf(buf)
	t.regions[key] = &MemoryRegion{Addr: addr, Len: uint64(len(buf)), Key: key, data: buf}
	return key
}

// Lookup returns the MemoryRegion backing key, or ok=false.
func (t *RegistrationTable) Lookup(key uint32) (*MemoryRegion, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.regions[key]
	return r, ok
}

func (t *RegistrationTable) bytesAt(key uint32, addr uintptr, length uint32) ([]byte, error) {
	r, ok := t.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("rdma: loopback: unknown key %d", key)
	}
	if addr < r.Addr || addr+uintptr(length) > r.Addr+uintptr(r.Len) {
		return nil, fmt.Errorf("rdma: loopback: access [%d,%d) out of bounds of region [%d,%d)", addr, addr+uintptr(length), r.Addr, r.Addr+uintptr(r.Len))
	}
	off := addr - r.Addr
	return r.data[off : off+uintptr(length)], nil
}

// BytesAt returns the byte slice covering [addr, addr+length) from
// whichever registered region contains it, for callers (the ops layer)
// that need to read/write a local buffer directly rather than post an
// RDMA work request against it.
func (t *RegistrationTable) BytesAt(addr uintptr, length uint64) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, r := range t.regions {
		if addr >= r.Addr && addr+uintptr(length) <= r.Addr+uintptr(r.Len) {
			return t.bytesAtLocked(key, addr, uint32(length))
		}
	}
	return nil, fmt.Errorf("rdma: loopback: no registered region covers [%d,%d)", addr, addr+uintptr(length))
}

func (t *RegistrationTable) bytesAtLocked(key uint32, addr uintptr, length uint32) ([]byte, error) {
	r := t.regions[key]
	off := addr - r.Addr
	return r.data[off : off+uintptr(length)], nil
}

// MRLookupFor adapts a RegistrationTable into an MRLookup that finds the
// single region covering [addr, addr+length) and returns its key as lkey.
// Intended for tests where each buffer is registered individually.
func MRLookupFor(t *RegistrationTable) MRLookup {
	return func(addr uintptr, length uint64) (uint32, error) {
		t.mu.Lock()
		defer t.mu.Unlock()
		for key, r := range t.regions {
			if addr >= r.Addr && addr+uintptr(length) <= r.Addr+uintptr(r.Len) {
				return key, nil
			}
		}
		return 0, fmt.Errorf("rdma: loopback: no registered region covers [%d,%d)", addr, addr+uintptr(length))
	}
}

// CompletionEvent mirrors ibv_wc: one posted work request's outcome.
type CompletionEvent struct {
	Err error
}

// LoopbackQueuePair performs the DMA a real HCA would, directly against a
// shared RegistrationTable: PostRDMA copies bytes between the local SGL and
// a remote byte range keyed by rkey, then appends a CompletionEvent to CQ
// when signaled is true, mirroring IBV_SEND_SIGNALED.
type LoopbackQueuePair struct {
	remote *RegistrationTable
	cq     chan CompletionEvent
}

// NewLoopbackQueuePair builds a QP posting against remote's registration
// table, with a buffered completion channel of the given capacity standing
// in for the CQ.
func NewLoopbackQueuePair(remote *RegistrationTable, cqCapacity int) *LoopbackQueuePair {
	return &LoopbackQueuePair{remote: remote, cq: make(chan CompletionEvent, cqCapacity)}
}

// PostRDMA implements QueuePair.
func (q *LoopbackQueuePair) PostRDMA(dir Direction, remoteAddr uint64, rkey uint32, sgl []SGE, signaled bool) error {
	var err error
	remoteOff := uint64(0)
	for _, sge := range sgl {
		remoteBytes, rerr := q.remote.bytesAt(rkey, uintptr(remoteAddr+remoteOff), sge.Length)
		if rerr != nil {
			err = fmt.Errorf("rdma: loopback post: %w", rerr)
			break
		}
		localBytes := unsafe.Slice((*byte)(unsafe.Pointer(sge.Addr)), sge.Length)

		switch dir {
		case DirIn:
			copy(localBytes, remoteBytes)
		case DirOut:
			copy(remoteBytes, localBytes)
		}
		remoteOff += uint64(sge.Length)
	}

	if signaled {
		select {
		case q.cq <- CompletionEvent{Err: err}:
		default:
			return fmt.Errorf("rdma: loopback: completion queue full")
		}
	}
	return err
}

// Poll drains up to max completion events, non-blocking.
func (q *LoopbackQueuePair) Poll(max int) []CompletionEvent {
	events := make([]CompletionEvent, 0, max)
	for i := 0; i < max; i++ {
		select {
		case e := <-q.cq:
			events = append(events, e)
		default:
			return events
		}
	}
	return events
}

// Wait blocks until at least one completion is available.
func (q *LoopbackQueuePair) Wait() CompletionEvent {
	return <-q.cq
}
