// File: transport/rdma/rdma.go
// Package rdma implements the target-side one-sided transfer engine: given
// a remote scatter/gather list and a local memory segment (flat or an
// indirect iovec), it issues as many RDMA read/write work requests as
// needed to move the data, coalescing completion notifications so not
// every work request needs one.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// No cgo libibverbs binding exists anywhere in the retrieved corpus, so the
// wire-level QueuePair here is a Go interface a real ibverbs
// binding or (for tests, and for single-node Portals4 semantics without
// real hardware) a software loopback can both implement. The algorithm —
// build_sge/process_rdma's outer loop over remote segments and inner loop
// over local segments, bounded by PTL_MAX_RDMA_WR_OUT in-flight requests and
// coalescing completions every PTL_MAX_SEND_COMP_THRESHOLD requests — is
// reproduced faithfully from ptl_rdma.c.
package rdma

import (
	"fmt"
)

// Direction selects whether a target-side transfer reads from, or writes
// to, the remote segment.
type Direction int

const (
	DirIn  Direction = iota // RDMA read: remote -> local
	DirOut                  // RDMA write: local -> remote
)

// SGE is one scatter/gather entry: a local memory region plus the key
// identifying its registration, mirroring struct ibv_sge.
type SGE struct {
	Addr   uintptr
	Length uint32
	LKey   uint32
}

// RemoteSegment is one contiguous remote memory region plus its remote key,
// the unit process_rdma's outer loop iterates over.
type RemoteSegment struct {
	Addr   uint64
	Length uint32
	RKey   uint32
}

// LocalSegments abstracts the local LE/ME memory description: either one
// flat buffer or an indirect iovec, matching build_sge's `me->num_iov`
// branch.
type LocalSegments interface {
	// NumIov returns 0 for a flat segment, >0 for an indirect iovec.
	NumIov() int
	// Flat returns the base address and length of a flat segment; only
	// valid when NumIov() == 0.
	Flat() (addr uintptr, length uint64)
	// Iov returns the base address and length of iovec element i; only
	// valid when NumIov() > 0.
	Iov(i int) (addr uintptr, length uint64)
}

// MRLookup resolves a local [addr, addr+length) range to its registered
// memory region's local key, mirroring mr_lookup.
type MRLookup func(addr uintptr, length uint64) (lkey uint32, err error)

// BuildSGE fills sge (capacity len(sge)) with entries covering up to length
// bytes of local memory starting at (curIndex, curOff) in segs, advancing
// curIndex/curOff as it goes. It returns the entries used and the actual
// number of bytes covered, which may be less than length if sge ran out of
// room or the iovec ended. Grounded on build_sge.
func BuildSGE(segs LocalSegments, curIndex, curOff uint64, sge []SGE, length uint64, lookup MRLookup) (used []SGE, newIndex, newOff uint64, transferred uint64, err error) {
	resid := length
	numSGE := 0
	index := curIndex
	off := curOff

	for resid > 0 {
		var addr uintptr
		var bytes uint64

		if segs.NumIov() > 0 {
			iovAddr, iovLen := segs.Iov(int(index))
			addr = iovAddr + uintptr(off)
			bytes = resid
			if remaining := iovLen - off; bytes > remaining {
				bytes = remaining
			}
		} else {
			flatAddr, _ := segs.Flat()
			addr = flatAddr + uintptr(off)
			bytes = resid
		}

		lkey, lerr := lookup(addr, bytes)
		if lerr != nil {
			return nil, index, off, length - resid, fmt.Errorf("rdma: build sge: %w", lerr)
		}

		sge[numSGE] = SGE{Addr: uintptr(addr), Length: uint32(bytes), LKey: lkey}

		resid -= bytes
		off += bytes

		if segs.NumIov() > 0 {
			_, iovLen := segs.Iov(int(index))
			if off >= iovLen {
				index++
				off = 0
			}
		}

		if bytes > 0 {
			numSGE++
			if numSGE >= len(sge) {
				break
			}
		} else {
			break
		}
	}

	return sge[:numSGE], index, off, length - resid, nil
}

// QueuePair is the minimal ibv_qp surface the engine needs: post one RDMA
// read or write work request.
type QueuePair interface {
	PostRDMA(dir Direction, remoteAddr uint64, rkey uint32, sgl []SGE, signaled bool) error
}

// Limits bounds the engine's behavior the same way PTL_MAX_RDMA_WR_OUT and
// PTL_MAX_SEND_COMP_THRESHOLD bound the original: how many work requests
// may be outstanding before the engine must wait for a completion, and how
// many unsignaled sends accumulate before one is forced to carry a
// completion notification.
type Limits struct {
	MaxOutstandingWR   int
	MaxSGEsPerWR       int
	CompletionThreshold int
}

// DefaultLimits matches the values get_param returns for
// PTL_MAX_RDMA_WR_OUT/PTL_MAX_QP_SEND_SGE/PTL_MAX_SEND_COMP_THRESHOLD in a
// typical deployment.
var DefaultLimits = Limits{
	MaxOutstandingWR:    16,
	MaxSGEsPerWR:        16,
	CompletionThreshold: 8,
}

// CompletionCounter tracks a connection's unsignaled send count, mirroring
// buf->conn->rdma.completion_threshold: once it reaches the configured
// threshold the next send is forced signaled and the counter resets.
type CompletionCounter struct {
	count     int
	threshold int
}

// NewCompletionCounter builds a counter with the given threshold.
func NewCompletionCounter(threshold int) *CompletionCounter {
	return &CompletionCounter{threshold: threshold}
}

// ShouldSignal increments the counter and reports whether this send must
// carry a signaled completion.
func (c *CompletionCounter) ShouldSignal() bool {
	c.count++
	if c.count >= c.threshold {
		c.count = 0
		return true
	}
	return false
}

// Engine drives the process_rdma outer loop: transfer length bytes between
// a sequence of RemoteSegments and a LocalSegments, issuing bounded RDMA
// work requests.
type Engine struct {
	qp     QueuePair
	lookup MRLookup
	limits Limits
}

// NewEngine builds an engine posting work requests through qp.
func NewEngine(qp QueuePair, lookup MRLookup, limits Limits) *Engine {
	return &Engine{qp: qp, lookup: lookup, limits: limits}
}

// TransferState carries the resumable position of an in-progress transfer
// across calls to Transfer, mirroring the cur_loc_iov_index/off and
// cur_rem_sge/off fields threaded through buf->rdma.
type TransferState struct {
	LocalIndex  uint64
	LocalOffset uint64

	RemoteSegs  []RemoteSegment
	RemoteIndex int
	RemoteOffset uint64

	Resid uint64
}

// Transfer issues RDMA work requests until state.Resid reaches zero, the
// engine hits MaxOutstandingWR outstanding requests, or a work request is
// posted signaled because the completion counter's threshold came due,
// whichever comes first,
// returning the number of work requests posted in this call and whether a
// completion was requested (meaning the caller must wait for it before
// calling Transfer again, since unlike the CQ-driven original this engine
// has no background completion poller of its own).
func (e *Engine) Transfer(dir Direction, segs LocalSegments, state *TransferState, counter *CompletionCounter) (postedWR int, awaitCompletion bool, err error) {
	sgeBuf := make([]SGE, e.limits.MaxSGEsPerWR)

	for state.Resid > 0 {
		rem := state.RemoteSegs[state.RemoteIndex]
		remAddr := rem.Addr + state.RemoteOffset
		bytes := state.Resid
		if remaining := uint64(rem.Length) - state.RemoteOffset; bytes > remaining {
			bytes = remaining
		}

		sgl, newIndex, newOff, transferred, berr := BuildSGE(segs, state.LocalIndex, state.LocalOffset, sgeBuf, bytes, e.lookup)
		if berr != nil {
			return postedWR, awaitCompletion, berr
		}

		state.LocalIndex = newIndex
		state.LocalOffset = newOff
		state.Resid -= transferred
		state.RemoteOffset += transferred

		if state.Resid > 0 && state.RemoteOffset >= uint64(rem.Length) {
			state.RemoteIndex++
			state.RemoteOffset = 0
			if state.RemoteIndex >= len(state.RemoteSegs) {
				return postedWR, awaitCompletion, fmt.Errorf("rdma: remote segment list exhausted with %d bytes remaining", state.Resid)
			}
		}

		signaled := counter.ShouldSignal()
		forceFinal := state.Resid == 0
		hitsOutstandingCap := postedWR+1 >= e.limits.MaxOutstandingWR
		if forceFinal || hitsOutstandingCap {
			signaled = true
		}

		if err := e.qp.PostRDMA(dir, remAddr, rem.RKey, sgl, signaled); err != nil {
			return postedWR, awaitCompletion, fmt.Errorf("rdma: post work request: %w", err)
		}
		postedWR++

		if signaled {
			awaitCompletion = true
		}

		if hitsOutstandingCap {
			return postedWR, awaitCompletion, nil
		}
		if signaled {
			break
		}
	}

	return postedWR, awaitCompletion, nil
}
