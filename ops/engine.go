// File: ops/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine dispatches validated operations to a target's matched ME/LE entry
// and resolves them through the target state machine
// (Start→Matched→DataIn|DataOut|ShortInline|IndirectSGL→Transferring→
// Cleanup→ReportEvent), updating the target's counting event as the PPE
// would once it dequeues a command; no event is posted to an event queue
// on either side. The actual
// byte movement goes through the same loopback registration table the
// rdma package's tests exercise (transport/rdma.RegistrationTable),
// grounded on process_rdma's data-movement step; transport *selection*
// (shmem for same-node, rdma otherwise) is the PPE's job and is exercised
// independently by the transport/shmem and transport/rdma package tests —
// this engine's Peers map stands in for "the PPE already picked a route
// and handed the engine a live peer" so the operation-layer invariants in
// spec §8 can be tested without standing up a second process.
package ops

import (
	"fmt"
	"sync"

	"github.com/momentics/portals4go/api"
	"github.com/momentics/portals4go/connmgr"
	"github.com/momentics/portals4go/control"
	"github.com/momentics/portals4go/handle"
	"github.com/momentics/portals4go/ni"
	"github.com/momentics/portals4go/transport/rdma"
)

// Engine is the operation-layer driver for one local NI.
type Engine struct {
	Local   *ni.NI
	Regs    *rdma.RegistrationTable
	Trig    *TriggeredQueue
	Metrics *control.MetricsRegistry

	mu    sync.Mutex
	peers map[connmgr.Addr]*Engine
}

// NewEngine builds an Engine over an already-initialized NI.
func NewEngine(n *ni.NI) *Engine {
	return &Engine{
		Local:   n,
		Regs:    rdma.NewRegistrationTable(),
		Trig:    NewTriggeredQueue(),
		Metrics: control.NewMetricsRegistry(),
		peers:   make(map[connmgr.Addr]*Engine),
	}
}

// bumpMetric increments a named counter in e.Metrics by one, reading the
// prior value under the registry's own locking.
func (e *Engine) bumpMetric(name string) {
	snap := e.Metrics.GetSnapshot()
	n, _ := snap[name].(int64)
	e.Metrics.Set(name, n+1)
}

// Connect registers addr as reachable through peer, the in-process stand-in
// for a resolved connmgr.Connection.
func (e *Engine) Connect(addr connmgr.Addr, peer *Engine) {
	e.mu.Lock()
	e.peers[addr] = peer
	e.mu.Unlock()
}

// RegisterBuffer records buf as addressable local memory, returning the MD
// it can be bound to; a Put/Get/Atomic's LocalOffset/Length index into buf.
func (e *Engine) RegisterBuffer(buf []byte) (handle.Handle, *ni.MD, error) {
	e.Regs.Register(buf)
	return e.Local.MDs.Bind(uintptrOf(buf), uint64(len(buf)), nil, 0, handle.Invalid, handle.Invalid)
}

func (e *Engine) resolvePeer(t TargetID) (*Engine, error) {
	addr := t.Physical
	if t.IsLogical {
		m, err := e.Local.GetMap()
		if err != nil {
			return nil, err
		}
		if t.Rank < 0 || int(t.Rank) >= len(m) {
			return nil, api.ErrInvalidArgument
		}
		addr = m[t.Rank]
		if entry, ok := e.Local.RankEntry(connmgr.PID(t.Rank)); ok && !entry.IsMain() {
			// Non-main ranks sharing a NID funnel their traffic through the
			// main rank's connection (XRC consolidation) rather than
			// dialing the peer rank's own slot directly.
			addr = connmgr.Addr{NID: entry.NID, PID: entry.MainRank}
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	peer, ok := e.peers[addr]
	if !ok {
		return nil, api.ErrNetworkFailure
	}
	return peer, nil
}

// deliver finds a matching entry on the receiving engine's portal table
// and applies fn to the matched entry's backing bytes, then reports
// completion on the entry's counting event. It posts nothing to the PT's
// event queue.
func (e *Engine) deliver(ptIndex int, matchBits uint64, length uint64, fn func(dst []byte) error) error {
	if !e.Local.Portals.IsEnabled(ptIndex) {
		return api.ErrInvalidArgument
	}
	_, entry, ok := e.Local.Portals.Match(ptIndex, matchBits, e.Local.Entries)
	if !ok {
		return api.ErrNotFound
	}
	if classify(length, entry.NumIov()) == StateIndirectSGL {
		return api.ErrNotSupported // multi-iovec targets go through transport/rdma's indirect SGL path, not this direct-copy engine
	}
	if entry.Iov != nil {
		return api.ErrNotSupported // single-iovec targets still aren't flat buffers this engine can BytesAt() against
	}
	dst, err := e.Regs.BytesAt(entry.Start, length)
	if err != nil {
		return err
	}
	// Serialize concurrent deliveries against the same entry's backing
	// bytes (e.g. concurrent Atomic(SUM) from many threads), reusing
	// obj.Header's per-object mutex rather than adding a second lock.
	entry.Lock()
	err = fn(dst)
	entry.Unlock()
	if err != nil {
		return err
	}
	e.reportCT(entry.CTHandle, true)
	if entry.UseOnce {
		e.Local.Portals.Unlink(ptIndex, entry.Handle())
	}
	return nil
}

func (e *Engine) reportCT(ct handle.Handle, success bool) {
	if ct == handle.Invalid {
		return
	}
	c, err := e.Local.CTs.Lookup(ct)
	if err != nil {
		return
	}
	var ev ni.Event
	if success {
		ev = c.Inc(1, 0)
	} else {
		ev = c.Inc(0, 1)
	}
	e.Trig.OnCTEvent(ct, ev)
}

// Put moves Length bytes starting at LocalOffset in the MD named by
// req.MDHandle to the target's matched entry, mirroring PtlPut.
func (e *Engine) Put(req Request, buf []byte) error {
	e.bumpMetric("put")
	if err := ValidateRequest(req, e.Local.Limits.MaxPTIndices); err != nil {
		return err
	}
	peer, err := e.resolvePeer(req.Target)
	if err != nil {
		e.reportCT(req.CTHandle, false)
		return err
	}
	data := buf[req.LocalOffset : req.LocalOffset+req.Length]
	err = peer.deliver(req.PTIndex, req.MatchBits, req.Length, func(dst []byte) error {
		copy(dst, data)
		return nil
	})
	e.reportCT(req.CTHandle, err == nil)
	return err
}

// Get fetches Length bytes from the target's matched entry into the MD
// named by req.MDHandle, mirroring PtlGet.
func (e *Engine) Get(req Request, buf []byte) error {
	e.bumpMetric("get")
	if err := ValidateRequest(req, e.Local.Limits.MaxPTIndices); err != nil {
		return err
	}
	peer, err := e.resolvePeer(req.Target)
	if err != nil {
		e.reportCT(req.CTHandle, false)
		return err
	}
	dst := buf[req.LocalOffset : req.LocalOffset+req.Length]
	err = peer.deliver(req.PTIndex, req.MatchBits, req.Length, func(src []byte) error {
		copy(dst, src)
		return nil
	})
	e.reportCT(req.CTHandle, err == nil)
	return err
}

// Atomic applies req.Op between the source buffer and the target's
// matched entry in place, mirroring PtlAtomic.
func (e *Engine) Atomic(req AtomicRequest, buf []byte) error {
	e.bumpMetric("atomic")
	if err := ValidateRequest(req.Request, e.Local.Limits.MaxPTIndices); err != nil {
		return err
	}
	if err := ValidateAtomic(req, e.Local.Limits.MaxAtomicSize, false); err != nil {
		return err
	}
	peer, err := e.resolvePeer(req.Target)
	if err != nil {
		e.reportCT(req.CTHandle, false)
		return err
	}
	src := buf[req.LocalOffset : req.LocalOffset+req.Length]
	err = peer.deliver(req.PTIndex, req.MatchBits, req.Length, func(dst []byte) error {
		return applyAtomic(req.Op, req.Datatype, dst, src, nil)
	})
	e.reportCT(req.CTHandle, err == nil)
	return err
}

// FetchAtomic applies req.Op, additionally returning the target's
// pre-operation value into the GetMD, mirroring PtlFetchAtomic.
func (e *Engine) FetchAtomic(req FetchAtomicRequest, srcBuf, getBuf []byte) error {
	if err := ValidateRequest(req.Request, e.Local.Limits.MaxPTIndices); err != nil {
		return err
	}
	if err := ValidateAtomic(req.AtomicRequest, e.Local.Limits.MaxAtomicSize, false); err != nil {
		return err
	}
	peer, err := e.resolvePeer(req.Target)
	if err != nil {
		e.reportCT(req.CTHandle, false)
		return err
	}
	src := srcBuf[req.LocalOffset : req.LocalOffset+req.Length]
	fetched := getBuf[req.GetLocalOffset : req.GetLocalOffset+req.Length]
	err = peer.deliver(req.PTIndex, req.MatchBits, req.Length, func(dst []byte) error {
		copy(fetched, dst)
		return applyAtomic(req.Op, req.Datatype, dst, src, nil)
	})
	e.reportCT(req.CTHandle, err == nil)
	return err
}

// Swap performs CSWAP/MSWAP/SWAP against the target's matched entry,
// mirroring PtlSwap — the only entry point the Swap family of operators
// may be used through.
func (e *Engine) Swap(req SwapRequest, srcBuf, getBuf, operandBuf []byte) error {
	if err := ValidateRequest(req.Request, e.Local.Limits.MaxPTIndices); err != nil {
		return err
	}
	if err := ValidateAtomic(req.AtomicRequest, e.Local.Limits.MaxAtomicSize, true); err != nil {
		return err
	}
	peer, err := e.resolvePeer(req.Target)
	if err != nil {
		e.reportCT(req.CTHandle, false)
		return err
	}
	src := srcBuf[req.LocalOffset : req.LocalOffset+req.Length]
	fetched := getBuf[req.GetLocalOffset : req.GetLocalOffset+req.Length]
	operand := operandBuf[req.OperandOffset : req.OperandOffset+req.Length]
	err = peer.deliver(req.PTIndex, req.MatchBits, req.Length, func(dst []byte) error {
		copy(fetched, dst)
		return applyAtomic(req.Op, req.Datatype, dst, src, operand)
	})
	e.reportCT(req.CTHandle, err == nil)
	return err
}

// AtomicSync is a barrier that flushes pending atomics on the local NI
// before returning; since this engine applies every Atomic/FetchAtomic/
// Swap synchronously in-place there is nothing in flight to drain, so
// AtomicSync only checks that ct, when one is given, is a live CT handle
// and returns. Triggered atomics still queued against ct are not waited
// for.
func (e *Engine) AtomicSync(ct handle.Handle) error {
	if ct == handle.Invalid {
		return nil
	}
	if _, err := e.Local.CTs.Lookup(ct); err != nil {
		return err
	}
	return nil
}

// TriggeredPut enqueues a Put to fire once ct reaches threshold, or fires
// it immediately if ct has already reached threshold.
func (e *Engine) TriggeredPut(req Request, buf []byte, ct handle.Handle, threshold uint64) error {
	return e.triggerOrRun(ct, threshold, func() { e.Put(req, buf) })
}

// TriggeredGet is the triggered form of Get.
func (e *Engine) TriggeredGet(req Request, buf []byte, ct handle.Handle, threshold uint64) error {
	return e.triggerOrRun(ct, threshold, func() { e.Get(req, buf) })
}

// TriggeredAtomic is the triggered form of Atomic.
func (e *Engine) TriggeredAtomic(req AtomicRequest, buf []byte, ct handle.Handle, threshold uint64) error {
	return e.triggerOrRun(ct, threshold, func() { e.Atomic(req, buf) })
}

func (e *Engine) triggerOrRun(ct handle.Handle, threshold uint64, run func()) error {
	c, err := e.Local.CTs.Lookup(ct)
	if err != nil {
		return err
	}
	if c.Get().Reached(threshold) {
		run()
		return nil
	}
	e.Trig.Add(ct, threshold, func(ni.Event) { run() })
	return nil
}

// CancelTriggered drops every pending triggered op waiting on ct without
// executing them, mirroring CTCancelTriggered.
func (e *Engine) CancelTriggered(ct handle.Handle) {
	e.Trig.Cancel(ct)
}

func applyAtomic(op AtomicOp, dt Datatype, dst, src, operand []byte) error {
	if len(dst) != len(src) {
		return fmt.Errorf("ops: atomic length mismatch: dst=%d src=%d", len(dst), len(src))
	}
	width := dt.Width()
	for off := 0; off < len(dst); off += width {
		a := dst[off : off+width]
		b := src[off : off+width]
		var operandElem []byte
		if operand != nil {
			operandElem = operand[off : off+width]
		}
		if err := applyAtomicElement(op, dt, a, b, operandElem); err != nil {
			return err
		}
	}
	return nil
}
