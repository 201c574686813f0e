// File: ni/ni.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// NI is the top-level Network Interface object tying together the portal
// table and the MD/CT/EQ/ME/LE object lists, grounded on ptl_ni.h's ni_t
// and spec §3's NI entity: "{id(NID,PID), kind, limits, current_usage,
// portal_table[], md_list, ct_list, mr_list, send_list, recv_list,
// mode_state}". mode_state is Logical (rank-mapped, main-rank elected) or
// Physical (direct NID/PID addressing), matching the two NI kinds
// PtlNIInit accepts.
package ni

import (
	"sync"

	"github.com/momentics/portals4go/api"
	"github.com/momentics/portals4go/connmgr"
	"github.com/momentics/portals4go/control"
	"github.com/momentics/portals4go/handle"
	"github.com/momentics/portals4go/pool"
)

// Kind selects matching vs. non-matching, and logical vs. physical
// addressing, mirroring the four PTL_NI_* init flags.
type Kind int

const (
	KindMatching Kind = iota
	KindNonMatching
)

// AddressMode selects whether the NI maps ranks through a SetMap table
// (Logical) or addresses peers directly by NID/PID (Physical).
type AddressMode int

const (
	AddressLogical AddressMode = iota
	AddressPhysical
)

// LogicalState is the mode_state variant for a logical NI: a SetMap'd
// rank table plus main-rank election bookkeeping. directory consolidates
// every local rank sharing this NI's NID onto the elected main rank's
// Connection, per RankEntry.
type LogicalState struct {
	mu         sync.Mutex
	mapSet     bool
	rankToAddr []connmgr.Addr
	isMain     bool
	mainRank   connmgr.PID
	ranks      *connmgr.RankTable
	directory  *connmgr.RankDirectory
}

// PhysicalState is the mode_state variant for a physical NI: peers are
// addressed directly, connections keyed by Addr without a rank indirection.
type PhysicalState struct {
	mu    sync.Mutex
	conns *connmgr.RankTable
}

// NI is one initialized network interface instance.
type NI struct {
	Index int

	ID   connmgr.Addr
	Kind Kind
	Mode AddressMode

	Limits       Limits
	currentUsage usageCounters

	Portals *PortalTable
	MDs     *MDList
	CTs     *CTList
	EQs     *EQList
	Entries *EntryList

	Logical  *LogicalState
	Physical *PhysicalState

	numaPool *pool.NUMAPool
	bufPool  *numaBufferPool
	cfg      *control.ConfigStore
	debug    *control.DebugProbes

	mu    sync.Mutex
	final bool
}

type usageCounters struct {
	mds, cts, eqs, entries int
}

// NIInit constructs an NI with the given id, kind/mode and desired limits,
// clamped via Clamp. Mirrors PtlNIInit's single-call setup of every object
// list the NI will own, and GracefulShutdown/Control wiring for operators.
func NIInit(index int, id connmgr.Addr, kind Kind, mode AddressMode, desired Limits, connFactory func(connmgr.Addr) *connmgr.Connection) *NI {
	lim := Clamp(desired)
	n := &NI{
		Index:   index,
		ID:      id,
		Kind:    kind,
		Mode:    mode,
		Limits:  lim,
		Entries: newEntryList(index, lim.MaxEntries),
		MDs:     newMDList(index, lim.MaxMDs),
		CTs:     newCTList(index, lim.MaxCTs),
		EQs:     newEQList(index, lim.MaxEQs, 256),
		cfg:     control.NewConfigStore(),
		debug:   control.NewDebugProbes(),
	}
	n.Portals = newPortalTable(index, lim.MaxPTIndices, n.Entries)
	n.debug.RegisterProbe("usage", func() any {
		n.mu.Lock()
		defer n.mu.Unlock()
		return n.currentUsage
	})
	control.RegisterPlatformProbes(n.debug)

	// Every Connection this NI's RankTable builds gets id.PID recorded as
	// its local side, so Connection.Start's ShouldYield tie-break has a
	// real local PID to compare against the peer's instead of the zero
	// value.
	wrappedFactory := connFactory
	if connFactory != nil {
		wrappedFactory = func(a connmgr.Addr) *connmgr.Connection {
			c := connFactory(a)
			c.SetLocalPID(id.PID)
			return c
		}
	}
	switch mode {
	case AddressLogical:
		ranks := connmgr.NewRankTable(wrappedFactory)
		n.Logical = &LogicalState{ranks: ranks, directory: connmgr.NewRankDirectory(ranks)}
	case AddressPhysical:
		n.Physical = &PhysicalState{conns: connmgr.NewRankTable(wrappedFactory)}
	}
	return n
}

// BindNUMA attaches a NUMA-local buffer pool to the NI, sized for bufSize
// byte registrations on the given node. Subsequent AllocBuffer calls draw
// from node-local memory on platforms that support it instead of the
// default allocator, keeping an MD's backing bytes close to the CPU the
// NI's PPE client is pinned to.
func (n *NI) BindNUMA(node, bufSize int, enable bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.numaPool = pool.NewNUMAPool(node, bufSize, enable)
	n.bufPool = &numaBufferPool{inner: n.numaPool}
}

// numaBufferPool adapts *pool.NUMAPool to api.BufferPool/api.Releaser, for
// callers that want the zero-copy Buffer contract (Release()-on-the-value)
// instead of bare []byte/FreeBuffer plumbing.
type numaBufferPool struct {
	inner *pool.NUMAPool

	mu    sync.Mutex
	stats api.BufferPoolStats
}

func (b *numaBufferPool) Get(size int, numaPreferred int) api.Buffer {
	buf := b.inner.Get()
	if len(buf) < size {
		buf = make([]byte, size)
	}
	b.mu.Lock()
	b.stats.TotalAlloc++
	b.stats.InUse++
	if b.stats.NUMAStats == nil {
		b.stats.NUMAStats = make(map[int]int64)
	}
	b.stats.NUMAStats[b.inner.Node()]++
	b.mu.Unlock()
	return api.Buffer{Data: buf[:size], NUMA: b.inner.Node(), Pool: b}
}

func (b *numaBufferPool) Put(buf api.Buffer) {
	b.inner.Put(buf.Data)
	b.mu.Lock()
	b.stats.TotalFree++
	b.stats.InUse--
	b.mu.Unlock()
}

func (b *numaBufferPool) Stats() api.BufferPoolStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// BufferPool returns the NI's api.BufferPool, or nil if BindNUMA has not
// been called yet.
func (n *NI) BufferPool() api.BufferPool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.bufPool == nil {
		return nil
	}
	return n.bufPool
}

// AllocManagedBuffer is AllocBuffer wrapped in an api.Buffer whose Release
// method returns it to this NI's NUMA pool directly, for callers that want
// a self-releasing handle instead of pairing AllocBuffer with a separate
// FreeBuffer call.
func (n *NI) AllocManagedBuffer(size int) api.Buffer {
	n.mu.Lock()
	bp := n.bufPool
	n.mu.Unlock()
	if bp == nil {
		return api.Buffer{Data: n.AllocBuffer(size)}
	}
	return bp.Get(size, 0)
}

// AllocBuffer returns a zeroed buffer suitable for MDBind, drawn from the
// NI's NUMA pool if BindNUMA was called, or a plain allocation otherwise.
func (n *NI) AllocBuffer(size int) []byte {
	n.mu.Lock()
	p := n.numaPool
	n.mu.Unlock()
	if p == nil {
		return make([]byte, size)
	}
	buf := p.Get()
	if len(buf) < size {
		return make([]byte, size)
	}
	for i := range buf {
		buf[i] = 0
	}
	return buf[:size]
}

// FreeBuffer returns buf to the NI's NUMA pool, a no-op if BindNUMA was
// never called.
func (n *NI) FreeBuffer(buf []byte) {
	n.mu.Lock()
	p := n.numaPool
	n.mu.Unlock()
	if p != nil {
		p.Put(buf)
	}
}

// Finalize implements api.GracefulShutdown: it marks the NI terminal so
// further operations fail with ErrUninitialized, mirroring PtlNIFini.
// Outstanding MD/CT/EQ/ME/LE references are left to their own refcounts —
// Finalize does not forcibly reclaim objects still referenced elsewhere.
func (n *NI) Finalize() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.final {
		return api.ErrUninitialized
	}
	n.final = true
	return nil
}

// Shutdown satisfies api.GracefulShutdown.
func (n *NI) Shutdown() error { return n.Finalize() }

// checkLive returns ErrUninitialized once Finalize has run, the gate every
// public NI operation must pass first.
func (n *NI) checkLive() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.final {
		return api.ErrUninitialized
	}
	return nil
}

// SetMap installs the rank-to-address table for a logical NI. Mirrors
// PtlSetMap: idempotent only in the sense of rejecting a second call —
// "SetMap twice on the same NI" is an ErrInvalidArgument per the testable
// property that rank maps are fixed for the NI's lifetime once set.
func (n *NI) SetMap(mapping []connmgr.Addr) error {
	if err := n.checkLive(); err != nil {
		return err
	}
	if n.Logical == nil {
		return api.ErrInvalidArgument
	}
	n.Logical.mu.Lock()
	defer n.Logical.mu.Unlock()
	if n.Logical.mapSet {
		return api.ErrInvalidArgument
	}
	n.Logical.rankToAddr = append([]connmgr.Addr(nil), mapping...)
	n.Logical.mapSet = true
	return nil
}

// GetMap returns a copy of the previously installed rank map, or
// ErrInvalidArgument if SetMap has not yet run.
func (n *NI) GetMap() ([]connmgr.Addr, error) {
	if err := n.checkLive(); err != nil {
		return nil, err
	}
	if n.Logical == nil {
		return nil, api.ErrInvalidArgument
	}
	n.Logical.mu.Lock()
	defer n.Logical.mu.Unlock()
	if !n.Logical.mapSet {
		return nil, api.ErrInvalidArgument
	}
	return append([]connmgr.Addr(nil), n.Logical.rankToAddr...), nil
}

// ElectMain runs main-rank election over the given live PIDs and records
// the result, mirroring the "main rank per NID" convergence property. Every
// live PID is also registered in the NI's RankDirectory against the winner,
// so ConnectionFor(rank) afterward returns the same shared Connection (the
// main rank's) for every rank on this NID — the XRC consolidation spec §3
// and §6 require of non-main ranks.
func (n *NI) ElectMain(livePIDs []connmgr.PID) (connmgr.PID, bool) {
	main, ok := connmgr.ElectMainRank(livePIDs)
	if !ok {
		return 0, false
	}
	if n.Logical != nil {
		n.Logical.mu.Lock()
		n.Logical.mainRank = main
		n.Logical.isMain = main == n.ID.PID
		dir := n.Logical.directory
		n.Logical.mu.Unlock()
		if dir != nil {
			for _, rank := range livePIDs {
				dir.Set(rank, main, n.ID.NID, 0)
			}
		}
	}
	return main, true
}

// IsMainRank reports whether this NI's PID won main-rank election.
func (n *NI) IsMainRank() bool {
	if n.Logical == nil {
		return false
	}
	n.Logical.mu.Lock()
	defer n.Logical.mu.Unlock()
	return n.Logical.isMain
}

// ConnectionFor returns the Connection rank's traffic should actually use:
// the elected main rank's shared Connection for this NID, per RankEntry
// consolidation, or nil if rank was never passed to ElectMain (or this is a
// physical-addressing NI, which has no rank indirection).
func (n *NI) ConnectionFor(rank connmgr.PID) *connmgr.Connection {
	if n.Logical == nil {
		return nil
	}
	n.Logical.mu.Lock()
	dir := n.Logical.directory
	n.Logical.mu.Unlock()
	if dir == nil {
		return nil
	}
	return dir.ConnectionFor(rank)
}

// RankEntry returns the RankEntry this NI recorded for rank via ElectMain,
// or ok=false if rank is unknown.
func (n *NI) RankEntry(rank connmgr.PID) (connmgr.RankEntry, bool) {
	if n.Logical == nil {
		return connmgr.RankEntry{}, false
	}
	n.Logical.mu.Lock()
	dir := n.Logical.directory
	n.Logical.mu.Unlock()
	if dir == nil {
		return connmgr.RankEntry{}, false
	}
	return dir.Entry(rank)
}

// GetConfig implements api.Control.
func (n *NI) GetConfig() map[string]any {
	return map[string]any{
		"max_entries":     n.Limits.MaxEntries,
		"max_mds":         n.Limits.MaxMDs,
		"max_cts":         n.Limits.MaxCTs,
		"max_eqs":         n.Limits.MaxEQs,
		"max_pt_indices":  n.Limits.MaxPTIndices,
		"max_atomic_size": n.Limits.MaxAtomicSize,
	}
}

// SetConfig implements api.Control; NI limits are fixed at NIInit time so
// this only accepts an empty/no-op update, mirroring the absence of any
// PtlSetOption-style live-resize call in the target API.
func (n *NI) SetConfig(cfg map[string]any) error {
	if len(cfg) == 0 {
		return nil
	}
	return api.ErrNotSupported
}

// Stats implements api.Control, reporting live object-list usage.
func (n *NI) Stats() map[string]any {
	n.mu.Lock()
	usage := n.currentUsage
	n.mu.Unlock()
	return map[string]any{
		"mds_in_use":     usage.mds,
		"cts_in_use":     usage.cts,
		"eqs_in_use":     usage.eqs,
		"entries_in_use": usage.entries,
	}
}

// OnReload implements api.Control, registering fn against the NI's config
// store; NotifyReload fires every registered listener.
func (n *NI) OnReload(fn func()) {
	n.cfg.OnReload(fn)
}

// NotifyReload fires every listener registered through OnReload, mirroring
// an operator pushing a (possibly empty) config update.
func (n *NI) NotifyReload() {
	n.cfg.SetConfig(map[string]any{})
}

// RegisterDebugProbe implements api.Control, adding name/fn to the NI's
// debug probe registry; DebugState reflects every registered probe.
func (n *NI) RegisterDebugProbe(name string, fn func() any) {
	n.debug.RegisterProbe(name, fn)
}

// DebugState returns the current output of every registered debug probe,
// including the built-in "usage" probe registered at NIInit.
func (n *NI) DebugState() map[string]any {
	return n.debug.DumpState()
}

// PtlGetUid returns the uid associated with this NI's process. The Data
// Model tracks no identity beyond a rank's own PID, so that's what this
// mirrors PtlGetUid with.
func (n *NI) PtlGetUid() connmgr.PID {
	return n.ID.PID
}

// PtlGetId returns this NI's own address (logical rank's NID/PID, or the
// physical NID/PID for a physical NI), mirroring PtlGetId.
func (n *NI) PtlGetId() connmgr.Addr {
	return n.ID
}

// PtlGetPhysId resolves rank's logical address to its underlying physical
// NID/PID pair via the installed SetMap table, mirroring PtlGetPhysId. A
// physical NI has no rank indirection, so it returns the NI's own Addr.
func (n *NI) PtlGetPhysId(rank int) (connmgr.Addr, error) {
	if n.Logical == nil {
		return n.ID, nil
	}
	m, err := n.GetMap()
	if err != nil {
		return connmgr.Addr{}, err
	}
	if rank < 0 || rank >= len(m) {
		return connmgr.Addr{}, api.ErrInvalidArgument
	}
	return m[rank], nil
}

// NIStatus is the PtlNIStatus snapshot: whether the NI is still live, and
// its current MD/CT/EQ/entry usage.
type NIStatus struct {
	Live  bool
	Usage map[string]any
}

// PtlNIStatus reports whether this NI is still live and its current
// object-list usage, mirroring PtlNIStatus.
func (n *NI) PtlNIStatus() NIStatus {
	n.mu.Lock()
	live := !n.final
	n.mu.Unlock()
	return NIStatus{Live: live, Usage: n.Stats()}
}

// PtlNIHandle returns the opaque handle identifying this NI itself,
// mirroring PtlNIHandle: every other object handle's ni_index field
// dereferences back to this same NI.
func (n *NI) PtlNIHandle() handle.Handle {
	return handle.Encode(n.Index, handle.KindNI, 0, 0)
}

var (
	_ api.Control          = (*NI)(nil)
	_ api.GracefulShutdown = (*NI)(nil)
)
