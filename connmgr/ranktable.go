// File: connmgr/ranktable.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RankTable tracks every known peer's connection and elects, per NID, the
// single "main rank" responsible for breaking ties on simultaneous connect
// attempts from both sides — the lowest-ranked live PID on that NID wins,
// matching the tie-break the original gives two ranks that dial each other
// at the same time.
package connmgr

import "sync"

// RankTable is the idempotent registry of peer connections a process
// maintains: one Connection per Addr, created on first reference.
type RankTable struct {
	mu      sync.Mutex
	conns   map[Addr]*Connection
	factory func(Addr) *Connection
}

// NewRankTable builds an empty table; factory constructs a fresh Connection
// for a peer seen for the first time.
func NewRankTable(factory func(Addr) *Connection) *RankTable {
	return &RankTable{conns: make(map[Addr]*Connection), factory: factory}
}

// GetOrCreate returns the existing Connection for addr, or builds one via
// factory and registers it. Idempotent: concurrent callers racing on the
// same addr all observe the same *Connection.
func (t *RankTable) GetOrCreate(addr Addr) *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[addr]; ok {
		return c
	}
	c := t.factory(addr)
	t.conns[addr] = c
	return c
}

// Remove drops addr from the table, e.g. once it's been idle and
// disconnected long enough to reclaim.
func (t *RankTable) Remove(addr Addr) {
	t.mu.Lock()
	delete(t.conns, addr)
	t.mu.Unlock()
}

// Snapshot returns every currently tracked Addr, for diagnostics and tests.
func (t *RankTable) Snapshot() []Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	addrs := make([]Addr, 0, len(t.conns))
	for a := range t.conns {
		addrs = append(addrs, a)
	}
	return addrs
}

// ElectMainRank picks, among the live PIDs sharing a NID, the one that owns
// tie-breaking for simultaneous connects: the numerically lowest PID.
// Returns ok=false if livePIDs is empty.
func ElectMainRank(livePIDs []PID) (main PID, ok bool) {
	if len(livePIDs) == 0 {
		return 0, false
	}
	main = livePIDs[0]
	for _, p := range livePIDs[1:] {
		if p < main {
			main = p
		}
	}
	return main, true
}

// ShouldYield reports whether the local PID should yield to the remote PID
// when both sides attempt to connect at the same time: the higher PID
// yields and waits for the lower PID's Connect to land, so exactly one side
// drives the handshake.
func ShouldYield(local, remote PID) bool {
	return local > remote
}

// RankEntry is the per-rank bookkeeping an XRC-style rank table keeps:
// which NID/PID a rank lives on, which PID on that NID won main-rank
// election, the remote XRC shared-receive-queue index non-main ranks
// address through the main connection, and the Connection this rank's
// traffic actually uses.
type RankEntry struct {
	Rank               PID
	MainRank           PID
	NID                NID
	PID                PID
	RemoteXRCSRQNumber uint32
	Connection         *Connection
}

// IsMain reports whether this entry's rank is the NID's elected main rank.
func (e RankEntry) IsMain() bool {
	return e.Rank == e.MainRank
}

// RankDirectory consolidates every local rank sharing a NID onto the
// elected main rank's Connection: only the main rank dials the peer NID,
// every other rank queues its traffic onto that same shared Connection
// instead of opening one of its own, matching the XRC shared-receive-queue
// model.
type RankDirectory struct {
	mu      sync.Mutex
	entries map[PID]RankEntry
	table   *RankTable
}

// NewRankDirectory builds a directory that resolves Connections through
// table.
func NewRankDirectory(table *RankTable) *RankDirectory {
	return &RankDirectory{entries: make(map[PID]RankEntry), table: table}
}

// Set records rank's membership on nid under mainRank, resolving (via the
// directory's RankTable, idempotently) the single Connection every rank on
// this NID shares: the main rank's own Connection to Addr{nid, mainRank}.
// Calling Set for several ranks with the same (mainRank, nid) all resolve
// to the identical *Connection, since RankTable.GetOrCreate is idempotent
// on Addr.
func (d *RankDirectory) Set(rank, mainRank PID, nid NID, srqNumber uint32) RankEntry {
	conn := d.table.GetOrCreate(Addr{NID: nid, PID: mainRank})
	e := RankEntry{
		Rank:               rank,
		MainRank:           mainRank,
		NID:                nid,
		PID:                rank,
		RemoteXRCSRQNumber: srqNumber,
		Connection:         conn,
	}
	d.mu.Lock()
	d.entries[rank] = e
	d.mu.Unlock()
	return e
}

// ConnectionFor returns the Connection rank's traffic should route through
// (the main rank's shared Connection, including when rank is itself the
// main rank), or nil if rank was never registered via Set.
func (d *RankDirectory) ConnectionFor(rank PID) *Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[rank]
	if !ok {
		return nil
	}
	return e.Connection
}

// Entry returns the RankEntry registered for rank, or ok=false if unknown.
func (d *RankDirectory) Entry(rank PID) (RankEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[rank]
	return e, ok
}
