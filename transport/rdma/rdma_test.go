// File: transport/rdma/rdma_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rdma

import (
	"testing"
)

type flatSegments struct {
	addr   uintptr
	length uint64
}

func (f *flatSegments) NumIov() int                          { return 0 }
func (f *flatSegments) Flat() (uintptr, uint64)               { return f.addr, f.length }
func (f *flatSegments) Iov(i int) (uintptr, uint64)           { return 0, 0 }

func newFlatSegments(buf []byte) *flatSegments {
	return &flatSegments{addr: uintptrOf(buf), length: uint64(len(buf))}
}

func TestTransferFlatToFlatRoundTrip(t *testing.T) {
	local := make([]byte, 256)
	remote := make([]byte, 256)
	copy(remote, []byte("the quick brown fox jumps over the lazy dog"))

	table := NewRegistrationTable()
	rkey := table.Register(remote)

	qp := NewLoopbackQueuePair(table, 16)

	localTable := NewRegistrationTable()
	localTable.Register(local)
	engine := NewEngine(qp, MRLookupFor(localTable), DefaultLimits)

	state := &TransferState{
		RemoteSegs: []RemoteSegment{{Addr: uint64(uintptrOf(remote)), Length: uint32(len(remote)), RKey: rkey}},
		Resid:      uint64(len(remote)),
	}
	counter := NewCompletionCounter(DefaultLimits.CompletionThreshold)

	segs := newFlatSegments(local)
	posted, await, err := engine.Transfer(DirIn, segs, state, counter)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if posted == 0 {
		t.Fatal("Transfer posted zero work requests")
	}
	if await {
		qp.Wait()
	}
	if state.Resid != 0 {
		t.Fatalf("Resid = %d, want 0", state.Resid)
	}
	if string(local[:43]) != "the quick brown fox jumps over the lazy dog" {
		t.Fatalf("local buffer after RDMA read = %q", local[:43])
	}
}

func TestTransferWriteDirection(t *testing.T) {
	local := make([]byte, 64)
	copy(local, []byte("hello remote"))
	remote := make([]byte, 64)

	table := NewRegistrationTable()
	rkey := table.Register(remote)
	qp := NewLoopbackQueuePair(table, 16)

	localTable := NewRegistrationTable()
	localTable.Register(local)
	engine := NewEngine(qp, MRLookupFor(localTable), DefaultLimits)

	state := &TransferState{
		RemoteSegs: []RemoteSegment{{Addr: uint64(uintptrOf(remote)), Length: 64, RKey: rkey}},
		Resid:      64,
	}
	counter := NewCompletionCounter(DefaultLimits.CompletionThreshold)

	segs := newFlatSegments(local)
	_, await, err := engine.Transfer(DirOut, segs, state, counter)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if await {
		qp.Wait()
	}
	if string(remote[:12]) != "hello remote" {
		t.Fatalf("remote buffer after RDMA write = %q", remote[:12])
	}
}

func TestTransferForcesSignalAtOutstandingWRCap(t *testing.T) {
	// Four disjoint 8-byte remote segments force four separate WR posts;
	// MaxOutstandingWR=2 and a CompletionThreshold the coalescing counter
	// would never reach on its own (10) means the cap, not the counter,
	// must be what forces signaled=true on the 2nd WR. If it didn't, no
	// completion would ever land on the CQ and qp.Wait() below would hang.
	local := make([]byte, 32)
	remote := make([]byte, 32)
	copy(local, []byte("0123456789abcdef0123456789abcde"))

	table := NewRegistrationTable()
	rkey := table.Register(remote)
	qp := NewLoopbackQueuePair(table, 16)

	localTable := NewRegistrationTable()
	localTable.Register(local)

	limits := Limits{MaxOutstandingWR: 2, MaxSGEsPerWR: 16, CompletionThreshold: 10}
	engine := NewEngine(qp, MRLookupFor(localTable), limits)

	base := uint64(uintptrOf(remote))
	state := &TransferState{
		RemoteSegs: []RemoteSegment{
			{Addr: base, Length: 8, RKey: rkey},
			{Addr: base + 8, Length: 8, RKey: rkey},
			{Addr: base + 16, Length: 8, RKey: rkey},
			{Addr: base + 24, Length: 8, RKey: rkey},
		},
		Resid: 32,
	}
	counter := NewCompletionCounter(limits.CompletionThreshold)

	segs := newFlatSegments(local)
	posted, await, err := engine.Transfer(DirOut, segs, state, counter)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if posted != 2 {
		t.Fatalf("posted = %d, want 2 (stopped at MaxOutstandingWR)", posted)
	}
	if !await {
		t.Fatal("awaitCompletion must be true when the outstanding-WR cap is hit")
	}
	if state.Resid == 0 {
		t.Fatal("transfer should not be complete yet after only 2 of 4 segments")
	}
	// This must not hang: PostRDMA only pushes to the CQ when signaled,
	// so the WR that hit the cap must have been posted with signaled=true.
	qp.Wait()

	posted2, await2, err := engine.Transfer(DirOut, segs, state, counter)
	if err != nil {
		t.Fatalf("Transfer (2nd call): %v", err)
	}
	if state.Resid != 0 {
		t.Fatalf("Resid after 2nd call = %d, want 0", state.Resid)
	}
	if await2 {
		qp.Wait()
	}
	_ = posted2
	if string(remote) != string(local) {
		t.Fatalf("remote = %q, want %q", remote, local)
	}
}

func TestCompletionCounterSignalsAtThreshold(t *testing.T) {
	c := NewCompletionCounter(3)
	if c.ShouldSignal() {
		t.Fatal("should not signal on 1st send with threshold 3")
	}
	if c.ShouldSignal() {
		t.Fatal("should not signal on 2nd send with threshold 3")
	}
	if !c.ShouldSignal() {
		t.Fatal("should signal on 3rd send with threshold 3")
	}
	if c.ShouldSignal() {
		t.Fatal("counter should have reset after signaling")
	}
}

func TestDecodeSegmentsRoundTrip(t *testing.T) {
	raw := make([]byte, 32)
	// two entries, little-endian addr(8) length(4) rkey(4)
	putLE64(raw[0:8], 0x1000)
	putLE32(raw[8:12], 128)
	putLE32(raw[12:16], 7)
	putLE64(raw[16:24], 0x2000)
	putLE32(raw[24:28], 256)
	putLE32(raw[28:32], 9)

	segs, err := DecodeSegments(raw)
	if err != nil {
		t.Fatalf("DecodeSegments: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("len(segs) = %d, want 2", len(segs))
	}
	if segs[0].Addr != 0x1000 || segs[0].Length != 128 || segs[0].RKey != 7 {
		t.Fatalf("segs[0] = %+v", segs[0])
	}
	if segs[1].Addr != 0x2000 || segs[1].Length != 256 || segs[1].RKey != 9 {
		t.Fatalf("segs[1] = %+v", segs[1])
	}
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putLE32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func TestDecodeSegmentsRejectsMisalignedLength(t *testing.T) {
	if _, err := DecodeSegments(make([]byte, 17)); err == nil {
		t.Fatal("expected error for non-multiple-of-16 length")
	}
}
