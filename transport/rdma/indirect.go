// File: transport/rdma/indirect.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// FetchIndirectSGL implements process_rdma_desc: when the initiator's
// scatter/gather description doesn't fit inline, it instead ships one
// RemoteSegment pointing at its own memory holding the real (indirect)
// segment list. The target issues a single RDMA read to pull that
// descriptor locally before it can plan the real data transfer.
package rdma

import "fmt"

// IndirectDescriptor is the remote pointer the initiator sends when its
// real scatter/gather list doesn't fit inline: raddr/rkey/length describe
// where the actual RemoteSegment array lives in the initiator's registered
// memory.
type IndirectDescriptor struct {
	Addr   uint64
	RKey   uint32
	Length uint32
}

// DecodeSegments unmarshals raw bytes (as fetched by FetchIndirectSGL) into
// the RemoteSegment list they encode. Each entry is 16 bytes: addr(8) +
// length(4) + rkey(4), little-endian, matching struct ibv_sge's wire layout
// as used elsewhere in this package.
func DecodeSegments(raw []byte) ([]RemoteSegment, error) {
	const entrySize = 16
	if len(raw)%entrySize != 0 {
		return nil, fmt.Errorf("rdma: indirect sgl length %d not a multiple of %d", len(raw), entrySize)
	}
	n := len(raw) / entrySize
	segs := make([]RemoteSegment, n)
	for i := 0; i < n; i++ {
		b := raw[i*entrySize:]
		addr := leUint64(b[0:8])
		length := leUint32(b[8:12])
		rkey := leUint32(b[12:16])
		segs[i] = RemoteSegment{Addr: addr, Length: length, RKey: rkey}
	}
	return segs, nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

// FetchIndirectSGL pulls desc's remote byte range into a freshly allocated
// local buffer via a single signaled RDMA read, then decodes it as a
// RemoteSegment list. alloc and register let callers supply NUMA-aware
// allocation and memory registration rather than this package reaching
// into the pool/MR layers directly.
func FetchIndirectSGL(qp QueuePair, desc IndirectDescriptor, alloc func(size int) []byte, lookup MRLookup) ([]RemoteSegment, error) {
	buf := alloc(int(desc.Length))
	lkey, err := lookup(uintptrOf(buf), uint64(desc.Length))
	if err != nil {
		return nil, fmt.Errorf("rdma: fetch indirect sgl: register local buffer: %w", err)
	}

	sge := SGE{Addr: uintptrOf(buf), Length: desc.Length, LKey: lkey}
	if err := qp.PostRDMA(DirIn, desc.Addr, desc.RKey, []SGE{sge}, true); err != nil {
		return nil, fmt.Errorf("rdma: fetch indirect sgl: post read: %w", err)
	}

	return DecodeSegments(buf)
}
