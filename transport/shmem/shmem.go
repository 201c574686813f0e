// File: transport/shmem/shmem.go
// Package shmem implements the intra-node shared-memory transport: ranks on
// the same node announce themselves in a shared pid table, then exchange
// messages through per-rank lock-free FIFOs living in a single shared
// arena.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on ptl_shmem.c's setup_shmem/shmem_enqueue/shmem_dequeue. In the
// original, rank 0 creates a named shared segment that every other rank
// opens; here the Arena is ordinary Go memory that the ranks' Transports
// share by pointer, and no shared segment is mapped. Each rank writes its
// presence into a pid table slot and spins until every sibling has done
// the same. Each rank
// gets its own FIFO inside the arena (here, one per-rank LockFreeQueue), and
// Process's dequeue-then-enqueue-the-return step means every KindShmemSend
// a rank processes produces exactly one KindShmemReturn back on the
// sender's own queue, so the sender can reclaim the buffer it sent.
//
// The original's setup_shmem retry loop has a dead exhaustion check
// (`if (try_count >= 100000)` against a counter that only ever counts down
// from 100), so a slow rank 0 spins forever instead of failing cleanly.
// Announce here takes a context.Context and returns ctx.Err() on deadline
// instead.
package shmem

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/momentics/portals4go/internal/concurrency"
)

// Kind distinguishes a payload-carrying send from the return acknowledgment
// that lets its sender reclaim the send buffer, matching the Buffer type
// enum (CmdMsg, RDMASendWR, ShmemSend, ShmemReturn) every buffer on the
// wire carries.
type Kind int

const (
	// KindShmemSend is an ordinary rank-to-rank payload.
	KindShmemSend Kind = iota
	// KindShmemReturn is the acknowledgment Process enqueues back onto the
	// sender's own queue once it has processed a KindShmemSend, so the
	// sender knows it may reuse the buffer Frame referenced.
	KindShmemReturn
)

// Message is one payload handed between same-node ranks. Frame carries
// whatever the NI/ops layer needs (a Put descriptor, an Atomic request,
// etc.); Transport itself is payload-agnostic.
type Message struct {
	SrcRank int
	Kind    Kind
	Frame   []byte
}

const queueCapacityPerRank = 1024

// pidSlot mirrors shmem_pid_table: an announcing rank's identity plus a
// valid flag set last so readers never observe a partially written ID.
type pidSlot struct {
	id    atomic.Uint64
	valid atomic.Uint32
}

// Arena is the shared state every rank on a node maps: a pid table sized to
// the node, and one inbound queue per rank.
type Arena struct {
	nodeSize int
	pids     []pidSlot
	queues   []*concurrency.LockFreeQueue[Message]
}

// NewArena builds an arena for nodeSize ranks. The arena is plain Go
// memory, not pages obtained through xpmem, so only Transports in the same
// process that hold this *Arena share it; this matches the teacher's buffer-pool split
// between "what the allocator hands out" and "how it's addressed".
func NewArena(nodeSize int) *Arena {
	a := &Arena{
		nodeSize: nodeSize,
		pids:     make([]pidSlot, nodeSize),
		queues:   make([]*concurrency.LockFreeQueue[Message], nodeSize),
	}
	for i := range a.queues {
		a.queues[i] = concurrency.NewLockFreeQueue[Message](queueCapacityPerRank)
	}
	return a
}

// Transport is one rank's handle onto a shared Arena.
type Transport struct {
	arena *Arena
	rank  int

	mu        sync.Mutex
	connected []bool
}

// NewTransport binds rank's transport to arena. rank must be in
// [0, arena.nodeSize).
func NewTransport(arena *Arena, rank int) (*Transport, error) {
	if rank < 0 || rank >= arena.nodeSize {
		return nil, fmt.Errorf("shmem: rank %d out of range [0,%d)", rank, arena.nodeSize)
	}
	return &Transport{arena: arena, rank: rank, connected: make([]bool, arena.nodeSize)}, nil
}

// Announce publishes this rank's presence in the pid table and waits for
// every other rank on the node to do the same, mirroring setup_shmem's
// announce/spin-wait loop but bounded by ctx instead of a dead counter.
func (t *Transport) Announce(ctx context.Context, id uint64) error {
	slot := &t.arena.pids[t.rank]
	slot.id.Store(id)
	slot.valid.Store(1) // release semantics via atomic store after id is set

	for i := 0; i < t.arena.nodeSize; i++ {
		for t.arena.pids[i].valid.Load() == 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("shmem: announce: waiting for rank %d: %w", i, ctx.Err())
			default:
			}
		}
		t.mu.Lock()
		t.connected[i] = true
		t.mu.Unlock()
	}
	return nil
}

// PeerID returns the announced identity of rank i, or ok=false if it has
// not announced yet.
func (t *Transport) PeerID(i int) (id uint64, ok bool) {
	slot := &t.arena.pids[i]
	if slot.valid.Load() == 0 {
		return 0, false
	}
	return slot.id.Load(), true
}

// Connected reports whether rank i has completed Announce, from this rank's
// point of view.
func (t *Transport) Connected(i int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected[i]
}

// Send enqueues frame on dest's inbound queue as a KindShmemSend. Mirrors
// shmem_enqueue: the sender always writes to the destination's own queue,
// never its own.
func (t *Transport) Send(dest int, frame []byte) error {
	if dest < 0 || dest >= t.arena.nodeSize {
		return fmt.Errorf("shmem: send: dest rank %d out of range", dest)
	}
	msg := Message{SrcRank: t.rank, Kind: KindShmemSend, Frame: frame}
	if !t.arena.queues[dest].Enqueue(msg) {
		return fmt.Errorf("shmem: send: destination rank %d queue full", dest)
	}
	return nil
}

// Recv dequeues the next message addressed to this rank, whether a
// KindShmemSend or a KindShmemReturn. ok is false if nothing is queued.
// Mirrors shmem_dequeue. Most callers want Process instead, which also
// generates the return a KindShmemSend owes its sender; Recv is for a
// sender pulling its own ShmemReturn acknowledgments back off its queue.
func (t *Transport) Recv() (msg Message, ok bool) {
	return t.arena.queues[t.rank].Dequeue()
}

// RecvBlocking spins on Recv until a message arrives or ctx is canceled,
// matching shmem_dequeue's SPINLOCK_BODY wait loop at call sites.
func (t *Transport) RecvBlocking(ctx context.Context) (Message, error) {
	for {
		if msg, ok := t.Recv(); ok {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		default:
		}
	}
}

// Process dequeues the next message addressed to this rank, applies fn to
// it, and — only when the message was a KindShmemSend — enqueues exactly
// one KindShmemReturn back onto the sender's own queue (arena.queues[msg.
// SrcRank]) so the sender can reclaim the buffer Frame referenced. A
// KindShmemReturn handed to fn generates no further return, so a
// ShmemSend/ShmemReturn pair can never recurse. ok is false if nothing was
// queued for this rank; the returned error is fn's error, or the error
// enqueuing the return, whichever happens first.
func (t *Transport) Process(fn func(Message) error) (ok bool, err error) {
	msg, ok := t.Recv()
	if !ok {
		return false, nil
	}
	if ferr := fn(msg); ferr != nil {
		return true, ferr
	}
	if msg.Kind != KindShmemSend {
		return true, nil
	}
	ret := Message{SrcRank: t.rank, Kind: KindShmemReturn, Frame: msg.Frame}
	if !t.arena.queues[msg.SrcRank].Enqueue(ret) {
		return true, fmt.Errorf("shmem: process: return to rank %d queue full", msg.SrcRank)
	}
	return true, nil
}
