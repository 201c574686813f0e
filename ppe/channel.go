// File: ppe/channel.go
// Package ppe implements the command-queue channel between a client process
// and the Process Plumbing Engine (PPE) server that owns the actual NI
// state: a shared-memory mailbox advancing through a 4-state handshake
// (0 -> 1 -> 2 -> 3 -> 0) for the initial hello, and a lock-free MPMC queue
// of CommandEntry for everything after.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on ptl_light_lib.c's setup_ppe/switch_cmd_level/transfer_msg: a
// client reserves the single-slot hello field (0->1), fills it, hands it to
// the server (1->2), spins until the server replies (level==3), reads the
// reply, then resets to 0 so the next client can claim it. Steady-state
// traffic uses a separate lock-free queue instead of the single mailbox so
// concurrent operations from one client don't serialize behind the hello
// slot — grounded on internal/concurrency.LockFreeQueue's Vyukov design.
package ppe

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/momentics/portals4go/internal/concurrency"
)

// Level is the 4-state hello handshake state, advanced with CompareAndSwap
// so exactly one waiting client claims the mailbox at a time.
type Level int32

const (
	LevelFree      Level = 0 // mailbox available, no hello in flight
	LevelReserved  Level = 1 // a client claimed the mailbox and is filling it
	LevelSubmitted Level = 2 // client handed the filled mailbox to the server
	LevelReplied   Level = 3 // server wrote its reply; client must read and reset to 0
)

// Hello is the single-slot handshake mailbox used once per client process to
// register with the PPE and learn its cookie and shared arena mapping.
type Hello struct {
	level Level32

	PID              int
	Cookie           uint64
	ArenaSegmentName string
	ArenaSize        int
}

// Level32 is an atomic Level, named distinctly so Hello's zero value is
// LevelFree without an explicit initializer.
type Level32 struct {
	v atomic.Int32
}

func (l *Level32) Load() Level { return Level(l.v.Load()) }

func (l *Level32) compareAndSwap(from, to Level) bool {
	return l.v.CompareAndSwap(int32(from), int32(to))
}

// Reserve claims the mailbox for this client, blocking until no other client
// holds it. Mirrors switch_cmd_level(pad, 0, 1).
func (h *Hello) Reserve(ctx context.Context) error {
	for !h.level.compareAndSwap(LevelFree, LevelReserved) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("ppe: reserve hello mailbox: %w", ctx.Err())
		default:
		}
	}
	return nil
}

// Submit hands the filled-in mailbox to the server. Mirrors
// switch_cmd_level(pad, 1, 2).
func (h *Hello) Submit() {
	h.level.v.Store(int32(LevelSubmitted))
}

// AwaitReply blocks until the server has written LevelReplied, or ctx is
// canceled. The dead `try_count >= 100000` retry-exhaustion check in the
// original setup_shmem is replaced here with a real context deadline: the
// caller decides how long to wait.
func (h *Hello) AwaitReply(ctx context.Context) error {
	for h.level.Load() != LevelReplied {
		select {
		case <-ctx.Done():
			return fmt.Errorf("ppe: await hello reply: %w", ctx.Err())
		default:
		}
	}
	return nil
}

// Reset releases the mailbox for the next waiting client. Mirrors
// switch_cmd_level(pad, 3, 0).
func (h *Hello) Reset() {
	h.level.v.Store(int32(LevelFree))
}

// ServerAccept is called by the PPE server: it waits for a submitted hello,
// invokes handle to fill in the reply fields, marks it replied, and returns.
// It does not reset the mailbox; the client does that once it has read the
// reply.
func (h *Hello) ServerAccept(ctx context.Context, handle func(*Hello)) error {
	for h.level.Load() != LevelSubmitted {
		select {
		case <-ctx.Done():
			return fmt.Errorf("ppe: server accept: %w", ctx.Err())
		default:
		}
	}
	handle(h)
	h.level.v.Store(int32(LevelReplied))
	return nil
}

// OpCode identifies which Portals4 operation a CommandEntry carries.
type OpCode int32

const (
	OpPtlInit OpCode = iota
	OpPtlFini
	OpNIInit
	OpNIFini
	OpPTAlloc
	OpPTFree
	OpPTEnable
	OpPTDisable
	OpMDBind
	OpMEAppend
	OpMEUnlink
	OpLEAppend
	OpLEUnlink
	OpCTAlloc
	OpCTFree
	OpCTGet
	OpCTSet
	OpEQAlloc
	OpEQFree
	OpPut
	OpGet
	OpAtomic
	OpFetchAtomic
	OpSwap
	OpTriggeredPut
	OpTriggeredGet
	OpTriggeredAtomic
	OpTriggeredCTSet
)

// CommandEntry is the tagged-union message exchanged over the steady-state
// queue: one client-filled request plus a server-filled reply, paired by
// Cookie so a stale or duplicate reply can never be mistaken for a new one.
type CommandEntry struct {
	Op       OpCode
	Cookie   uint64
	Payload  any
	Reply    any
	Err      error
	done     chan struct{}
}

// newCommandEntry builds a CommandEntry ready to submit, with its
// completion channel preallocated.
func newCommandEntry(op OpCode, cookie uint64, payload any) *CommandEntry {
	return &CommandEntry{Op: op, Cookie: cookie, Payload: payload, done: make(chan struct{})}
}

// Complete is called by the server once it has processed the entry; it
// unblocks the client's Await.
func (c *CommandEntry) Complete(reply any, err error) {
	c.Reply = reply
	c.Err = err
	close(c.done)
}

// Await blocks until the server completes the entry or ctx is canceled.
func (c *CommandEntry) Await(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queue is the steady-state client<->server command channel: a fixed
// capacity lock-free MPMC ring, one per NI, shared across all of a client's
// goroutines and drained by the PPE server's dispatch loop.
type Queue struct {
	entries *concurrency.LockFreeQueue[*CommandEntry]
	cookies atomic.Uint64
}

// NewQueue builds a command queue with room for capacity in-flight entries.
func NewQueue(capacity int) *Queue {
	return &Queue{entries: concurrency.NewLockFreeQueue[*CommandEntry](capacity)}
}

// Submit builds a new CommandEntry for op/payload and enqueues it, returning
// the entry so the caller can Await its reply.
func (q *Queue) Submit(op OpCode, payload any) (*CommandEntry, error) {
	cookie := q.cookies.Add(1)
	entry := newCommandEntry(op, cookie, payload)
	if !q.entries.Enqueue(entry) {
		return nil, fmt.Errorf("ppe: command queue full (capacity %d)", q.entries.Cap())
	}
	return entry, nil
}

// Poll pops the next entry for the server to process, or ok=false if empty.
func (q *Queue) Poll() (entry *CommandEntry, ok bool) {
	return q.entries.Dequeue()
}

// Call is the client-side convenience wrapper: submit, wait for completion
// or ctx cancellation, and return the reply.
func (q *Queue) Call(ctx context.Context, op OpCode, payload any) (any, error) {
	entry, err := q.Submit(op, payload)
	if err != nil {
		return nil, err
	}
	if err := entry.Await(ctx); err != nil {
		return nil, fmt.Errorf("ppe: call %v: %w", op, err)
	}
	return entry.Reply, entry.Err
}
