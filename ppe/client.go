// File: ppe/client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on ptl_light_lib.c's PtlInit/PtlFini: a per-process reference
// count so the first PtlInit performs the real hello handshake and the last
// matching PtlFini tears it down, while nested Init/Fini pairs are cheap.

package ppe

import (
	"context"
	"fmt"
	"sync"

	"github.com/momentics/portals4go/affinity"
)

// Client is a process's connection to one PPE server: the hello mailbox
// used once to register, plus the steady-state command queue used for every
// operation after.
type Client struct {
	mu        sync.Mutex
	refCount  int
	finalized bool

	hello *Hello
	queue *Queue

	// pinCPU, when >= 0, is the CPU the calling goroutine is pinned to on
	// the first Init, keeping the client's command-queue polling local to
	// the NUMA node the shared arena was mapped from. -1 disables pinning.
	pinCPU int
	pinned bool
}

// NewClient builds a client bound to an already-mapped hello mailbox and
// command queue (obtained from the shared arena via xpmem.Import).
func NewClient(hello *Hello, queue *Queue) *Client {
	return &Client{hello: hello, queue: queue, pinCPU: -1}
}

// NewClientPinned is NewClient plus a CPU to pin the first Init's calling
// goroutine to, for a client whose arena was mapped from a specific NUMA
// node's memory.
func NewClientPinned(hello *Hello, queue *Queue, cpu int) *Client {
	return &Client{hello: hello, queue: queue, pinCPU: cpu}
}

// Init performs the hello handshake on the first call in this process and
// increments the reference count on every call. Mirrors PtlInit's
// ref_cnt/finalized bookkeeping under per_proc_gbl_mutex.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finalized {
		return fmt.Errorf("ppe: Init called after Fini")
	}

	if c.refCount == 0 {
		if c.pinCPU >= 0 && !c.pinned {
			if err := affinity.SetAffinity(c.pinCPU); err == nil {
				c.pinned = true
			}
			// A pin failure (unsupported platform, permission denied) is
			// not fatal: the client still works, just without NUMA
			// locality, so Init proceeds either way.
		}
		if err := c.hello.Reserve(ctx); err != nil {
			return fmt.Errorf("ppe: init: %w", err)
		}
		c.hello.Submit()
		if err := c.hello.AwaitReply(ctx); err != nil {
			return fmt.Errorf("ppe: init: %w", err)
		}
		c.hello.Reset()
	}

	c.refCount++
	return nil
}

// Fini decrements the reference count; the last Fini marks the client
// finalized so a later misuse of Init is rejected rather than silently
// re-initializing.
func (c *Client) Fini() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refCount == 0 {
		return fmt.Errorf("ppe: Fini called with refcount already 0")
	}
	c.refCount--
	if c.refCount == 0 {
		c.finalized = true
	}
	return nil
}

// Call forwards op/payload to the server over the steady-state queue.
func (c *Client) Call(ctx context.Context, op OpCode, payload any) (any, error) {
	return c.queue.Call(ctx, op, payload)
}

// StartBundle and EndBundle bracket a sequence of operations; they do not
// batch or amortize the calls between them. Upstream's PtlStartBundle/PtlEndBundle are no-ops because its
// transport doesn't buffer bundled calls either; this client behaves the
// same way until a batching transport exists to make bundling meaningful.
func (c *Client) StartBundle() error { return nil }
func (c *Client) EndBundle() error   { return nil }
