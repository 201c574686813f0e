// File: ppe/channel_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ppe

import (
	"context"
	"testing"
	"time"
)

func TestHelloHandshakeRoundTrip(t *testing.T) {
	h := &Hello{}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- h.ServerAccept(ctx, func(h *Hello) {
			h.Cookie = 42
			h.ArenaSegmentName = "test-arena"
		})
	}()

	if err := h.Reserve(ctx); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	h.PID = 1234
	h.Submit()

	if err := h.AwaitReply(ctx); err != nil {
		t.Fatalf("AwaitReply: %v", err)
	}
	if h.Cookie != 42 || h.ArenaSegmentName != "test-arena" {
		t.Fatalf("reply not applied: cookie=%d name=%q", h.Cookie, h.ArenaSegmentName)
	}
	h.Reset()

	if err := <-serverDone; err != nil {
		t.Fatalf("ServerAccept: %v", err)
	}
	if got := h.level.Load(); got != LevelFree {
		t.Fatalf("level after reset = %v, want LevelFree", got)
	}
}

func TestQueueSubmitPollCompleteRoundTrip(t *testing.T) {
	q := NewQueue(8)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	type req struct{ a, b int }
	entry, err := q.Submit(OpPut, req{a: 2, b: 3})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	popped, ok := q.Poll()
	if !ok || popped != entry {
		t.Fatal("Poll did not return the submitted entry")
	}

	popped.Complete(5, nil)

	if err := entry.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if entry.Reply.(int) != 5 {
		t.Fatalf("Reply = %v, want 5", entry.Reply)
	}
}

func TestServerDispatchesRegisteredHandler(t *testing.T) {
	q := NewQueue(8)
	hello := &Hello{}
	srv := NewServer(hello, q, nil)
	srv.Register(OpPtlInit, func(ctx context.Context, payload any) (any, error) {
		return "ack", nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	entry, err := q.Submit(OpPtlInit, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	served, err := srv.ServeOne(ctx)
	if err != nil {
		t.Fatalf("ServeOne: %v", err)
	}
	if !served {
		t.Fatal("ServeOne reported nothing to serve")
	}

	if err := entry.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if entry.Reply.(string) != "ack" {
		t.Fatalf("Reply = %v, want ack", entry.Reply)
	}
}

func TestServerRunServesQueuedCommand(t *testing.T) {
	q := NewQueue(8)
	hello := &Hello{}
	srv := NewServer(hello, q, nil)
	srv.Register(OpPtlFini, func(ctx context.Context, payload any) (any, error) {
		return "done", nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go srv.Run(ctx)

	reply, err := q.Call(ctx, OpPtlFini, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.(string) != "done" {
		t.Fatalf("reply = %v, want done", reply)
	}
}

func TestClientInitFiniRefcounting(t *testing.T) {
	hello := &Hello{}
	q := NewQueue(8)
	c := NewClient(hello, q)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	srv := NewServer(hello, q, func(h *Hello) {
		h.Cookie = 99
	})
	go func() {
		_ = srv.AcceptHello(ctx)
	}()

	if err := c.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := c.Init(ctx); err != nil {
		t.Fatalf("nested Init: %v", err)
	}

	if err := c.Fini(); err != nil {
		t.Fatalf("first Fini: %v", err)
	}
	if err := c.Fini(); err != nil {
		t.Fatalf("second Fini: %v", err)
	}
	if err := c.Fini(); err == nil {
		t.Fatal("Fini with refcount already 0 should error")
	}
}

func TestPinnedClientInitSucceedsEvenIfPinFails(t *testing.T) {
	// A pin failure (unsupported platform, invalid CPU index) must never
	// block Init: the client degrades to unpinned rather than erroring.
	hello := &Hello{}
	q := NewQueue(8)
	c := NewClientPinned(hello, q, 999)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	srv := NewServer(hello, q, func(h *Hello) { h.Cookie = 1 })
	go func() {
		_ = srv.AcceptHello(ctx)
	}()

	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init with unpinnable CPU: %v", err)
	}
	if err := c.Fini(); err != nil {
		t.Fatalf("Fini: %v", err)
	}
}
