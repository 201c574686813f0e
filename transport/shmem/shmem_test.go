// File: transport/shmem/shmem_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package shmem

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAnnounceAllRanksConverge(t *testing.T) {
	const n = 4
	arena := NewArena(n)

	transports := make([]*Transport, n)
	for i := 0; i < n; i++ {
		tr, err := NewTransport(arena, i)
		if err != nil {
			t.Fatalf("NewTransport(%d): %v", i, err)
		}
		transports[i] = tr
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = transports[i].Announce(ctx, uint64(1000+i))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("rank %d Announce: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if !transports[i].Connected(j) {
				t.Fatalf("rank %d never saw rank %d as connected", i, j)
			}
			id, ok := transports[i].PeerID(j)
			if !ok || id != uint64(1000+j) {
				t.Fatalf("rank %d PeerID(%d) = (%d,%v), want (%d,true)", i, j, id, ok, 1000+j)
			}
		}
	}
}

func TestAnnounceTimesOutWithoutHanging(t *testing.T) {
	arena := NewArena(2)
	tr, err := NewTransport(arena, 0)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := tr.Announce(ctx, 1); err == nil {
		t.Fatal("Announce should time out when rank 1 never shows up")
	}
}

func TestSendRecvPairing(t *testing.T) {
	arena := NewArena(2)
	a, _ := NewTransport(arena, 0)
	b, _ := NewTransport(arena, 1)

	if err := a.Send(1, []byte("potato")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msg, ok := b.Recv()
	if !ok {
		t.Fatal("Recv found nothing after Send")
	}
	if msg.SrcRank != 0 || string(msg.Frame) != "potato" {
		t.Fatalf("Recv got %+v, want SrcRank=0 Frame=potato", msg)
	}

	if _, ok := a.Recv(); ok {
		t.Fatal("sender's own queue should not have received its own message")
	}
}

func TestProcessEnqueuesExactlyOneReturn(t *testing.T) {
	arena := NewArena(2)
	a, _ := NewTransport(arena, 0)
	b, _ := NewTransport(arena, 1)

	if err := a.Send(1, []byte("potato")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var processed []byte
	ok, err := b.Process(func(msg Message) error {
		processed = msg.Frame
		return nil
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !ok {
		t.Fatal("Process found nothing to dequeue")
	}
	if string(processed) != "potato" {
		t.Fatalf("processed frame = %q, want potato", processed)
	}

	ret, ok := a.Recv()
	if !ok {
		t.Fatal("sender never received its ShmemReturn")
	}
	if ret.Kind != KindShmemReturn {
		t.Fatalf("Kind = %v, want KindShmemReturn", ret.Kind)
	}
	if ret.SrcRank != 1 {
		t.Fatalf("return SrcRank = %d, want 1 (the processing rank)", ret.SrcRank)
	}

	// Exactly one return: a second dequeue on the sender's queue finds
	// nothing further queued.
	if _, ok := a.Recv(); ok {
		t.Fatal("sender's queue should have exactly one return, not more")
	}

	// Processing the return itself must not generate a further return.
	ok, err = a.Process(func(msg Message) error {
		if msg.Kind != KindShmemReturn {
			t.Fatalf("expected to process a KindShmemReturn, got %v", msg.Kind)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Process (return): %v", err)
	}
	if !ok {
		t.Fatal("Process found nothing to dequeue for the return")
	}
	if _, ok := b.Recv(); ok {
		t.Fatal("processing a ShmemReturn must not enqueue a further return")
	}
}

func TestRecvBlockingWaitsThenReturns(t *testing.T) {
	arena := NewArena(2)
	a, _ := NewTransport(arena, 0)
	b, _ := NewTransport(arena, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = a.Send(1, []byte("late"))
	}()

	msg, err := b.RecvBlocking(ctx)
	if err != nil {
		t.Fatalf("RecvBlocking: %v", err)
	}
	if string(msg.Frame) != "late" {
		t.Fatalf("Frame = %q, want late", msg.Frame)
	}
}
