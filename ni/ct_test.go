// File: ni/ct_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ni

import (
	"sync"
	"testing"

	"github.com/momentics/portals4go/api"
)

func TestCTListAllocLookupFree(t *testing.T) {
	l := newCTList(0, 4)
	h, ct, err := l.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	got, err := l.Lookup(h)
	if err != nil || got != ct {
		t.Fatalf("Lookup mismatch: got=%v err=%v", got, err)
	}
	if err := l.Free(h); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if _, err := l.Lookup(h); err == nil {
		t.Fatal("Lookup after Free should fail (generation bumped on release)")
	}
}

func TestCTListExhaustion(t *testing.T) {
	l := newCTList(0, 1)
	if _, _, err := l.Alloc(); err != nil {
		t.Fatalf("first Alloc: %v", err)
	}
	if _, _, err := l.Alloc(); err != api.ErrNoSpace {
		t.Fatalf("second Alloc err = %v, want ErrNoSpace", err)
	}
}

func TestCTListHandleGenerationDefeatsReuse(t *testing.T) {
	l := newCTList(0, 1)
	h1, _, _ := l.Alloc()
	l.Free(h1)
	h2, _, err := l.Alloc()
	if err != nil {
		t.Fatalf("realloc: %v", err)
	}
	if h1 == h2 {
		t.Fatal("reused slot must carry a new generation")
	}
	if _, err := l.Lookup(h1); err == nil {
		t.Fatal("stale handle from before Free must not resolve")
	}
}

func TestCTIncMonotonicAndGetLockFree(t *testing.T) {
	ct := &CT{}
	ct.Inc(3, 0)
	ct.Inc(0, 2)
	ev := ct.Get()
	if ev.Success != 3 || ev.Failure != 2 {
		t.Fatalf("Get() = %+v, want success=3 failure=2", ev)
	}
	if !ev.Reached(5) {
		t.Fatal("Reached(5) should be true for success+failure==5")
	}
	if ev.Reached(6) {
		t.Fatal("Reached(6) should be false for success+failure==5")
	}
}

func TestCTConcurrentInc(t *testing.T) {
	ct := &CT{}
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ct.Inc(1, 0)
		}()
	}
	wg.Wait()
	if got := ct.Get().Success; got != 100 {
		t.Fatalf("Success = %d, want 100", got)
	}
}

func TestCTWaiterWokenOnInc(t *testing.T) {
	ct := &CT{}
	ch := ct.addWaiter()
	ct.Inc(1, 0)
	select {
	case <-ch:
	default:
		t.Fatal("waiter channel should be closed after Inc")
	}
}
