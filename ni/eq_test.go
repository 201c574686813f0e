// File: ni/eq_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ni

import (
	"testing"

	"github.com/momentics/portals4go/api"
)

func TestEQPostPollOrder(t *testing.T) {
	eq := newEQ(4)
	eq.Post(EventRecord{Type: EventPutComplete, Length: 1})
	eq.Post(EventRecord{Type: EventGetComplete, Length: 2})

	ev, ok := eq.Poll()
	if !ok || ev.Type != EventPutComplete || ev.Length != 1 {
		t.Fatalf("first Poll = %+v, ok=%v", ev, ok)
	}
	ev, ok = eq.Poll()
	if !ok || ev.Type != EventGetComplete || ev.Length != 2 {
		t.Fatalf("second Poll = %+v, ok=%v", ev, ok)
	}
	if _, ok := eq.Poll(); ok {
		t.Fatal("Poll on drained EQ should return ok=false")
	}
}

func TestEQOverwritesOldestWhenFull(t *testing.T) {
	eq := newEQ(2)
	eq.Post(EventRecord{Length: 1})
	eq.Post(EventRecord{Length: 2})
	eq.Post(EventRecord{Length: 3}) // ring holds 2 slots; this overwrites the first

	if d := eq.Dropped(); d != 1 {
		t.Fatalf("Dropped() = %d, want 1", d)
	}
	ev, ok := eq.Poll()
	if !ok || ev.Length != 2 {
		t.Fatalf("Poll after overwrite = %+v, want Length=2", ev)
	}
}

func TestEQListAllocLookupFree(t *testing.T) {
	l := newEQList(0, 2, 8)
	h, eq, err := l.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	eq.Post(EventRecord{Length: 42})

	got, err := l.Lookup(h)
	if err != nil || got != eq {
		t.Fatalf("Lookup mismatch: got=%v err=%v", got, err)
	}
	if err := l.Free(h); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if _, err := l.Lookup(h); err == nil {
		t.Fatal("Lookup after Free should fail")
	}
}

func TestEQListExhaustion(t *testing.T) {
	l := newEQList(0, 1, 4)
	if _, _, err := l.Alloc(); err != nil {
		t.Fatalf("first Alloc: %v", err)
	}
	if _, _, err := l.Alloc(); err != api.ErrNoSpace {
		t.Fatalf("second Alloc err = %v, want ErrNoSpace", err)
	}
}
