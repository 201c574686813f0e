// File: ni/portal_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ni

import (
	"testing"

	"github.com/momentics/portals4go/api"
	"github.com/momentics/portals4go/handle"
)

func TestPortalTableAllocEnableDisableFree(t *testing.T) {
	entries := newEntryList(0, 8)
	pt := newPortalTable(0, 4, entries)

	idx, err := pt.Alloc(-1, handle.Invalid)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if pt.IsEnabled(idx) {
		t.Fatal("freshly allocated PT index must start disabled")
	}
	if err := pt.Enable(idx); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !pt.IsEnabled(idx) {
		t.Fatal("Enable should flip IsEnabled true")
	}
	if err := pt.Disable(idx); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if pt.IsEnabled(idx) {
		t.Fatal("Disable should flip IsEnabled false")
	}
	if err := pt.Free(idx); err != nil {
		t.Fatalf("Free: %v", err)
	}
}

func TestPortalTableFreeRejectsLinkedEntries(t *testing.T) {
	entries := newEntryList(0, 8)
	pt := newPortalTable(0, 4, entries)
	idx, _ := pt.Alloc(-1, handle.Invalid)

	h, _, err := entries.Alloc(handle.KindME, Entry{MatchBits: 1, IgnoreBits: 0})
	if err != nil {
		t.Fatalf("entries.Alloc: %v", err)
	}
	if err := pt.Append(idx, ListPriority, h); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := pt.Free(idx); err != api.ErrInvalidArgument {
		t.Fatalf("Free with linked entry err = %v, want ErrInvalidArgument", err)
	}
	if err := pt.Unlink(idx, h); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if err := pt.Free(idx); err != nil {
		t.Fatalf("Free after Unlink: %v", err)
	}
}

func TestPortalTableRequestedIndexRejectsDoubleAlloc(t *testing.T) {
	entries := newEntryList(0, 8)
	pt := newPortalTable(0, 4, entries)
	if _, err := pt.Alloc(2, handle.Invalid); err != nil {
		t.Fatalf("first Alloc(2): %v", err)
	}
	if _, err := pt.Alloc(2, handle.Invalid); err != api.ErrNoSpace {
		t.Fatalf("second Alloc(2) err = %v, want ErrNoSpace", err)
	}
}

func TestPortalTableMatchSearchesPriorityBeforeOverflow(t *testing.T) {
	entries := newEntryList(0, 8)
	pt := newPortalTable(0, 4, entries)
	idx, _ := pt.Alloc(-1, handle.Invalid)

	hOverflow, _, _ := entries.Alloc(handle.KindME, Entry{MatchBits: 5, IgnoreBits: 0})
	pt.Append(idx, ListOverflow, hOverflow)
	hPriority, _, _ := entries.Alloc(handle.KindME, Entry{MatchBits: 5, IgnoreBits: 0})
	pt.Append(idx, ListPriority, hPriority)

	got, _, ok := pt.Match(idx, 5, entries)
	if !ok {
		t.Fatal("Match should find a candidate")
	}
	if got != hPriority {
		t.Fatal("Match must prefer the priority list over overflow")
	}
}

func TestPortalTableMatchRespectsIgnoreBits(t *testing.T) {
	entries := newEntryList(0, 8)
	pt := newPortalTable(0, 4, entries)
	idx, _ := pt.Alloc(-1, handle.Invalid)

	h, _, _ := entries.Alloc(handle.KindME, Entry{MatchBits: 0b1010, IgnoreBits: 0b0001})
	pt.Append(idx, ListPriority, h)

	if _, _, ok := pt.Match(idx, 0b1010, entries); !ok {
		t.Fatal("exact match should hit")
	}
	if _, _, ok := pt.Match(idx, 0b1011, entries); !ok {
		t.Fatal("match differing only in an ignored bit should still hit")
	}
	if _, _, ok := pt.Match(idx, 0b1000, entries); ok {
		t.Fatal("match differing in a non-ignored bit should miss")
	}
}
