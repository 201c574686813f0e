// File: ni/me_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ni

import (
	"testing"

	"github.com/momentics/portals4go/api"
	"github.com/momentics/portals4go/handle"
)

func TestEntryListAllocLookupRelease(t *testing.T) {
	l := newEntryList(0, 4)
	h, e, err := l.Alloc(handle.KindLE, Entry{Start: 0x10, Length: 32, IgnoreBits: ^uint64(0)})
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if h.Kind() != handle.KindLE {
		t.Fatalf("handle kind = %v, want KindLE", h.Kind())
	}
	got, err := l.Lookup(h)
	if err != nil || got != e {
		t.Fatalf("Lookup mismatch: got=%v err=%v", got, err)
	}
	if err := l.Release(h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := l.Lookup(h); err == nil {
		t.Fatal("Lookup after Release should fail")
	}
}

func TestEntryListExhaustion(t *testing.T) {
	l := newEntryList(0, 1)
	if _, _, err := l.Alloc(handle.KindME, Entry{}); err != nil {
		t.Fatalf("first Alloc: %v", err)
	}
	if _, _, err := l.Alloc(handle.KindME, Entry{}); err != api.ErrNoSpace {
		t.Fatalf("second Alloc err = %v, want ErrNoSpace", err)
	}
}

func TestEntryMatchesIgnoresDontCareBits(t *testing.T) {
	e := Entry{MatchBits: 0b1100, IgnoreBits: 0b0011}
	if !e.Matches(0b1100) {
		t.Fatal("exact match should hit")
	}
	if !e.Matches(0b1111) {
		t.Fatal("differing only in ignored low bits should still hit")
	}
	if e.Matches(0b1000) {
		t.Fatal("differing in a non-ignored bit should miss")
	}
}

func TestEntryNonMatchingWildcardMatchesAnything(t *testing.T) {
	e := Entry{MatchBits: 0, IgnoreBits: ^uint64(0)}
	if !e.Matches(0xDEADBEEF) {
		t.Fatal("a non-matching-NI LE (ignore all bits) must match any message")
	}
}
