// File: ops/types_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ops

import (
	"testing"

	"github.com/momentics/portals4go/api"
)

func TestValidateAtomicRejectsOversizedLength(t *testing.T) {
	req := AtomicRequest{Request: Request{Length: 8192}, Op: OpSum, Datatype: Uint64}
	if err := ValidateAtomic(req, 4096, false); err != api.ErrInvalidArgument {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestValidateAtomicRejectsNonMultipleOfWidth(t *testing.T) {
	req := AtomicRequest{Request: Request{Length: 5}, Op: OpSum, Datatype: Uint32}
	if err := ValidateAtomic(req, 4096, false); err != api.ErrInvalidArgument {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestValidateAtomicRejectsFloatForBinaryOp(t *testing.T) {
	req := AtomicRequest{Request: Request{Length: 8}, Op: OpBAND, Datatype: Double}
	if err := ValidateAtomic(req, 4096, false); err != api.ErrInvalidArgument {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestValidateAtomicRejectsSwapFamilyOutsideSwapEntry(t *testing.T) {
	req := AtomicRequest{Request: Request{Length: 4}, Op: OpCSwap, Datatype: Float}
	if err := ValidateAtomic(req, 4096, false); err != api.ErrInvalidArgument {
		t.Fatalf("Atomic/FetchAtomic with CSWAP must be rejected, got %v", err)
	}
}

func TestValidateAtomicSwapDatatypeRejection(t *testing.T) {
	// Scenario 4: PtlSwap with datatype PTL_FLOAT and op PTL_CSWAP returns
	// PTL_ARG_INVALID without enqueuing a command.
	req := AtomicRequest{Request: Request{Length: 4}, Op: OpCSwap, Datatype: Float}
	if err := ValidateAtomic(req, 4096, true); err != api.ErrInvalidArgument {
		t.Fatalf("CSwap on Float must be rejected, got %v", err)
	}
	// Plain Swap (no comparison) on a float is still legal through the
	// Swap entry point.
	plain := AtomicRequest{Request: Request{Length: 4}, Op: OpSwap, Datatype: Float}
	if err := ValidateAtomic(plain, 4096, true); err != nil {
		t.Fatalf("plain Swap on Float should be valid, got %v", err)
	}
}

func TestValidateAtomicRejectsNonSwapOpThroughSwapEntry(t *testing.T) {
	req := AtomicRequest{Request: Request{Length: 8}, Op: OpSum, Datatype: Uint64}
	if err := ValidateAtomic(req, 4096, true); err != api.ErrInvalidArgument {
		t.Fatalf("PtlSwap must reject a non-swap-family op, got %v", err)
	}
}

func TestValidateRequestChecksPTIndexBounds(t *testing.T) {
	req := Request{PTIndex: 10}
	if err := ValidateRequest(req, 4); err != api.ErrInvalidArgument {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	if err := ValidateRequest(Request{PTIndex: 2}, 4); err != nil {
		t.Fatalf("in-bounds PTIndex err = %v, want nil", err)
	}
}

func TestDatatypeWidths(t *testing.T) {
	cases := map[Datatype]int{
		Int8: 1, Uint8: 1, Int16: 2, Uint16: 2,
		Int32: 4, Uint32: 4, Float: 4,
		Int64: 8, Uint64: 8, Double: 8,
	}
	for dt, want := range cases {
		if got := dt.Width(); got != want {
			t.Fatalf("Datatype(%d).Width() = %d, want %d", dt, got, want)
		}
	}
}
