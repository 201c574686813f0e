// File: ops/types.go
// Package ops implements the user-facing operation layer: Put/Get/Atomic/
// FetchAtomic/Swap/AtomicSync and their triggered variants, grounded on
// spec §4.8 and ptl_ops.h's datatype/atomic-op enums.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package ops

import (
	"github.com/momentics/portals4go/api"
	"github.com/momentics/portals4go/connmgr"
	"github.com/momentics/portals4go/handle"
)

// Datatype enumerates the element type an Atomic/FetchAtomic/Swap
// operates over, mirroring ptl_datatype_t.
type Datatype int

const (
	Int8 Datatype = iota
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float
	Double
)

// Width returns the element width in bytes, used to validate that a
// request's Length is a multiple of the datatype's width.
func (d Datatype) Width() int {
	switch d {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float:
		return 4
	case Int64, Uint64, Double:
		return 8
	default:
		return 0
	}
}

// IsFloatingPoint reports whether d is Float or Double, the datatypes
// logical and binary atomic ops must reject.
func (d Datatype) IsFloatingPoint() bool {
	return d == Float || d == Double
}

// AtomicOp enumerates the reduction/swap operator, mirroring
// ptl_op_t. Swap/CSwap/MSwap are only valid through the Swap entry
// point, never through Atomic/FetchAtomic.
type AtomicOp int

const (
	OpMin AtomicOp = iota
	OpMax
	OpSum
	OpProd
	OpLOR
	OpLAND
	OpBOR
	OpBAND
	OpLXOR
	OpBXOR
	OpSwap
	OpCSwap
	OpMSwap
)

func (op AtomicOp) isLogicalOrBinary() bool {
	switch op {
	case OpLOR, OpLAND, OpBOR, OpBAND, OpLXOR, OpBXOR:
		return true
	default:
		return false
	}
}

func (op AtomicOp) isSwapFamily() bool {
	return op == OpSwap || op == OpCSwap || op == OpMSwap
}

// TargetID identifies the destination of an operation: either a logical
// rank (resolved through the NI's installed rank map) or a direct
// physical NID/PID pair, matching the two NI addressing modes.
type TargetID struct {
	Rank      int32 // valid iff Physical is the zero value and the NI is logical
	Physical  connmgr.Addr
	IsLogical bool
}

// Request is the common envelope every operation validates before
// enqueueing, mirroring the shared fields ptl_put/ptl_get/... all take.
type Request struct {
	MDHandle     handle.Handle
	LocalOffset  uint64
	Length       uint64
	Target       TargetID
	PTIndex      int
	MatchBits    uint64
	RemoteOffset uint64
	AckRequested bool
	EQHandle     handle.Handle
	CTHandle     handle.Handle
	UserPtr      any
}

// AtomicRequest extends Request with the reduction operator and datatype
// every Atomic/FetchAtomic/Swap call carries.
type AtomicRequest struct {
	Request
	Op       AtomicOp
	Datatype Datatype
}

// FetchAtomicRequest additionally carries the local MD that receives the
// target's pre-operation value.
type FetchAtomicRequest struct {
	AtomicRequest
	GetMDHandle    handle.Handle
	GetLocalOffset uint64
}

// SwapRequest additionally carries the operand buffer for CSWAP/MSWAP
// (the comparison or mask operand).
type SwapRequest struct {
	FetchAtomicRequest
	OperandMDHandle handle.Handle
	OperandOffset   uint64
}

// ValidateRequest checks the argument-validation rules spec §4.8 lists for
// pt_index bounds, and rejects a logical target with a negative rank. It
// does not compare the target's addressing mode with the NI's kind.
// Length/datatype rules live in ValidateAtomic since only atomic-family
// calls carry a datatype.
func ValidateRequest(req Request, maxPTIndex int) error {
	if req.PTIndex < 0 || req.PTIndex >= maxPTIndex {
		return api.ErrInvalidArgument
	}
	if req.Target.IsLogical && req.Target.Rank < 0 {
		return api.ErrInvalidArgument
	}
	return nil
}

// ValidateAtomic applies the additional atomic-family rules: length must
// not exceed maxAtomicSize, length must be a multiple of the datatype's
// width, logical/binary ops forbid float/double operands, and
// Swap/CSwap/MSwap are only valid when called through Swap (checked by
// the caller passing allowSwapFamily=true only from the Swap entry point).
func ValidateAtomic(req AtomicRequest, maxAtomicSize int, allowSwapFamily bool) error {
	if req.Op.isSwapFamily() && !allowSwapFamily {
		return api.ErrInvalidArgument
	}
	if !req.Op.isSwapFamily() && allowSwapFamily {
		return api.ErrInvalidArgument
	}
	width := req.Datatype.Width()
	if width == 0 {
		return api.ErrInvalidArgument
	}
	if req.Length == 0 || int(req.Length) > maxAtomicSize {
		return api.ErrInvalidArgument
	}
	if req.Length%uint64(width) != 0 {
		return api.ErrInvalidArgument
	}
	if req.Op.isLogicalOrBinary() && req.Datatype.IsFloatingPoint() {
		return api.ErrInvalidArgument
	}
	if (req.Op == OpCSwap || req.Op == OpMSwap) && req.Datatype.IsFloatingPoint() {
		return api.ErrInvalidArgument
	}
	return nil
}
