// File: ops/atomic.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// applyAtomicElement performs one Atomic/FetchAtomic/Swap operator over a
// single little-endian-encoded datatype element, mirroring the per-element
// reduction ptl_atomic.c applies across a buffer one datatype width at a
// time.
package ops

import (
	"encoding/binary"
	"fmt"
	"math"
)

func applyAtomicElement(op AtomicOp, dt Datatype, dst, src, operand []byte) error {
	if dt.IsFloatingPoint() {
		return applyAtomicFloat(op, dt, dst, src, operand)
	}
	return applyAtomicInt(op, dt, dst, src, operand)
}

func loadUint(dt Datatype, b []byte) uint64 {
	switch dt.Width() {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func storeUint(dt Datatype, b []byte, v uint64) {
	switch dt.Width() {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}

func applyAtomicInt(op AtomicOp, dt Datatype, dst, src, operand []byte) error {
	a := loadUint(dt, dst)
	b := loadUint(dt, src)
	signed := dt == Int8 || dt == Int16 || dt == Int32 || dt == Int64

	var result uint64
	switch op {
	case OpMin:
		if signedLess(signed, dt, a, b) {
			result = a
		} else {
			result = b
		}
	case OpMax:
		if signedLess(signed, dt, a, b) {
			result = b
		} else {
			result = a
		}
	case OpSum:
		result = a + b
	case OpProd:
		result = a * b
	case OpLOR:
		result = boolToUint(a != 0 || b != 0)
	case OpLAND:
		result = boolToUint(a != 0 && b != 0)
	case OpBOR:
		result = a | b
	case OpBAND:
		result = a & b
	case OpLXOR:
		result = boolToUint((a != 0) != (b != 0))
	case OpBXOR:
		result = a ^ b
	case OpSwap:
		result = b
	case OpCSwap:
		operandVal := loadUint(dt, operand)
		if a == operandVal {
			result = b
		} else {
			result = a
		}
	case OpMSwap:
		mask := loadUint(dt, operand)
		result = (a &^ mask) | (b & mask)
	default:
		return fmt.Errorf("ops: unsupported atomic op %v for integer datatype", op)
	}
	storeUint(dt, dst, result)
	return nil
}

func signedLess(signed bool, dt Datatype, a, b uint64) bool {
	if !signed {
		return a < b
	}
	switch dt.Width() {
	case 1:
		return int8(a) < int8(b)
	case 2:
		return int16(a) < int16(b)
	case 4:
		return int32(a) < int32(b)
	default:
		return int64(a) < int64(b)
	}
}

func boolToUint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func applyAtomicFloat(op AtomicOp, dt Datatype, dst, src, operand []byte) error {
	load := func(b []byte) float64 {
		if dt == Float {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	store := func(b []byte, v float64) {
		if dt == Float {
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
			return
		}
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}

	a := load(dst)
	b := load(src)
	var result float64
	switch op {
	case OpMin:
		result = math.Min(a, b)
	case OpMax:
		result = math.Max(a, b)
	case OpSum:
		result = a + b
	case OpProd:
		result = a * b
	case OpSwap:
		result = b
	case OpCSwap:
		if a == load(operand) {
			result = b
		} else {
			result = a
		}
	default:
		// OpLOR/LAND/BOR/BAND/LXOR/BXOR/MSwap are rejected for floating
		// datatypes by ValidateAtomic before this is ever reached.
		return fmt.Errorf("ops: unsupported atomic op %v for floating datatype", op)
	}
	store(dst, result)
	return nil
}
