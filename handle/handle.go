// File: handle/handle.go
// Package handle implements the 64-bit object handle encoding shared by
// every NI object kind (MD, ME/LE, CT, EQ, PT).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Layout, low bit to high: {ni_index (2 bits), type (4 bits),
// generation/index (58 bits)}. A handle is valid iff its ni_index and type
// match the object being dereferenced and the generation stored in the
// handle matches the live generation of the slot at index — generation
// bits defeat reuse-after-free the way the freelist's tagged-pointer
// counter defeats ABA (see pool.Freelist).

package handle

import "fmt"

const (
	niIndexBits = 2
	typeBits    = 4
	genBits     = 32 // leaves 26 bits for the slot index; ample for any NI's object limits

	niIndexMask = (1 << niIndexBits) - 1
	typeMask    = (1 << typeBits) - 1
	genMask     = (1 << genBits) - 1
	indexMask   = (1 << (64 - niIndexBits - typeBits - genBits)) - 1

	typeShift  = niIndexBits
	genShift   = niIndexBits + typeBits
	indexShift = niIndexBits + typeBits + genBits
)

// Kind identifies the object type a handle refers to.
type Kind uint8

const (
	KindMD Kind = iota
	KindME
	KindLE
	KindCT
	KindEQ
	KindPT
	KindNI
)

func (k Kind) String() string {
	switch k {
	case KindMD:
		return "MD"
	case KindME:
		return "ME"
	case KindLE:
		return "LE"
	case KindCT:
		return "CT"
	case KindEQ:
		return "EQ"
	case KindPT:
		return "PT"
	case KindNI:
		return "NI"
	default:
		return "unknown"
	}
}

// Handle is the 64-bit opaque identity exposed to callers for every NI
// object. Invalid is the zero value and never a live handle.
type Handle uint64

// Invalid is returned by operations that fail before allocating an object.
const Invalid Handle = 0

// invalid has niIndex==0,type==0,gen==0,index==0 indistinguishable from a
// real handle unless callers always check errors first (matching Portals4's
// PTL_INVALID_HANDLE convention) — NIIndex 0 type 0 index 0 is reserved by
// never allocating slot 0 of kind 0 on NI 0 without a nonzero generation.

// Encode packs a handle from its fields. niIndex must fit in 2 bits and
// index must fit in the remaining bits; callers violating this get a
// truncated, silently wrong handle (guarded by invariants upstream, not
// re-checked here on the hot path).
func Encode(niIndex int, kind Kind, generation uint32, index uint32) Handle {
	v := uint64(niIndex&niIndexMask) |
		uint64(kind&typeMask)<<typeShift |
		uint64(generation&genMask)<<genShift |
		uint64(index)<<indexShift
	return Handle(v)
}

// Decode unpacks a handle into its fields.
func Decode(h Handle) (niIndex int, kind Kind, generation uint32, index uint32) {
	v := uint64(h)
	niIndex = int(v & niIndexMask)
	kind = Kind((v >> typeShift) & typeMask)
	generation = uint32((v >> genShift) & genMask)
	index = uint32(v >> indexShift)
	return
}

// NIIndex returns just the NI-index field.
func (h Handle) NIIndex() int {
	ni, _, _, _ := Decode(h)
	return ni
}

// Kind returns just the type field.
func (h Handle) Kind() Kind {
	_, k, _, _ := Decode(h)
	return k
}

// Index returns the slot index within the object's arena.
func (h Handle) Index() uint32 {
	_, _, _, idx := Decode(h)
	return idx
}

// Generation returns the generation counter.
func (h Handle) Generation() uint32 {
	_, _, gen, _ := Decode(h)
	return gen
}

// String renders the handle for diagnostics; never used on the hot path.
func (h Handle) String() string {
	ni, kind, gen, idx := Decode(h)
	return fmt.Sprintf("%s(ni=%d,gen=%d,idx=%d)", kind, ni, gen, idx)
}
