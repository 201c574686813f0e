// File: ni/limits.go
// Package ni implements the Network Interface core: limits, the portal
// table, the object lists (MD/ME/LE/CT/EQ), and NIInit/Finalize lifecycle.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on ptl_ni.h's ni_t struct and ni_limits_t: NIInit reports
// effective limits potentially clamped from the caller's desired values,
// the way the original clamps against compiled-in maxima.
package ni

// Limits bounds the resources a single NI may allocate. Mirrors
// ptl_ni_limits_t's fields relevant to this module's scope.
type Limits struct {
	MaxEntries      int // max ME/LE entries across all portal table indices
	MaxMDs          int
	MaxCTs          int
	MaxEQs          int
	MaxPTIndices    int
	MaxAtomicSize   int // bytes; length ceiling for Atomic/FetchAtomic/Swap
	MaxListSize     int // per-PT-index priority+overflow list capacity
}

// DefaultLimits matches the compiled-in maxima a typical deployment uses
// when the caller passes no explicit desired limits.
var DefaultLimits = Limits{
	MaxEntries:    4096,
	MaxMDs:        1024,
	MaxCTs:        1024,
	MaxEQs:        256,
	MaxPTIndices:  64,
	MaxAtomicSize: 4096,
	MaxListSize:   1024,
}

// Clamp returns desired with every field capped at DefaultLimits' compiled
// maxima, mirroring NIInit's clamp-to-compiled-limits behavior. Zero fields
// in desired are treated as "use the default".
func Clamp(desired Limits) Limits {
	clamp := func(want, max int) int {
		if want <= 0 || want > max {
			return max
		}
		return want
	}
	return Limits{
		MaxEntries:    clamp(desired.MaxEntries, DefaultLimits.MaxEntries),
		MaxMDs:        clamp(desired.MaxMDs, DefaultLimits.MaxMDs),
		MaxCTs:        clamp(desired.MaxCTs, DefaultLimits.MaxCTs),
		MaxEQs:        clamp(desired.MaxEQs, DefaultLimits.MaxEQs),
		MaxPTIndices:  clamp(desired.MaxPTIndices, DefaultLimits.MaxPTIndices),
		MaxAtomicSize: clamp(desired.MaxAtomicSize, DefaultLimits.MaxAtomicSize),
		MaxListSize:   clamp(desired.MaxListSize, DefaultLimits.MaxListSize),
	}
}
