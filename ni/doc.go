// Package ni implements the Network Interface core: resource limits, the
// portal table and its ME/LE matching lists, the MD/CT/EQ object pools, and
// the top-level NI lifecycle (NIInit/Finalize, SetMap/GetMap, main-rank
// election) that the ops layer builds Put/Get/Atomic on top of.
package ni
