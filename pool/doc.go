// File: pool/doc.go
// Package pool
// Author: momentics <momentics@gmail.com>
//
// Cross-platform pooling layer: a NUMA-aware byte-buffer pool and an
// ABA-safe lock-free index freelist (the slot allocator behind the NI's
// object lists), with NUMA node detection split per OS (Linux/Windows,
// plus a stub for other platforms).
// All core methods are thread-safe or explicitly document the concurrency contract.
package pool
