// File: ops/addr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ops

import "unsafe"

// uintptrOf returns the address of buf's first byte, or 0 for an empty
// slice, mirroring transport/rdma's addr.go convention for describing a
// registered local buffer by raw address.
func uintptrOf(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}
