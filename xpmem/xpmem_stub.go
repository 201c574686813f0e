//go:build !linux && !windows

// File: xpmem/xpmem_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package xpmem

import "fmt"

func createAndMap(name string, size int) ([]byte, error) {
	return nil, fmt.Errorf("xpmem: cross-process mapping not supported on this platform")
}

func openAndMap(name string, size int) ([]byte, error) {
	return nil, fmt.Errorf("xpmem: cross-process mapping not supported on this platform")
}

func unmapSegment(data []byte) error { return nil }

func unlinkSegment(name string) error { return nil }
