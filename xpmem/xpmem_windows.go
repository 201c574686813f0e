//go:build windows

// File: xpmem/xpmem_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Windows has no XPMEM/KNEM equivalent either; the native primitive for a
// named cross-process mapping is CreateFileMappingW/MapViewOfFile, called
// the same way pool/numa_windows.go reaches kernel32 via syscall.NewLazyDLL
// rather than a cgo binding.

package xpmem

import (
	"fmt"
	"syscall"
	"unsafe"
)

const (
	pageReadWrite        = 0x04
	fileMapAllAccess     = 0xF001F
	invalidHandleValue   = ^uintptr(0)
	errAlreadyExistsCode = 183
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procCreateFileMapping = kernel32.NewProc("CreateFileMappingW")
	procOpenFileMapping   = kernel32.NewProc("OpenFileMappingW")
	procMapViewOfFile     = kernel32.NewProc("MapViewOfFile")
	procUnmapViewOfFile   = kernel32.NewProc("UnmapViewOfFile")
	procCloseHandle       = kernel32.NewProc("CloseHandle")
)

func createAndMap(name string, size int) ([]byte, error) {
	namePtr, err := syscall.UTF16PtrFromString("Local\\" + name)
	if err != nil {
		return nil, err
	}
	h, _, callErr := procCreateFileMapping.Call(
		invalidHandleValue,
		0,
		uintptr(pageReadWrite),
		0,
		uintptr(size),
		uintptr(unsafe.Pointer(namePtr)),
	)
	if h == 0 {
		return nil, fmt.Errorf("CreateFileMappingW: %w", callErr)
	}
	return mapView(h, size)
}

func openAndMap(name string, size int) ([]byte, error) {
	namePtr, err := syscall.UTF16PtrFromString("Local\\" + name)
	if err != nil {
		return nil, err
	}
	h, _, callErr := procOpenFileMapping.Call(
		uintptr(fileMapAllAccess),
		0,
		uintptr(unsafe.Pointer(namePtr)),
	)
	if h == 0 {
		return nil, fmt.Errorf("OpenFileMappingW: %w", callErr)
	}
	return mapView(h, size)
}

func mapView(h uintptr, size int) ([]byte, error) {
	defer procCloseHandle.Call(h)

	addr, _, callErr := procMapViewOfFile.Call(h, uintptr(fileMapAllAccess), 0, 0, uintptr(size))
	if addr == 0 {
		return nil, fmt.Errorf("MapViewOfFile: %w", callErr)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func unmapSegment(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&data[0]))
	ok, _, callErr := procUnmapViewOfFile.Call(addr)
	if ok == 0 {
		return fmt.Errorf("UnmapViewOfFile: %w", callErr)
	}
	return nil
}

func unlinkSegment(name string) error {
	// Windows named file mappings have no separate unlink step: the kernel
	// object is destroyed automatically once every handle and view is
	// closed, which unmapSegment/CloseHandle already drive to zero.
	return nil
}
