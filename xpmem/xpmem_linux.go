//go:build linux

// File: xpmem/xpmem_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// shm_open is a libc wrapper around opening /dev/shm/<name>; with no cgo in
// this corpus we reproduce it directly with unix.Open, matching the teacher's
// (deleted) io_uring ring mapping's use of golang.org/x/sys/unix.Mmap.

package xpmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func shmPath(name string) string {
	return "/dev/shm/" + name
}

func createAndMap(name string, size int) ([]byte, error) {
	fd, err := unix.Open(shmPath(name), unix.O_CREAT|unix.O_RDWR|unix.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", shmPath(name), err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	return mapFd(fd, size)
}

func openAndMap(name string, size int) ([]byte, error) {
	fd, err := unix.Open(shmPath(name), unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", shmPath(name), err)
	}
	defer unix.Close(fd)

	return mapFd(fd, size)
}

func mapFd(fd, size int) ([]byte, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return data, nil
}

func unmapSegment(data []byte) error {
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}

func unlinkSegment(name string) error {
	err := unix.Unlink(shmPath(name))
	if err != nil && err != unix.ENOENT {
		return fmt.Errorf("unlink %q: %w", shmPath(name), err)
	}
	return nil
}
