// File: xpmem/xpmem.go
// Package xpmem implements cross-process shared-memory segment export,
// import, and release: the SegmentHandle abstraction that lets one process
// hand another process a live mapping onto the same physical memory without
// a copy.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The reference implementation binds to XPMEM or KNEM, two Linux kernel
// modules with no cgo headers anywhere in the retrieved corpus. This package
// grounds the same contract on what the corpus does show: unix.Mmap/shm_open
// in the teacher's (deleted) io_uring ring-buffer mapping code, generalized
// from an anonymous-fd mapping to a named POSIX shared memory object so a
// second process can open the same name and land on the same pages.
package xpmem

import (
	"fmt"
	"sync"
)

// SegmentHandle is the opaque, process-portable identity of an exported
// memory segment. A receiving process calls Import with the same Name to
// obtain its own local mapping onto the identical bytes.
type SegmentHandle struct {
	Name string
	Size int
}

// Segment is a live local mapping of a SegmentHandle: Data points at
// process-local virtual memory backed by the shared pages.
type Segment struct {
	Handle SegmentHandle
	Data   []byte

	refs int32
	mu   sync.Mutex
}

// Exporter owns the set of segments this process has exported and tracks
// import reference counts so Release is idempotent: importing the same
// segment twice returns the same Segment and requires two Releases.
type Exporter struct {
	mu       sync.Mutex
	imported map[string]*Segment
}

// NewExporter builds an empty segment table.
func NewExporter() *Exporter {
	return &Exporter{imported: make(map[string]*Segment)}
}

// Export creates a new named shared segment of size bytes and returns a
// handle other processes can Import. The local mapping is also returned so
// the exporting process can use it directly.
func (e *Exporter) Export(name string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("xpmem: invalid segment size %d", size)
	}
	data, err := createAndMap(name, size)
	if err != nil {
		return nil, fmt.Errorf("xpmem: export %q: %w", name, err)
	}
	seg := &Segment{Handle: SegmentHandle{Name: name, Size: size}, Data: data, refs: 1}

	e.mu.Lock()
	e.imported[name] = seg
	e.mu.Unlock()
	return seg, nil
}

// Import maps an existing named segment into this process's address space.
// Repeated imports of the same name by the same Exporter increment a
// reference count and return the same *Segment rather than remapping.
func (e *Exporter) Import(h SegmentHandle) (*Segment, error) {
	e.mu.Lock()
	if seg, ok := e.imported[h.Name]; ok {
		seg.mu.Lock()
		seg.refs++
		seg.mu.Unlock()
		e.mu.Unlock()
		return seg, nil
	}
	e.mu.Unlock()

	data, err := openAndMap(h.Name, h.Size)
	if err != nil {
		return nil, fmt.Errorf("xpmem: import %q: %w", h.Name, err)
	}
	seg := &Segment{Handle: h, Data: data, refs: 1}

	e.mu.Lock()
	e.imported[h.Name] = seg
	e.mu.Unlock()
	return seg, nil
}

// Release drops a reference to seg. When the last reference is dropped the
// mapping is unmapped; the underlying named object is unlinked only by the
// original exporter via Unexport.
func (e *Exporter) Release(seg *Segment) error {
	seg.mu.Lock()
	seg.refs--
	last := seg.refs == 0
	seg.mu.Unlock()
	if !last {
		return nil
	}

	e.mu.Lock()
	delete(e.imported, seg.Handle.Name)
	e.mu.Unlock()

	return unmapSegment(seg.Data)
}

// Unexport unmaps and unlinks a segment this process originally exported.
// Other processes that imported it keep their existing mapping; the kernel
// only reclaims the backing pages once every mapping, including theirs, is
// gone.
func (e *Exporter) Unexport(seg *Segment) error {
	if err := e.Release(seg); err != nil {
		return err
	}
	return unlinkSegment(seg.Handle.Name)
}
