// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines two narrow transport contracts, NetConn and Transport, plus the
// TransportFeatures flags. The connection manager, the shared-memory FIFO
// transport and the RDMA target-side engine expose their own APIs and do
// not use these contracts.

package api

// NetConn abstracts a full-duplex network connection object. No package in
// this module implements or consumes it.
type NetConn interface {
	// Read reads into a preallocated buffer
	Read(p []byte) (n int, err error)

	// Write writes buffer contents into the connection
	Write(p []byte) (n int, err error)

	// Close shuts down the connection and notifies upstream layers
	Close() error

	// RawFD returns the underlying OS-level file descriptor
	RawFD() uintptr
}

// TransportFeatures advertises the capabilities of a Transport backend so
// callers can pick coalescing/batching strategy without type-switching.
type TransportFeatures struct {
	ZeroCopy bool // backend can hand out pooled buffers without copying
	Batch    bool // Send accepts multiple iovecs per call
	RDMA     bool // backend is one-sided RDMA (rdma transport)
	Shmem    bool // backend is the intra-node shared-memory FIFO
}

// Transport is a common data-plane contract: send/receive a batch of raw
// byte slices (already-encoded command or payload frames). The
// shared-memory transport and the RDMA transfer engine do not implement it.
type Transport interface {
	Send(iov [][]byte) error
	Recv() ([][]byte, error)
	Close() error
	Features() TransportFeatures
}
