// Package rdma implements the target-side one-sided transfer engine:
// building scatter/gather lists against local memory, issuing bounded RDMA
// read/write work requests against a remote segment list, coalescing
// completion notifications, and fetching indirect (out-of-line) remote
// segment descriptors.
package rdma
