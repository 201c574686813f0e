// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Backend-selection helpers shared by the connection manager: which
// data-plane transport (RDMA, shared-memory, or the local PPE path) is
// available and preferred for a given remote rank.
package transport
