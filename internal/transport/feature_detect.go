// File: internal/transport/feature_detect.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Advertises which data-plane backend (RDMA verbs, shared-memory, or the
// local PPE command-queue path) is available on this host, and lets the
// connection manager pick a transport per remote rank without a type switch.

package transport

import (
	"runtime"

	"github.com/momentics/portals4go/api"
)

// DetectTransportFeatures returns the features of the RDMA backend available
// on this OS/platform.
func DetectTransportFeatures() api.TransportFeatures {
	return api.TransportFeatures{
		ZeroCopy: true,
		Batch:    true,
		RDMA:     HasRDMADeviceSupport(),
	}
}

// RuntimeTransportSelector returns the name of the best available transport
// for the current platform: "rdma" when a verbs device is usable, "shmem"
// for intra-node peers, or "loopback" as the software fallback used by tests.
func RuntimeTransportSelector(sameNode bool) string {
	if sameNode {
		return "shmem"
	}
	if runtime.GOOS == "linux" && HasRDMADeviceSupport() {
		return "rdma"
	}
	return "loopback"
}

// HasRDMADeviceSupport reports whether a real libibverbs device is usable.
// No cgo libibverbs binding exists in this module (see DESIGN.md); this
// always reports false, and the RDMA engine falls back to its software
// QueuePair/CompletionQueue implementation.
var HasRDMADeviceSupport = func() bool {
	return false
}
