// File: transport/rdma/wr_const.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Work-request opcode and flag constants, named the way ibv_send_wr's
// IBV_WR_*/IBV_SEND_* enums are: a QueuePair implementation backed by real
// libibverbs maps these 1:1 onto the C enum values it already links
// against; the loopback QueuePair in loopback.go uses them to decide how to
// simulate each operation.
package rdma

// WROpcode mirrors enum ibv_wr_opcode's RDMA-relevant members.
type WROpcode int

const (
	WROpRDMARead WROpcode = iota
	WROpRDMAWrite
	WROpAtomicCmpAndSwap
	WROpAtomicFetchAndAdd
)

// SendFlags mirrors ibv_send_flags.
type SendFlags uint32

const (
	SendFlagSignaled SendFlags = 1 << iota
	SendFlagFence
	SendFlagSolicited
	SendFlagInline
)

func opcodeFor(dir Direction) WROpcode {
	if dir == DirIn {
		return WROpRDMARead
	}
	return WROpRDMAWrite
}
