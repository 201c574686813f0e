// File: ops/state.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TargetState is the target-side lifecycle an operation moves through
// once the PPE has matched it against an ME/LE, mirroring the teacher's
// SessionStatus enum-with-String() style (api/types.go, since removed in
// this tree once its WebSocket-session fields no longer applied).
package ops

// TargetState enumerates the stages a matched operation passes through
// on its way to completion.
type TargetState int

const (
	StateStart TargetState = iota
	StateMatched
	StateDataIn
	StateDataOut
	StateShortInline
	StateIndirectSGL
	StateTransferring
	StateCleanup
	StateReportEvent
	StateDone
)

func (s TargetState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateMatched:
		return "matched"
	case StateDataIn:
		return "data_in"
	case StateDataOut:
		return "data_out"
	case StateShortInline:
		return "short_inline"
	case StateIndirectSGL:
		return "indirect_sgl"
	case StateTransferring:
		return "transferring"
	case StateCleanup:
		return "cleanup"
	case StateReportEvent:
		return "report_event"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// ShortMessageThreshold is the length at or below which a transfer is
// carried inline in the command entry instead of through RDMA or an
// indirect SGL descriptor.
const ShortMessageThreshold = 256

// classify picks the DataIn/DataOut/ShortInline/IndirectSGL branch for a
// transfer of the given length and iovec count, mirroring the target
// state machine's branch-selection rule.
func classify(length uint64, numIov int) TargetState {
	switch {
	case length <= ShortMessageThreshold:
		return StateShortInline
	case numIov > 1:
		return StateIndirectSGL
	default:
		return StateDataIn
	}
}
