// File: connmgr/state.go
// Package connmgr implements the rank-to-rank connection state machine
// underlying both the shared-memory and RDMA transports: resolving a peer's
// address, resolving a route to it, and driving the connect handshake with
// capped retries and backoff.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded in spirit on the teacher's transport/tcp accept-loop and
// affinity-pinning structure (each connection gets one worker, reused here
// as "each peer gets one state machine"), and on internal/concurrency's
// heap-based Scheduler for cancelable retry backoff instead of a bare
// time.Sleep loop.
package connmgr

import "fmt"

// State is one stage of a peer connection's lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateResolvingAddr
	StateResolvingRoute
	StateConnect
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateResolvingAddr:
		return "ResolvingAddr"
	case StateResolvingRoute:
		return "ResolvingRoute"
	case StateConnect:
		return "Connect"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// validTransitions enumerates the only edges the state machine may take.
// Any transition not listed here is a programming error, not a retry.
var validTransitions = map[State][]State{
	StateDisconnected:   {StateResolvingAddr},
	StateResolvingAddr:  {StateResolvingRoute, StateFailed},
	StateResolvingRoute: {StateConnect, StateFailed},
	StateConnect:        {StateConnecting, StateFailed},
	StateConnecting:     {StateConnected, StateFailed},
	StateConnected:      {StateDisconnected},
	StateFailed:         {StateResolvingAddr, StateDisconnected},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition reports an attempted state change the machine
// disallows.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("connmgr: invalid transition %s -> %s", e.From, e.To)
}
