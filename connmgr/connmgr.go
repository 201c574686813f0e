// File: connmgr/connmgr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connmgr

import (
	"fmt"
	"sync"

	"github.com/momentics/portals4go/api"
	itransport "github.com/momentics/portals4go/internal/transport"
)

// NID is a Portals4 network interface identifier: the node a rank lives on.
type NID uint32

// PID is the process identifier within a NID.
type PID uint32

// Addr identifies a peer's transport endpoint: which NID/PID pair to dial
// and, once resolved, the concrete address a transport connects to.
type Addr struct {
	NID NID
	PID PID
}

// Route is the resolved, transport-specific path to an Addr: a loopback
// marker for same-process, a shared-memory rank slot for same-node, or a
// network address for RDMA.
type Route struct {
	SameProcess bool
	SameNode    bool
	NetAddr     string
	// Transport names the data-plane backend this route should actually
	// use ("shmem", "rdma", or "loopback"), filled in by
	// stepResolveRoute via internal/transport's host-capability check
	// rather than left for the caller to infer from SameNode alone.
	Transport string
}

// RetryPolicy bounds how many times, and how far apart, a Connection retries
// a failed resolve/connect step.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  int64 // nanoseconds
	MaxDelay      int64
	BackoffFactor float64
}

// DefaultRetryPolicy matches the bound used by the original's connection
// setup loops (a handful of retries, capped backoff, never unbounded).
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:   8,
	InitialDelay:  1_000_000,   // 1ms
	MaxDelay:      500_000_000, // 500ms
	BackoffFactor: 2.0,
}

func (p RetryPolicy) delayFor(attempt int) int64 {
	d := p.InitialDelay
	for i := 0; i < attempt; i++ {
		d = int64(float64(d) * p.BackoffFactor)
		if d > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Resolver resolves a peer Addr to a Route and performs the connect step.
// Supplied by the transport layer (shmem announce/spin-wait, RDMA CM, or a
// same-process loopback) so connmgr stays transport-agnostic.
type Resolver interface {
	ResolveAddr(addr Addr) (Addr, error)
	ResolveRoute(addr Addr) (Route, error)
	Connect(route Route) error
}

// Connection drives one peer's state machine: resolve address, resolve
// route, connect, with capped retry/backoff on each step via the supplied
// Scheduler.
//
// pendingInit and pendingTarget mirror the original's pending_init_list and
// pending_target_list: operations queued against this peer before it reaches
// StateConnected, drained onto the transport once it does, or failed with
// the connect error if the peer never gets there. mainConn is the
// main_connection_backref: on a NID with more than one local rank, a
// non-main rank's Connection points at the main rank's Connection instead of
// dialing the peer itself (see RankEntry).
type Connection struct {
	mu    sync.Mutex
	peer  Addr
	state State
	route Route

	resolver Resolver
	sched    api.Scheduler
	policy   RetryPolicy

	attempt       int
	onStateChange func(State)

	localPID PID

	pendingInit   []func(error)
	pendingTarget []func(error)
	mainConn      *Connection
}

// NewConnection builds a connection to peer, idle in StateDisconnected.
func NewConnection(peer Addr, resolver Resolver, sched api.Scheduler, policy RetryPolicy) *Connection {
	return &Connection{
		peer:     peer,
		state:    StateDisconnected,
		resolver: resolver,
		sched:    sched,
		policy:   policy,
	}
}

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Route returns the connection's resolved route, zero-valued until
// StateResolvingRoute completes.
func (c *Connection) Route() Route {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.route
}

// OnStateChange registers a callback invoked (outside the connection's lock)
// on every successful transition, for connection-manager-wide bookkeeping
// such as the rank table.
func (c *Connection) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onStateChange = fn
	c.mu.Unlock()
}

// SetLocalPID records this rank's own PID, used by Start to decide (via
// ShouldYield) whether this side should defer to the peer during a
// simultaneous connect.
func (c *Connection) SetLocalPID(pid PID) {
	c.mu.Lock()
	c.localPID = pid
	c.mu.Unlock()
}

// SetMainConnection records the main_connection_backref: the Connection a
// non-main rank on the same NID should route its traffic through instead of
// dialing the peer directly.
func (c *Connection) SetMainConnection(main *Connection) {
	c.mu.Lock()
	c.mainConn = main
	c.mu.Unlock()
}

// MainConnection returns the main_connection_backref, or nil if this
// Connection is itself a main-rank connection (or none was set).
func (c *Connection) MainConnection() *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mainConn
}

// QueueInit queues fn as pending_init_list work: initiator-side traffic
// (Put/Get/Atomic) waiting on this Connection to reach StateConnected. fn
// runs with a nil error once connected, or the connect failure if the
// connection is abandoned after exhausting its retries. If the connection
// is already Connected, fn runs immediately.
func (c *Connection) QueueInit(fn func(error)) {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		fn(nil)
		return
	}
	c.pendingInit = append(c.pendingInit, fn)
	c.mu.Unlock()
}

// QueueTarget queues fn as pending_target_list work: target-side processing
// (an inbound ME/LE match or reply) waiting on this Connection, with the
// same drain/fail semantics as QueueInit.
func (c *Connection) QueueTarget(fn func(error)) {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		fn(nil)
		return
	}
	c.pendingTarget = append(c.pendingTarget, fn)
	c.mu.Unlock()
}

// drainPending hands every queued callback its terminal result (nil on
// success, the connect failure otherwise) and clears both lists.
func (c *Connection) drainPending(err error) {
	c.mu.Lock()
	init := c.pendingInit
	target := c.pendingTarget
	c.pendingInit = nil
	c.pendingTarget = nil
	c.mu.Unlock()
	for _, fn := range init {
		fn(err)
	}
	for _, fn := range target {
		fn(err)
	}
}

func (c *Connection) transition(to State) error {
	c.mu.Lock()
	from := c.state
	if !canTransition(from, to) {
		c.mu.Unlock()
		return &ErrInvalidTransition{From: from, To: to}
	}
	c.state = to
	cb := c.onStateChange
	c.mu.Unlock()
	if cb != nil {
		cb(to)
	}
	return nil
}

// Start begins (or restarts, from StateFailed) the connect sequence. It
// returns immediately; progress happens via retryOrFail below, driven by the
// connection's own calls through the Scheduler.
//
// When both sides of a peer pair race to connect at once, ShouldYield picks
// which side backs off: the higher-PID side delays one InitialDelay period
// before dialing, giving the lower-PID side's attempt a chance to land
// first and avoid two connections for the same pair.
func (c *Connection) Start() error {
	c.mu.Lock()
	c.attempt = 0
	yield := ShouldYield(c.localPID, c.peer.PID)
	c.mu.Unlock()
	if yield {
		_, err := c.sched.Schedule(c.policy.InitialDelay, func() {
			_ = c.startNow()
		})
		return err
	}
	return c.startNow()
}

func (c *Connection) startNow() error {
	if err := c.transition(StateResolvingAddr); err != nil {
		return err
	}
	return c.stepResolveAddr()
}

func (c *Connection) stepResolveAddr() error {
	resolved, err := c.resolver.ResolveAddr(c.peer)
	if err != nil {
		return c.retryOrFail(err, c.stepResolveAddr)
	}
	c.mu.Lock()
	c.peer = resolved
	c.mu.Unlock()
	if err := c.transition(StateResolvingRoute); err != nil {
		return err
	}
	return c.stepResolveRoute()
}

func (c *Connection) stepResolveRoute() error {
	route, err := c.resolver.ResolveRoute(c.peer)
	if err != nil {
		return c.retryOrFail(err, c.stepResolveRoute)
	}
	if route.Transport == "" {
		route.Transport = itransport.RuntimeTransportSelector(route.SameNode)
	}
	c.mu.Lock()
	c.route = route
	c.mu.Unlock()
	if err := c.transition(StateConnect); err != nil {
		return err
	}
	return c.stepConnect()
}

func (c *Connection) stepConnect() error {
	if c.State() != StateConnecting {
		if err := c.transition(StateConnecting); err != nil {
			return err
		}
	}
	if err := c.resolver.Connect(c.route); err != nil {
		return c.retryOrFail(err, c.stepConnect)
	}
	if err := c.transition(StateConnected); err != nil {
		return err
	}
	c.drainPending(nil)
	return nil
}

// retryOrFail schedules a retry of step after this attempt's backoff delay,
// or, once MaxAttempts is exhausted, fails every queued pending_init_list
// and pending_target_list callback with cause and resets the entry back to
// StateDisconnected rather than leaving it parked in StateFailed.
func (c *Connection) retryOrFail(cause error, step func() error) error {
	c.mu.Lock()
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	if attempt > c.policy.MaxAttempts {
		failErr := fmt.Errorf("connmgr: connect to %+v failed after %d attempts: %w", c.peer, attempt-1, cause)
		c.transition(StateFailed)
		c.drainPending(failErr)
		c.transition(StateDisconnected)
		return failErr
	}

	delay := c.policy.delayFor(attempt - 1)
	_, err := c.sched.Schedule(delay, func() {
		_ = step()
	})
	return err
}

// Reconnect restarts a connection from StateFailed or StateDisconnected,
// resetting the attempt counter.
func (c *Connection) Reconnect() error {
	if err := c.transition(StateResolvingAddr); err != nil {
		return err
	}
	c.mu.Lock()
	c.attempt = 0
	c.mu.Unlock()
	return c.stepResolveAddr()
}
