// File: ppe/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server is the PPE side of the channel: it owns the real NI state and
// drains the command queue, dispatching each entry to a registered handler
// by OpCode. Grounded on ptl_light_lib.c's PPE dispatch loop (the switch
// over buf->op in the PPE process).

package ppe

import (
	"context"
	"fmt"
	"runtime"

	"github.com/momentics/portals4go/api"
	"github.com/momentics/portals4go/internal/concurrency"
)

// Handler processes one command's payload and returns its reply.
type Handler func(ctx context.Context, payload any) (reply any, err error)

// Server dispatches CommandEntry values popped from a Queue to registered
// Handlers by OpCode, and answers the hello mailbox for new clients. Each
// dispatch runs on exec (an api.Executor) rather than inline on Run's
// polling goroutine, so one slow handler can't stall the next command's
// dequeue.
type Server struct {
	hello    *Hello
	queue    *Queue
	handlers map[OpCode]Handler
	exec     api.Executor

	helloReply func(*Hello)
}

// NewServer builds a server bound to the shared hello mailbox and command
// queue, dispatching onto a default-sized (GOMAXPROCS) worker pool.
// helloReply fills in the reply fields (cookie, arena mapping) when a new
// client's hello is accepted.
func NewServer(hello *Hello, queue *Queue, helloReply func(*Hello)) *Server {
	return NewServerWithExecutor(hello, queue, helloReply, concurrency.NewExecutor(runtime.GOMAXPROCS(0)))
}

// NewServerWithExecutor builds a server dispatching onto exec instead of the
// default worker pool, for callers that want to size or share the pool
// themselves.
func NewServerWithExecutor(hello *Hello, queue *Queue, helloReply func(*Hello), exec api.Executor) *Server {
	return &Server{
		hello:      hello,
		queue:      queue,
		handlers:   make(map[OpCode]Handler),
		exec:       exec,
		helloReply: helloReply,
	}
}

// Register binds a Handler to an OpCode. Registering the same OpCode twice
// replaces the previous handler.
func (s *Server) Register(op OpCode, h Handler) {
	s.handlers[op] = h
}

// AcceptHello answers one pending hello handshake; call from a dedicated
// goroutine loop since it blocks until a client reserves the mailbox.
func (s *Server) AcceptHello(ctx context.Context) error {
	return s.hello.ServerAccept(ctx, s.helloReply)
}

// ServeOne pops a single command entry, if one is queued, and submits its
// dispatch onto the server's Executor. Returns ok=false if the queue was
// empty; a non-nil err means the entry could not even be submitted (the
// executor is closed), not that the handler itself failed — handler errors
// complete the entry through entry.Complete and are observed via
// entry.Await, same as before.
func (s *Server) ServeOne(ctx context.Context) (ok bool, err error) {
	entry, ok := s.queue.Poll()
	if !ok {
		return false, nil
	}

	handler, known := s.handlers[entry.Op]
	if !known {
		entry.Complete(nil, fmt.Errorf("ppe: no handler registered for op %v", entry.Op))
		return true, nil
	}

	if submitErr := s.exec.Submit(func() {
		reply, herr := handler(ctx, entry.Payload)
		entry.Complete(reply, herr)
	}); submitErr != nil {
		entry.Complete(nil, fmt.Errorf("ppe: submit dispatch: %w", submitErr))
		return true, submitErr
	}
	return true, nil
}

// Run drains the command queue until ctx is canceled, calling ServeOne in a
// tight loop. Intended to run on a dedicated goroutine per NI.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		served, _ := s.ServeOne(ctx)
		if !served {
			continue
		}
	}
}
