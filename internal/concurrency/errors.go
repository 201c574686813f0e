// File: internal/concurrency/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for the concurrency package.

package concurrency

import "errors"

var (
	// ErrExecutorClosed indicates the executor has been shut down.
	ErrExecutorClosed = errors.New("executor is closed")

	// ErrSchedulerClosed indicates the scheduler has been shut down.
	ErrSchedulerClosed = errors.New("scheduler is closed")

	// ErrAffinityNotSupported indicates CPU affinity is not supported on this platform.
	ErrAffinityNotSupported = errors.New("CPU affinity not supported")
)
