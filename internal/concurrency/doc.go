// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lock-free queues, a heap-based cancelable scheduler, and a resizable worker
// pool used throughout portals4go: the PPE command queue, the shared-memory
// transport FIFOs, and connection-manager retry backoff all build on the
// primitives in this package.
package concurrency
