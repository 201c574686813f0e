// Package ops implements the operation layer: Put, Get, Atomic,
// FetchAtomic, Swap, AtomicSync, and their triggered variants, each
// argument-validated before being dispatched against a target NI's portal
// table.
package ops
