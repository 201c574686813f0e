// Package connmgr implements the peer connection state machine, rank table,
// and main-rank election used to bring up shared-memory and RDMA transports
// between ranks.
package connmgr
