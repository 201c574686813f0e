// Package ppe implements the client/server command channel to the Process
// Plumbing Engine: the hello handshake new clients use to register, and the
// steady-state lock-free command queue every NI operation travels over
// afterward.
package ppe
