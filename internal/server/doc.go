// Package server runs the wrtctl reactor: one goroutine owns every client
// connection, frames inbound packets, dispatches commands through the
// handler registry and flushes responses. Reader goroutines only move bytes
// off sockets and never touch connection state.
package server
