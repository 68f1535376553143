// Package netio owns per-connection packet queues and the I/O primitives that
// move packets between those queues and a socket.
//
// A Conn is not safe for concurrent use. The server reactor and the client
// session each own their connections exclusively; the only method that may
// run on another goroutine is Read, which touches no queue state.
package netio
