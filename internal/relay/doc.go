// Package relay implements the real-time core of the server: the registry
// of viewer and source sockets, message routing, the frame bus, and the
// fixed-rate master broadcast loop.
//
// All shared state lives inside a single Hub goroutine; the exported API
// enqueues typed commands on a channel. Handlers run to completion before
// the next command, so the registries need no locking and master ticks can
// never overlap.
package relay
