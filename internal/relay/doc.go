// File: internal/relay/doc.go
// Package relay
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Relay core: a capacity-bounded Coordinator hands accepted connections from
// the Acceptor to a fixed set of Workers. Each Worker owns its connections
// outright, waits for readiness on its own reactor and broadcasts every read
// to the other connections it owns. An optional Bus extends broadcast across
// workers.
//
// Ownership of a *transport.Conn moves Acceptor -> Coordinator -> Worker and is
// never shared. The Coordinator is the only state touched by more than one
// goroutine; Workers reach it with a non-blocking TryLock so relaying existing
// traffic is never stalled behind the hand-off lock.
package relay
