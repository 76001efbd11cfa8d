// File: server/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package server assembles the relay: a listener, the shared coordinator, a
// fixed set of workers and an acceptor, run as one unit with cooperative
// shutdown.
package server
