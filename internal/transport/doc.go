// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw non-blocking TCP sockets for the relay, built directly on
// golang.org/x/sys/unix. The relay owns every descriptor explicitly: a Conn is
// a plain fd that is read and written without going through the Go netpoller,
// so readiness is driven by the reactor package.
//
// Platform specifics (accept4, SOCK_NONBLOCK) are split by build tags.

package transport
