//go:build unix

// File: internal/transport/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-relay/api"
)

// ErrWriteTimeout reports that a peer did not drain its receive window in time.
var ErrWriteTimeout = errors.New("transport: write timeout")

// IsWouldBlock reports whether err means "not ready, retry later".
func IsWouldBlock(err error) bool {
	return errors.Is(err, api.ErrWouldBlock) ||
		errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EWOULDBLOCK)
}

// IsTemporary reports accept errors that concern a single aborted handshake
// rather than the listening socket itself.
func IsTemporary(err error) bool {
	return errors.Is(err, unix.EINTR) ||
		errors.Is(err, unix.ECONNABORTED) ||
		errors.Is(err, unix.EPROTO)
}
