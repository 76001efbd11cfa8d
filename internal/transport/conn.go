//go:build unix

// File: internal/transport/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn wraps one accepted non-blocking socket.

package transport

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-relay/api"
)

// Conn is a relay connection. It is never shared: at any time exactly one
// owner (the coordinator queue or one worker) holds the pointer.
type Conn struct {
	fd        int
	id        string
	remote    net.Addr
	closeOnce sync.Once
}

func newConn(fd int, remote net.Addr) *Conn {
	return &Conn{fd: fd, id: uuid.NewString(), remote: remote}
}

// Wrap adopts an already connected socket descriptor and switches it to
// non-blocking mode. The Conn takes ownership of fd.
func Wrap(fd int, remote net.Addr) (*Conn, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set nonblock: %w", err)
	}
	return newConn(fd, remote), nil
}

// Fd returns the socket descriptor.
func (c *Conn) Fd() int { return c.fd }

// ID returns a unique identifier for log correlation.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address, which may be nil for wrapped sockets.
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

// String renders the remote address, or the id when it is unknown.
func (c *Conn) String() string {
	if c.remote != nil {
		return c.remote.String()
	}
	return c.id
}

// Read performs a single non-blocking read. It returns api.ErrWouldBlock when
// no data is available and io.EOF when the peer closed its write side.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, api.ErrWouldBlock
		case err != nil:
			return 0, fmt.Errorf("read: %w", err)
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// WriteAll writes every byte of p. When the socket send buffer is full it
// waits for writability, giving up with ErrWriteTimeout after timeout.
func (c *Conn) WriteAll(p []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for len(p) > 0 {
		n, err := unix.Write(c.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			if err := c.waitWritable(deadline); err != nil {
				return err
			}
			continue
		case err != nil:
			return fmt.Errorf("write: %w", err)
		}
		p = p[n:]
	}
	return nil
}

func (c *Conn) waitWritable(deadline time.Time) error {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrWriteTimeout
		}
		ms := int(remaining / time.Millisecond)
		if ms == 0 {
			ms = 1
		}
		pfd := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(pfd, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll writable: %w", err)
		}
		if n > 0 {
			return nil
		}
	}
}

// Shutdown disables both directions. Errors are ignored, the peer may already
// be gone.
func (c *Conn) Shutdown() {
	_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
}

// Close shuts the socket down in both directions and releases the descriptor.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.Shutdown()
		err = unix.Close(c.fd)
	})
	return err
}
