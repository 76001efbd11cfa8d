//go:build unix

// File: internal/transport/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking TCP listening socket.

package transport

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-relay/api"
)

// DefaultBacklog is the listen(2) backlog used when none is configured.
const DefaultBacklog = 128

// Listener owns a non-blocking listening socket.
type Listener struct {
	fd        int
	addr      *net.TCPAddr
	closeOnce sync.Once
	closeErr  error
}

// Listen binds and listens on addr ("host:port"). Port 0 picks a free port,
// which Addr then reports.
func Listen(addr string, backlog int) (*Listener, error) {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	family, sa, err := resolve(addr)
	if err != nil {
		return nil, err
	}
	fd, err := newSocket(family)
	if err != nil {
		return nil, fmt.Errorf("socket create: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	return &Listener{fd: fd, addr: tcpAddr(bound)}, nil
}

// Fd returns the listening descriptor, for readiness registration.
func (l *Listener) Fd() int { return l.fd }

// Addr returns the bound address.
func (l *Listener) Addr() *net.TCPAddr { return l.addr }

// Accept returns the next pending connection without blocking.
// api.ErrWouldBlock means the backlog is empty.
func (l *Listener) Accept() (*Conn, error) {
	nfd, sa, err := acceptNonblock(l.fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, api.ErrWouldBlock
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	var remote net.Addr
	if ta := tcpAddr(sa); ta != nil {
		remote = ta
	}
	return newConn(nfd, remote), nil
}

// Close closes the listening socket. Safe to call more than once.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = unix.Close(l.fd)
	})
	return l.closeErr
}
