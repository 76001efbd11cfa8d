//go:build unix && !linux

// File: reactor/reactor_poll.go
// Author: momentics <momentics@gmail.com>
//
// poll(2)-based reactor with a self-pipe wake-up for non-Linux unix platforms.

package reactor

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type pollReactor struct {
	mu     sync.RWMutex // guards the pipe against Close while waking
	fds    []int
	pfds   []unix.PollFd
	rd, wr int
	closed bool
}

// New constructs the platform reactor.
func New() (Reactor, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return nil, fmt.Errorf("pipe nonblock: %w", err)
		}
	}
	return &pollReactor{rd: p[0], wr: p[1]}, nil
}

func (r *pollReactor) Add(fd int) error {
	for _, f := range r.fds {
		if f == fd {
			return fmt.Errorf("poll add: fd %d already registered", fd)
		}
	}
	r.fds = append(r.fds, fd)
	return nil
}

func (r *pollReactor) Remove(fd int) error {
	for i, f := range r.fds {
		if f == fd {
			r.fds[i] = r.fds[len(r.fds)-1]
			r.fds = r.fds[:len(r.fds)-1]
			return nil
		}
	}
	return fmt.Errorf("poll remove: fd %d not registered", fd)
}

func (r *pollReactor) Wait(timeout time.Duration, ready []int) (int, error) {
	r.pfds = r.pfds[:0]
	r.pfds = append(r.pfds, unix.PollFd{Fd: int32(r.rd), Events: unix.POLLIN})
	for _, fd := range r.fds {
		r.pfds = append(r.pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	n, err := unix.Poll(r.pfds, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	if r.pfds[0].Revents != 0 {
		var b [64]byte
		for {
			if _, err := unix.Read(r.rd, b[:]); err != nil {
				break
			}
		}
	}
	const mask = unix.POLLIN | unix.POLLHUP | unix.POLLERR | unix.POLLNVAL
	count := 0
	for _, p := range r.pfds[1:] {
		if p.Revents&mask != 0 && count < len(ready) {
			ready[count] = int(p.Fd)
			count++
		}
	}
	return count, nil
}

func (r *pollReactor) Wake() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	if _, err := unix.Write(r.wr, []byte{1}); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("pipe write: %w", err)
	}
	return nil
}

func (r *pollReactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := unix.Close(r.wr)
	if cerr := unix.Close(r.rd); err == nil {
		err = cerr
	}
	return err
}
