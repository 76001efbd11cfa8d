//go:build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor with an eventfd(2) wake-up descriptor.

package reactor

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollReactor is a level-triggered epoll readiness set.
type epollReactor struct {
	mu     sync.RWMutex // guards wakefd against Close while waking
	epfd   int
	wakefd int
	events []unix.EpollEvent
	closed bool
}

// New constructs the platform reactor.
func New() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakefd: %w", err)
	}
	return &epollReactor{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, DefaultMaxEvents),
	}, nil
}

// Add registers fd for read readiness and peer hang-up.
func (r *epollReactor) Add(fd int) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Remove deregisters fd.
func (r *epollReactor) Remove(fd int) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wait collects ready descriptors. The wake descriptor is drained and never
// reported.
func (r *epollReactor) Wait(timeout time.Duration, ready []int) (int, error) {
	buf := r.events
	if len(ready)+1 < len(buf) {
		buf = buf[:len(ready)+1]
	}
	n, err := unix.EpollWait(r.epfd, buf, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	count := 0
	for i := 0; i < n; i++ {
		fd := int(buf[i].Fd)
		if fd == r.wakefd {
			r.drainWake()
			continue
		}
		if count < len(ready) {
			ready[count] = fd
			count++
		}
	}
	return count, nil
}

func (r *epollReactor) drainWake() {
	var b [8]byte
	for {
		if _, err := unix.Read(r.wakefd, b[:]); err != nil {
			return
		}
	}
}

// Wake bumps the eventfd counter.
func (r *epollReactor) Wake() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(r.wakefd, b[:]); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

// Close releases the epoll and eventfd descriptors.
func (r *epollReactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := unix.Close(r.wakefd)
	if cerr := unix.Close(r.epfd); err == nil {
		err = cerr
	}
	return err
}
