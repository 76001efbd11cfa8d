//go:build unix

// File: internal/relay/coordinator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared coordination state between the acceptor and the workers.

package relay

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/internal/transport"
	"github.com/momentics/hioload-relay/reactor"
)

// Coordinator is the bounded hand-off area between the Acceptor (single
// producer) and the Workers (consumers). live counts every admitted
// connection until its eviction has been reconciled, so it may briefly
// overstate but never understate the number of open sockets.
type Coordinator struct {
	mu         sync.Mutex
	pending    *queue.Queue // *transport.Conn, FIFO
	live       int
	capacity   int
	terminated atomic.Bool
	wakers     []reactor.Waker
}

// NewCoordinator creates a coordinator admitting at most capacity connections.
func NewCoordinator(capacity int) *Coordinator {
	return &Coordinator{
		pending:  queue.New(),
		capacity: capacity,
	}
}

// Register adds a reactor to wake on admission and termination.
func (c *Coordinator) Register(w reactor.Waker) {
	c.mu.Lock()
	c.wakers = append(c.wakers, w)
	c.mu.Unlock()
}

// Admit queues conn for pickup by a worker. On error the caller keeps
// ownership of conn and must close it.
func (c *Coordinator) Admit(conn *transport.Conn) error {
	c.mu.Lock()
	if c.terminated.Load() {
		c.mu.Unlock()
		return api.ErrTerminated
	}
	if c.live >= c.capacity {
		c.mu.Unlock()
		return api.ErrCapacityExhausted
	}
	c.pending.Add(conn)
	c.live++
	wakers := c.wakers
	c.mu.Unlock()

	wakeAll(wakers)
	return nil
}

// TryHandoff is the worker side of the hand-off. It never blocks: when the
// lock is contended it returns acquired=false and the caller must retry with
// the same dropped count next cycle. Once acquired, dropped evictions are
// reconciled into the live counter and up to free pending connections are
// appended to dst. After termination it returns api.ErrTerminated.
func (c *Coordinator) TryHandoff(dropped, free int, dst []*transport.Conn) (out []*transport.Conn, acquired bool, err error) {
	if !c.mu.TryLock() {
		return dst, false, nil
	}
	defer c.mu.Unlock()

	c.release(dropped)
	if c.terminated.Load() {
		return dst, true, api.ErrTerminated
	}
	for free > 0 && c.pending.Length() > 0 {
		dst = append(dst, c.pending.Remove().(*transport.Conn))
		free--
	}
	return dst, true, nil
}

// Release reconciles n closed connections, blocking for the lock. Workers
// use it once on exit.
func (c *Coordinator) Release(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.release(n)
	c.mu.Unlock()
}

func (c *Coordinator) release(n int) {
	if n > c.live {
		n = c.live
	}
	c.live -= n
}

// Terminate sets the termination flag and wakes every registered reactor.
// It reports whether this call performed the transition.
func (c *Coordinator) Terminate() bool {
	c.mu.Lock()
	if c.terminated.Load() {
		c.mu.Unlock()
		return false
	}
	c.terminated.Store(true)
	wakers := c.wakers
	c.mu.Unlock()

	wakeAll(wakers)
	return true
}

// Terminated reports the termination flag without taking the lock.
func (c *Coordinator) Terminated() bool {
	return c.terminated.Load()
}

// Drain removes every pending connection and releases its capacity. The
// caller takes ownership of the returned connections.
func (c *Coordinator) Drain() []*transport.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*transport.Conn, 0, c.pending.Length())
	for c.pending.Length() > 0 {
		out = append(out, c.pending.Remove().(*transport.Conn))
	}
	c.release(len(out))
	return out
}

// Live returns the live-connection counter.
func (c *Coordinator) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// Pending returns the number of admitted connections not yet picked up.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Length()
}

// Capacity returns the admission limit.
func (c *Coordinator) Capacity() int { return c.capacity }

func wakeAll(wakers []reactor.Waker) {
	for _, w := range wakers {
		_ = w.Wake()
	}
}
