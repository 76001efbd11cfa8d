// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness reactor interface.

package reactor

import (
	"errors"
	"time"
)

// DefaultMaxEvents bounds the number of readiness events collected per Wait.
const DefaultMaxEvents = 128

// ErrClosed is returned by operations on a closed Reactor.
var ErrClosed = errors.New("reactor: closed")

// Reactor multiplexes readiness of a set of file descriptors.
type Reactor interface {
	// Add starts watching fd for readability, hang-up and error conditions.
	Add(fd int) error

	// Remove stops watching fd. It must be called before fd is closed.
	Remove(fd int) error

	// Wait blocks for at most timeout (negative blocks until woken) and
	// stores ready descriptors into ready, returning how many were stored.
	// A Wake or a signal interruption returns (0, nil).
	Wait(timeout time.Duration, ready []int) (int, error)

	// Wake interrupts a concurrent or the next Wait. Safe from any goroutine.
	Wake() error

	// Close releases kernel resources.
	Close() error
}

// Waker is the subset of Reactor that producers hold on to.
type Waker interface {
	Wake() error
}

// timeoutMillis converts d into a poll timeout, rounding sub-millisecond
// positive durations up so short intervals do not degrade into spinning.
func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}
