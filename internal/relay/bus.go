//go:build unix

// File: internal/relay/bus.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Cross-worker fan-out for global broadcast mode.

package relay

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/pool"
	"github.com/momentics/hioload-relay/reactor"
)

// busMessage is shared read-only by every inbox it was published to; the
// last consumer returns the payload to the pool.
type busMessage struct {
	payload []byte
	refs    atomic.Int32
}

type inbox struct {
	mu    sync.Mutex
	q     *queue.Queue // *busMessage
	waker reactor.Waker
}

// Bus carries payloads read by one worker to every other worker. Each worker
// has a bounded inbox; publishing never blocks, a full inbox drops its
// oldest payload instead.
type Bus struct {
	inboxes []*inbox
	limit   int
	pool    *pool.BytePool
	dropped *control.Counter
}

// NewBus creates a bus for workers inboxes of at most limit payloads each.
func NewBus(workers, limit int, bp *pool.BytePool, dropped *control.Counter) *Bus {
	if dropped == nil {
		dropped = &control.Counter{}
	}
	b := &Bus{
		inboxes: make([]*inbox, workers),
		limit:   limit,
		pool:    bp,
		dropped: dropped,
	}
	for i := range b.inboxes {
		b.inboxes[i] = &inbox{q: queue.New()}
	}
	return b
}

// Attach sets the reactor woken when worker has new payloads.
func (b *Bus) Attach(worker int, w reactor.Waker) {
	in := b.inboxes[worker]
	in.mu.Lock()
	in.waker = w
	in.mu.Unlock()
}

// Publish copies p and enqueues it for every worker except from.
func (b *Bus) Publish(from int, p []byte) {
	targets := len(b.inboxes) - 1
	if targets <= 0 || len(p) == 0 {
		return
	}
	msg := &busMessage{payload: b.pool.Copy(p)}
	msg.refs.Store(int32(targets))
	for i, in := range b.inboxes {
		if i == from {
			continue
		}
		in.mu.Lock()
		if in.q.Length() >= b.limit {
			b.release(in.q.Remove().(*busMessage))
			b.dropped.Inc()
		}
		in.q.Add(msg)
		w := in.waker
		in.mu.Unlock()
		if w != nil {
			_ = w.Wake()
		}
	}
}

// Drain hands every payload queued for worker to fn, oldest first. fn must
// not retain the slice.
func (b *Bus) Drain(worker int, fn func(payload []byte)) int {
	in := b.inboxes[worker]
	in.mu.Lock()
	n := in.q.Length()
	if n == 0 {
		in.mu.Unlock()
		return 0
	}
	msgs := make([]*busMessage, n)
	for i := range msgs {
		msgs[i] = in.q.Remove().(*busMessage)
	}
	in.mu.Unlock()

	for _, m := range msgs {
		fn(m.payload)
		b.release(m)
	}
	return n
}

// Pending returns the number of payloads queued for worker.
func (b *Bus) Pending(worker int) int {
	in := b.inboxes[worker]
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.q.Length()
}

func (b *Bus) release(m *busMessage) {
	if m.refs.Add(-1) == 0 {
		b.pool.Put(m.payload)
	}
}
