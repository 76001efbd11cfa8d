//go:build unix

// File: internal/relay/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Relay worker: owns a slot table of connections and broadcasts every read
// to the other connections it owns.

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-relay/affinity"
	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/internal/transport"
	"github.com/momentics/hioload-relay/reactor"
)

// WorkerOptions tunes a Worker. Zero values fall back to control.DefaultConfig.
type WorkerOptions struct {
	MaxMessageSize int
	PollInterval   time.Duration
	WriteTimeout   time.Duration
	PinCPU         bool
	CPU            int
	Bus            *Bus
	Metrics        *control.MetricsRegistry
	Logger         zerolog.Logger
}

// Worker relays bytes between the connections in its slot table.
// All methods except Wake-driven hand-off run on the worker goroutine.
type Worker struct {
	id           int
	coord        *Coordinator
	bus          *Bus
	reactor      reactor.Reactor
	slots        *SlotTable
	buf          []byte
	ready        []int
	incoming     []*transport.Conn
	dropped      int
	pollInterval time.Duration
	writeTimeout time.Duration
	cpu          int
	log          zerolog.Logger

	evicted   *control.Counter
	bytesIn   *control.Counter
	bytesOut  *control.Counter
	handoffs  *control.Counter
	contended *control.Counter
}

// NewWorker creates worker id owning up to capacity connections and
// registers its reactor with coord (and the bus, when set).
func NewWorker(id, capacity int, coord *Coordinator, opts WorkerOptions) (*Worker, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("worker %d: capacity %d: %w", id, capacity, api.ErrInvalidArgument)
	}
	def := control.DefaultConfig()
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = control.NewMetricsRegistry()
	}
	r, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", id, err)
	}
	w := &Worker{
		id:           id,
		coord:        coord,
		bus:          opts.Bus,
		reactor:      r,
		slots:        NewSlotTable(capacity),
		buf:          make([]byte, opts.MaxMessageSize),
		ready:        make([]int, capacity),
		incoming:     make([]*transport.Conn, 0, capacity),
		pollInterval: opts.PollInterval,
		writeTimeout: opts.WriteTimeout,
		cpu:          -1,
		log:          opts.Logger.With().Str("component", "worker").Int("worker", id).Logger(),
		evicted:      opts.Metrics.Counter(control.MetricEvicted),
		bytesIn:      opts.Metrics.Counter(control.MetricBytesIn),
		bytesOut:     opts.Metrics.Counter(control.MetricBytesOut),
		handoffs:     opts.Metrics.Counter(control.MetricHandoffs),
		contended:    opts.Metrics.Counter(control.MetricHandoffContended),
	}
	if opts.PinCPU {
		w.cpu = opts.CPU
	}
	coord.Register(r)
	if w.bus != nil {
		w.bus.Attach(id, r)
	}
	return w, nil
}

// ID returns the worker index.
func (w *Worker) ID() int { return w.id }

// Capacity returns the size of the worker's slot table.
func (w *Worker) Capacity() int { return w.slots.Cap() }

// Run relays until the coordinator terminates or ctx is done. On return every
// owned connection has been shut down and closed.
func (w *Worker) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if w.cpu >= 0 {
		if err := affinity.SetAffinity(w.cpu); err != nil {
			w.log.Warn().Err(err).Int("cpu", w.cpu).Msg("cpu pinning failed")
		}
	}
	defer w.shutdown()

	w.log.Debug().Int("capacity", w.slots.Cap()).Msg("worker started")
	for {
		if ctx.Err() != nil || w.coord.Terminated() {
			return nil
		}
		if err := w.handoff(); err != nil {
			if errors.Is(err, api.ErrTerminated) {
				return nil
			}
			return err
		}
		if err := w.poll(); err != nil {
			return err
		}
		if w.bus != nil {
			w.bus.Drain(w.id, w.deliver)
		}
	}
}

// handoff reconciles evictions and pulls pending connections without ever
// waiting for the coordinator lock.
func (w *Worker) handoff() error {
	free := w.slots.Free()
	if free == 0 && w.dropped == 0 {
		return nil
	}
	conns, acquired, err := w.coord.TryHandoff(w.dropped, free, w.incoming[:0])
	if !acquired {
		w.contended.Inc()
		return nil
	}
	w.dropped = 0
	if err != nil {
		return err
	}
	for _, c := range conns {
		w.adopt(c)
	}
	if len(conns) > 0 {
		w.handoffs.Add(int64(len(conns)))
	}
	clear(w.incoming[:len(conns)])
	return nil
}

func (w *Worker) adopt(c *transport.Conn) {
	slot, ok := w.slots.Insert(c)
	if !ok {
		// TryHandoff never returns more than the free slot count.
		_ = c.Close()
		w.dropped++
		return
	}
	if err := w.reactor.Add(c.Fd()); err != nil {
		w.log.Warn().Err(err).Str("conn", c.ID()).Msg("register connection")
		w.slots.Remove(slot)
		_ = c.Close()
		w.dropped++
		return
	}
	w.log.Debug().Str("conn", c.ID()).Stringer("remote", c).Int("slot", slot).Msg("connection attached")
}

func (w *Worker) poll() error {
	n, err := w.reactor.Wait(w.pollInterval, w.ready)
	if err != nil {
		return fmt.Errorf("worker %d: %w", w.id, err)
	}
	for _, fd := range w.ready[:n] {
		// an earlier broadcast in this batch may have evicted it
		slot, ok := w.slots.Lookup(fd)
		if !ok {
			continue
		}
		w.service(slot)
	}
	return nil
}

// service performs one read on slot and relays what it got.
func (w *Worker) service(slot int) {
	c := w.slots.Get(slot)
	n, err := c.Read(w.buf)
	switch {
	case transport.IsWouldBlock(err):
		return
	case errors.Is(err, io.EOF):
		w.evict(slot, "peer closed", nil)
	case err != nil:
		w.evict(slot, "read failed", err)
	default:
		w.bytesIn.Add(int64(n))
		p := w.buf[:n]
		w.broadcast(slot, p)
		if w.bus != nil {
			w.bus.Publish(w.id, p)
		}
	}
}

// broadcast writes p to every occupied slot except from. A peer that cannot
// take the bytes is evicted; the sender is never affected.
func (w *Worker) broadcast(from int, p []byte) {
	for i := 0; i < w.slots.Cap(); i++ {
		if i == from {
			continue
		}
		peer := w.slots.Get(i)
		if peer == nil {
			continue
		}
		if err := peer.WriteAll(p, w.writeTimeout); err != nil {
			w.evict(i, "write failed", err)
			continue
		}
		w.bytesOut.Add(int64(len(p)))
	}
}

// deliver relays a payload that arrived from another worker.
func (w *Worker) deliver(p []byte) {
	w.broadcast(-1, p)
}

func (w *Worker) evict(slot int, reason string, err error) {
	c := w.slots.Remove(slot)
	if c == nil {
		return
	}
	_ = w.reactor.Remove(c.Fd())
	_ = c.Close()
	w.dropped++
	w.evicted.Inc()
	ev := w.log.Debug().Str("conn", c.ID()).Stringer("remote", c).Int("slot", slot).Str("reason", reason)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("connection evicted")
}

// shutdown closes every owned connection and returns their capacity.
func (w *Worker) shutdown() {
	closed := 0
	for i := 0; i < w.slots.Cap(); i++ {
		if c := w.slots.Remove(i); c != nil {
			_ = w.reactor.Remove(c.Fd())
			_ = c.Close()
			closed++
		}
	}
	w.coord.Release(closed + w.dropped)
	w.dropped = 0
	_ = w.reactor.Close()
	w.log.Info().Int("closed", closed).Msg("worker terminated")
}

// Close releases the worker's reactor. It is only needed when Run was never
// called.
func (w *Worker) Close() error {
	return w.reactor.Close()
}
