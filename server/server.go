//go:build unix

// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server facade: wires transport, coordinator, workers and acceptor and owns
// their lifecycle.

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/internal/relay"
	"github.com/momentics/hioload-relay/internal/transport"
	"github.com/momentics/hioload-relay/pool"
)

var (
	_ api.Control          = (*Server)(nil)
	_ api.GracefulShutdown = (*Server)(nil)
)

// Server is the relay as a whole.
type Server struct {
	cfg     *control.Config
	log     zerolog.Logger
	metrics *control.MetricsRegistry
	probes  *control.DebugProbes

	ln       *transport.Listener
	coord    *relay.Coordinator
	bus      *relay.Bus
	workers  []*relay.Worker
	acceptor *relay.Acceptor

	running atomic.Bool
}

// NewServer validates cfg, binds the listening socket and builds every
// component. Nothing runs until Run is called. A nil cfg means
// control.DefaultConfig().
func NewServer(cfg *control.Config, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		log:     zerolog.Nop(),
		metrics: control.NewMetricsRegistry(),
		probes:  control.NewDebugProbes(),
	}
	for _, o := range opts {
		o(s)
	}

	ln, err := transport.Listen(cfg.ListenAddr, cfg.Backlog)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s.ln = ln
	if err := s.build(); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.registerProbes()
	return s, nil
}

func (s *Server) build() error {
	s.coord = relay.NewCoordinator(s.cfg.MaxConnections)
	if s.cfg.Broadcast == api.ScopeGlobal {
		s.bus = relay.NewBus(s.cfg.Workers, s.cfg.BusCapacity,
			pool.NewBytePool(s.cfg.MaxMessageSize),
			s.metrics.Counter(control.MetricBusDropped))
	}
	for i, capacity := range s.cfg.WorkerCapacities() {
		cpu := s.cfg.WorkerCPU(i)
		w, err := relay.NewWorker(i, capacity, s.coord, relay.WorkerOptions{
			MaxMessageSize: s.cfg.MaxMessageSize,
			PollInterval:   s.cfg.PollInterval,
			WriteTimeout:   s.cfg.WriteTimeout,
			PinCPU:         cpu >= 0,
			CPU:            cpu,
			Bus:            s.bus,
			Metrics:        s.metrics,
			Logger:         s.log,
		})
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		s.workers = append(s.workers, w)
	}
	a, err := relay.NewAcceptor(s.ln, s.coord, relay.AcceptorOptions{
		PollInterval:   s.cfg.PollInterval,
		RejectLogBurst: s.cfg.RejectLogBurst,
		Metrics:        s.metrics,
		Logger:         s.log,
	})
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	s.acceptor = a
	return nil
}

func (s *Server) registerProbes() {
	control.RegisterPlatformProbes(s.probes)
	s.probes.RegisterProbe("relay.live", func() any { return s.coord.Live() })
	s.probes.RegisterProbe("relay.pending", func() any { return s.coord.Pending() })
	s.probes.RegisterProbe("relay.terminated", func() any { return s.coord.Terminated() })
	s.probes.RegisterProbe("relay.capacity", func() any { return s.coord.Capacity() })
	s.probes.RegisterProbe("relay.workers", func() any { return len(s.workers) })
	s.probes.RegisterProbe("relay.broadcast", func() any { return s.cfg.Broadcast.String() })
}

// Run relays until Shutdown is called, ctx is done, or a component fails.
// The acceptor runs on the calling goroutine and each worker on its own.
// On return the listener and every client socket are closed.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return api.ErrAlreadyRunning
	}
	s.log.Info().
		Stringer("addr", s.Addr()).
		Int("max_conns", s.cfg.MaxConnections).
		Int("workers", len(s.workers)).
		Stringer("broadcast", s.cfg.Broadcast).
		Msg("relay listening")

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range s.workers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}
	// a failing worker or a cancelled ctx stops everybody
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-gctx.Done():
			s.coord.Terminate()
		case <-watchDone:
		}
	}()

	acceptErr := s.acceptor.Run(ctx)
	s.coord.Terminate()
	close(watchDone)

	_ = s.ln.Close()
	for _, c := range s.coord.Drain() {
		_ = c.Close()
	}
	joinErr := s.join(g)

	s.log.Info().
		Int("live", s.coord.Live()).
		Fields(s.metrics.GetSnapshot()).
		Msg("relay stopped")
	return errors.Join(acceptErr, joinErr)
}

// join waits for the workers for at most ShutdownTimeout.
func (s *Server) join(g *errgroup.Group) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(s.cfg.ShutdownTimeout):
		s.log.Error().Dur("timeout", s.cfg.ShutdownTimeout).Msg("workers did not stop in time")
		return fmt.Errorf("server: join workers: %w", context.DeadlineExceeded)
	}
}

// Shutdown requests termination and returns without waiting; Run returns
// once the components have observed it.
func (s *Server) Shutdown() error {
	if s.coord.Terminate() {
		s.log.Info().Int("live", s.coord.Live()).Msg("shutdown requested")
	}
	return nil
}

// Close releases every resource of a server whose Run was never called or
// has returned. It must not race with Run.
func (s *Server) Close() error {
	s.running.Store(true)
	if s.coord != nil {
		s.coord.Terminate()
		for _, c := range s.coord.Drain() {
			_ = c.Close()
		}
	}
	if s.acceptor != nil {
		_ = s.acceptor.Close()
	}
	for _, w := range s.workers {
		_ = w.Close()
	}
	return s.ln.Close()
}

// Addr returns the bound listening address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Live returns the number of admitted connections not yet reconciled as
// closed.
func (s *Server) Live() int { return s.coord.Live() }

// Stats returns the counters plus live and pending gauges.
func (s *Server) Stats() map[string]any {
	out := s.metrics.GetSnapshot()
	out["live"] = s.coord.Live()
	out["pending"] = s.coord.Pending()
	return out
}

// DumpState returns the output of every debug probe.
func (s *Server) DumpState() map[string]any {
	return s.probes.DumpState()
}

// RegisterDebugProbe adds a named probe to DumpState.
func (s *Server) RegisterDebugProbe(name string, fn func() any) {
	s.probes.RegisterProbe(name, fn)
}
