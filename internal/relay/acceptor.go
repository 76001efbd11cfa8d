//go:build unix

// File: internal/relay/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Acceptor: admits new connections into the coordinator or rejects them at
// capacity.

package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/internal/transport"
	"github.com/momentics/hioload-relay/reactor"
)

// AcceptorOptions tunes an Acceptor.
type AcceptorOptions struct {
	PollInterval time.Duration
	// RejectLogBurst limits capacity warnings per remote IP per minute;
	// zero logs rejections at debug level only.
	RejectLogBurst int
	Metrics        *control.MetricsRegistry
	Logger         zerolog.Logger
}

// Acceptor owns the listening socket.
type Acceptor struct {
	ln           *transport.Listener
	coord        *Coordinator
	reactor      reactor.Reactor
	pollInterval time.Duration
	limiter      *catrate.Limiter
	log          zerolog.Logger
	accepted     *control.Counter
	rejected     *control.Counter
}

// NewAcceptor prepares an acceptor for ln. The listener stays owned by the
// caller.
func NewAcceptor(ln *transport.Listener, coord *Coordinator, opts AcceptorOptions) (*Acceptor, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = control.DefaultConfig().PollInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = control.NewMetricsRegistry()
	}
	r, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("acceptor: %w", err)
	}
	if err := r.Add(ln.Fd()); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("acceptor: %w", err)
	}
	a := &Acceptor{
		ln:           ln,
		coord:        coord,
		reactor:      r,
		pollInterval: opts.PollInterval,
		log:          opts.Logger.With().Str("component", "acceptor").Logger(),
		accepted:     opts.Metrics.Counter(control.MetricAccepted),
		rejected:     opts.Metrics.Counter(control.MetricRejected),
	}
	if opts.RejectLogBurst > 0 {
		a.limiter = catrate.NewLimiter(map[time.Duration]int{time.Minute: opts.RejectLogBurst})
	}
	coord.Register(r)
	return a, nil
}

// Run accepts until the coordinator terminates, ctx is done, or accept fails
// with a non-transient error. A fatal error also terminates the coordinator
// so the workers wind down with the acceptor.
func (a *Acceptor) Run(ctx context.Context) error {
	defer a.reactor.Close()
	ready := make([]int, 1)
	for {
		if ctx.Err() != nil || a.coord.Terminated() {
			return nil
		}
		if err := a.acceptPending(); err != nil {
			a.log.Error().Err(err).Msg("accept loop failed")
			a.coord.Terminate()
			return err
		}
		if _, err := a.reactor.Wait(a.pollInterval, ready); err != nil {
			a.log.Error().Err(err).Msg("listener readiness failed")
			a.coord.Terminate()
			return fmt.Errorf("acceptor: %w", err)
		}
	}
}

// acceptPending drains the listen backlog.
func (a *Acceptor) acceptPending() error {
	for {
		if a.coord.Terminated() {
			return nil
		}
		conn, err := a.ln.Accept()
		switch {
		case errors.Is(err, api.ErrWouldBlock):
			return nil
		case err != nil && transport.IsTemporary(err):
			continue
		case err != nil:
			return err
		}
		a.admit(conn)
	}
}

func (a *Acceptor) admit(conn *transport.Conn) {
	err := a.coord.Admit(conn)
	if err == nil {
		a.accepted.Inc()
		a.log.Debug().Str("conn", conn.ID()).Stringer("remote", conn).Msg("connection admitted")
		return
	}
	_ = conn.Close()
	if errors.Is(err, api.ErrCapacityExhausted) {
		a.rejected.Inc()
		a.logRejection(conn)
	}
}

func (a *Acceptor) logRejection(conn *transport.Conn) {
	host := conn.String()
	if ta, ok := conn.RemoteAddr().(*net.TCPAddr); ok && ta != nil {
		host = ta.IP.String()
	}
	if a.limiter != nil {
		if _, ok := a.limiter.Allow(host); ok {
			a.log.Warn().Str("remote", host).Int("capacity", a.coord.Capacity()).Msg("connection rejected: at capacity")
			return
		}
	}
	a.log.Debug().Str("remote", host).Msg("connection rejected: at capacity")
}

// Close releases the acceptor's reactor. It is only needed when Run was never
// called.
func (a *Acceptor) Close() error {
	return a.reactor.Close()
}
