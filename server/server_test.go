//go:build unix

package server_test

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/server"
)

const waitFor = 3 * time.Second

func testConfig() *control.Config {
	cfg := control.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.PollInterval = 5 * time.Millisecond
	cfg.ShutdownTimeout = waitFor
	return cfg
}

// startServer runs s in the background and stops it at test end. The
// returned wait blocks until Run has returned and yields its error.
func startServer(t *testing.T, cfg *control.Config) (*server.Server, func() error) {
	t.Helper()
	s, err := server.NewServer(cfg)
	require.NoError(t, err)
	stopped := make(chan struct{})
	var runErr error
	go func() {
		defer close(stopped)
		runErr = s.Run(context.Background())
	}()
	wait := func() error {
		select {
		case <-stopped:
			return runErr
		case <-time.After(waitFor):
			return errors.New("server did not stop")
		}
	}
	t.Cleanup(func() {
		_ = s.Shutdown()
		assert.NoError(t, wait())
	})
	return s, wait
}

func dial(t *testing.T, s *server.Server) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", s.Addr().String(), waitFor)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitLive(t *testing.T, s *server.Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Live() == n && s.Stats()["pending"] == 0
	}, waitFor, time.Millisecond, "live never reached %d", n)
}

func readN(t *testing.T, c net.Conn, n int) string {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
	buf := make([]byte, n)
	_, err := io.ReadFull(c, buf)
	require.NoError(t, err)
	return string(buf)
}

func requireClosed(t *testing.T, c net.Conn) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(waitFor)))
	n, err := c.Read(make([]byte, 16))
	require.Zero(t, n)
	require.Error(t, err)
	var ne net.Error
	require.False(t, errors.As(err, &ne) && ne.Timeout(), "connection still open")
}

func requireSilent(t *testing.T, c net.Conn) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	n, err := c.Read(make([]byte, 16))
	require.Zero(t, n)
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "unexpected read result: %v", err)
}

func TestRelayEndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 2
	s, _ := startServer(t, cfg)

	a := dial(t, s)
	b := dial(t, s)
	waitLive(t, s, 2)

	_, err := a.Write([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hi", readN(t, b, 2))
	requireSilent(t, a)

	c := dial(t, s)
	requireClosed(t, c)
	assert.Equal(t, 2, s.Live())

	require.NoError(t, a.Close())
	waitLive(t, s, 1)

	d := dial(t, s)
	waitLive(t, s, 2)
	_, err = d.Write([]byte("yo"))
	require.NoError(t, err)
	assert.Equal(t, "yo", readN(t, b, 2))

	stats := s.Stats()
	assert.Equal(t, int64(3), stats[control.MetricAccepted])
	assert.Equal(t, int64(1), stats[control.MetricRejected])
	assert.Equal(t, int64(1), stats[control.MetricEvicted])
}

func TestShutdownClosesClientsAndStopsAccepting(t *testing.T) {
	cfg := testConfig()
	s, wait := startServer(t, cfg)
	addr := s.Addr().String()

	a := dial(t, s)
	waitLive(t, s, 1)

	require.NoError(t, s.Shutdown())
	require.NoError(t, wait())

	requireClosed(t, a)
	assert.Zero(t, s.Live())
	assert.Equal(t, true, s.DumpState()["relay.terminated"])

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err, "listener still accepting")
}

func TestRunStopsOnContext(t *testing.T) {
	s, err := server.NewServer(testConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run ignored context cancellation")
	}
}

func TestRunTwice(t *testing.T) {
	s, _ := startServer(t, testConfig())
	// an admitted connection proves the first Run is underway
	dial(t, s)
	waitLive(t, s, 1)
	require.ErrorIs(t, s.Run(context.Background()), api.ErrAlreadyRunning)
}

func TestNewServerBindFailure(t *testing.T) {
	s, _ := startServer(t, testConfig())
	cfg := testConfig()
	cfg.ListenAddr = s.Addr().String()
	_, err := server.NewServer(cfg)
	require.Error(t, err)
}

func TestNewServerInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 0
	_, err := server.NewServer(cfg)
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestNewServerClose(t *testing.T) {
	s, err := server.NewServer(testConfig())
	require.NoError(t, err)
	addr := s.Addr().String()
	require.NoError(t, s.Close())
	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
	require.ErrorIs(t, s.Run(context.Background()), api.ErrAlreadyRunning)
}

func TestWorkerScopeIsolatesWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 2
	cfg.Workers = 2
	s, _ := startServer(t, cfg)

	a := dial(t, s)
	b := dial(t, s)
	waitLive(t, s, 2)

	_, err := a.Write([]byte("x"))
	require.NoError(t, err)
	requireSilent(t, b)
}

func TestGlobalScopeCrossesWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 2
	cfg.Workers = 2
	cfg.Broadcast = api.ScopeGlobal
	s, _ := startServer(t, cfg)

	a := dial(t, s)
	b := dial(t, s)
	waitLive(t, s, 2)

	_, err := a.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "ping", readN(t, b, 4))
	_, err = b.Write([]byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, "pong", readN(t, a, 4))
	requireSilent(t, a)
}

func TestDebugProbes(t *testing.T) {
	s, err := server.NewServer(testConfig(), server.WithDebugProbes(control.NewDebugProbes()))
	require.NoError(t, err)
	defer s.Close()

	s.RegisterDebugProbe("custom", func() any { return 42 })
	state := s.DumpState()
	assert.Equal(t, 42, state["custom"])
	assert.Equal(t, 0, state["relay.live"])
	assert.Equal(t, 10, state["relay.capacity"])
	assert.Contains(t, state, "platform.cpus")
}
