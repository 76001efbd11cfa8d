//go:build unix

package relay_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/internal/relay"
	"github.com/momentics/hioload-relay/pool"
)

const waitFor = 2 * time.Second

type workerHarness struct {
	coord   *relay.Coordinator
	metrics *control.MetricsRegistry
	stop    func()
}

func startWorkers(t *testing.T, capacity int, caps []int, bus *relay.Bus, opts relay.WorkerOptions) *workerHarness {
	t.Helper()
	h := &workerHarness{
		coord:   relay.NewCoordinator(capacity),
		metrics: control.NewMetricsRegistry(),
	}
	errs := make(chan error, len(caps))
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	opts.Metrics = h.metrics
	opts.Bus = bus
	ctx, cancel := context.WithCancel(context.Background())
	for i, c := range caps {
		w, err := relay.NewWorker(i, c, h.coord, opts)
		require.NoError(t, err)
		go func() { errs <- w.Run(ctx) }()
	}
	var once sync.Once
	h.stop = func() {
		once.Do(func() {
			h.coord.Terminate()
			cancel()
			for range caps {
				select {
				case err := <-errs:
					assert.NoError(t, err)
				case <-time.After(waitFor):
					t.Error("worker did not stop")
				}
			}
		})
	}
	t.Cleanup(h.stop)
	return h
}

// connect admits a fresh connection and waits until a worker owns it.
func (h *workerHarness) connect(t *testing.T) net.Conn {
	t.Helper()
	server, client := newPeer(t)
	// stop the workers before the peer's own cleanup closes its sockets
	t.Cleanup(h.stop)
	require.NoError(t, h.coord.Admit(server))
	require.Eventually(t, func() bool { return h.coord.Pending() == 0 }, waitFor, time.Millisecond)
	return client
}

func TestWorkerBroadcastsToOtherPeers(t *testing.T) {
	h := startWorkers(t, 3, []int{3}, nil, relay.WorkerOptions{})
	a := h.connect(t)
	b := h.connect(t)
	c := h.connect(t)

	_, err := a.Write([]byte("hi"))
	require.NoError(t, err)

	assert.Equal(t, "hi", string(readExactly(t, b, 2, waitFor)))
	assert.Equal(t, "hi", string(readExactly(t, c, 2, waitFor)))
	assertSilent(t, a, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		return h.metrics.Counter(control.MetricBytesOut).Load() == 4
	}, waitFor, time.Millisecond)
	assert.Equal(t, int64(2), h.metrics.Counter(control.MetricBytesIn).Load())
}

func TestWorkerRelaysLargePayloadAsStream(t *testing.T) {
	h := startWorkers(t, 2, []int{2}, nil, relay.WorkerOptions{MaxMessageSize: 16})
	a := h.connect(t)
	b := h.connect(t)

	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	go func() { _, _ = a.Write(payload) }()

	// a 16-byte read buffer splits the payload; the stream is unchanged
	assert.Equal(t, payload, readExactly(t, b, len(payload), waitFor))
}

func TestWorkerEvictsClosedPeer(t *testing.T) {
	h := startWorkers(t, 2, []int{2}, nil, relay.WorkerOptions{})
	a := h.connect(t)
	b := h.connect(t)
	assert.Equal(t, 2, h.coord.Live())

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return h.coord.Live() == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, int64(1), h.metrics.Counter(control.MetricEvicted).Load())

	// the freed slot is usable again
	d := h.connect(t)
	assert.Equal(t, 2, h.coord.Live())
	_, err := d.Write([]byte("again"))
	require.NoError(t, err)
	assert.Equal(t, "again", string(readExactly(t, b, 5, waitFor)))
}

func TestWorkerEvictsStalledPeerNotSender(t *testing.T) {
	h := startWorkers(t, 2, []int{2}, nil, relay.WorkerOptions{WriteTimeout: 10 * time.Millisecond})
	a := h.connect(t)
	stalled := h.connect(t) // never reads

	chunk := make([]byte, 64*1024)
	go func() {
		for i := 0; i < 256; i++ {
			_ = a.SetWriteDeadline(time.Now().Add(waitFor))
			if _, err := a.Write(chunk); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool {
		return h.metrics.Counter(control.MetricEvicted).Load() == 1
	}, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return h.coord.Live() == 1 }, waitFor, time.Millisecond)
	assertClosedEventually(t, stalled)
}

// assertClosedEventually discards buffered bytes until c reports closure.
func assertClosedEventually(t *testing.T, c net.Conn) {
	t.Helper()
	buf := make([]byte, 64*1024)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, err := c.Read(buf); err != nil {
			var ne net.Error
			require.False(t, errors.As(err, &ne) && ne.Timeout(), "stalled peer was not closed")
			return
		}
	}
}

func TestWorkerShutdownClosesConnections(t *testing.T) {
	coord := relay.NewCoordinator(2)
	w, err := relay.NewWorker(0, 2, coord, relay.WorkerOptions{PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	server, client := newPeer(t)
	require.NoError(t, coord.Admit(server))
	require.Eventually(t, func() bool { return coord.Pending() == 0 }, waitFor, time.Millisecond)

	require.True(t, coord.Terminate())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("worker did not observe termination")
	}
	assertClosed(t, client, waitFor)
	assert.Zero(t, coord.Live())
}

func TestWorkerStopsOnContext(t *testing.T) {
	coord := relay.NewCoordinator(1)
	w, err := relay.NewWorker(0, 1, coord, relay.WorkerOptions{PollInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("worker ignored context cancellation")
	}
}

func TestNewWorkerRejectsZeroCapacity(t *testing.T) {
	_, err := relay.NewWorker(0, 0, relay.NewCoordinator(1), relay.WorkerOptions{})
	require.Error(t, err)
}

func TestWorkerScopeDoesNotCrossWorkers(t *testing.T) {
	h := startWorkers(t, 2, []int{1, 1}, nil, relay.WorkerOptions{})
	a := h.connect(t)
	b := h.connect(t)

	_, err := a.Write([]byte("local"))
	require.NoError(t, err)
	assertSilent(t, b, 100*time.Millisecond)
}

func TestWorkerGlobalScopeUsesBus(t *testing.T) {
	metrics := control.NewMetricsRegistry()
	bus := relay.NewBus(2, 16, pool.NewBytePool(64), metrics.Counter(control.MetricBusDropped))
	h := startWorkers(t, 2, []int{1, 1}, bus, relay.WorkerOptions{})
	a := h.connect(t)
	b := h.connect(t)

	_, err := a.Write([]byte("global"))
	require.NoError(t, err)
	assert.Equal(t, "global", string(readExactly(t, b, 6, waitFor)))
	assertSilent(t, a, 50*time.Millisecond)

	_, err = b.Write([]byte("back"))
	require.NoError(t, err)
	assert.Equal(t, "back", string(readExactly(t, a, 4, waitFor)))
}
