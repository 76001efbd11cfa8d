// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for relay monitoring.
// Counters are registered by name and updated lock-free on the hot path.

package control

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metric names maintained by the relay.
const (
	MetricAccepted         = "relay_accepted_total"
	MetricRejected         = "relay_rejected_total"
	MetricEvicted          = "relay_evicted_total"
	MetricBytesIn          = "relay_bytes_in_total"
	MetricBytesOut         = "relay_bytes_out_total"
	MetricHandoffs         = "relay_handoffs_total"
	MetricHandoffContended = "relay_handoff_contended_total"
	MetricBusDropped       = "relay_bus_dropped_total"
)

// Counter is a monotonically increasing value.
type Counter struct {
	v atomic.Int64
}

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.v.Add(n) }

// Inc increments the counter by one.
func (c *Counter) Inc() { c.v.Add(1) }

// Load returns the current value.
func (c *Counter) Load() int64 { return c.v.Load() }

// MetricsRegistry holds named counters.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	started  time.Time
}

// NewMetricsRegistry creates a registry with the relay counters pre-registered.
func NewMetricsRegistry() *MetricsRegistry {
	mr := &MetricsRegistry{
		counters: make(map[string]*Counter),
		started:  time.Now(),
	}
	for _, name := range []string{
		MetricAccepted, MetricRejected, MetricEvicted,
		MetricBytesIn, MetricBytesOut,
		MetricHandoffs, MetricHandoffContended, MetricBusDropped,
	} {
		mr.counters[name] = &Counter{}
	}
	return mr
}

// Counter returns the counter registered under name, creating it on first use.
// Callers on hot paths should look the counter up once and keep the pointer.
func (mr *MetricsRegistry) Counter(name string) *Counter {
	mr.mu.RLock()
	c, ok := mr.counters[name]
	mr.mu.RUnlock()
	if ok {
		return c
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if c, ok = mr.counters[name]; !ok {
		c = &Counter{}
		mr.counters[name] = c
	}
	return c
}

// GetSnapshot returns the current value of every counter plus uptime.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.counters)+1)
	for k, c := range mr.counters {
		out[k] = c.Load()
	}
	out["uptime_seconds"] = int64(time.Since(mr.started) / time.Second)
	return out
}
