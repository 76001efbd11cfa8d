// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Relay configuration. All values are fixed at startup.

package control

import (
	"time"

	"github.com/momentics/hioload-relay/api"
)

// Config holds every tunable of the relay.
type Config struct {
	ListenAddr      string             // TCP bind address, e.g. "127.0.0.1:8080"
	Backlog         int                // listen(2) backlog
	MaxConnections  int                // hard cap on live connections across all workers
	Workers         int                // number of relay workers
	MaxMessageSize  int                // per-read buffer size
	PollInterval    time.Duration      // upper bound on a single readiness wait
	WriteTimeout    time.Duration      // how long a peer may stall a broadcast write
	ShutdownTimeout time.Duration      // bound on joining workers after termination
	Broadcast       api.BroadcastScope // worker-local or global fan-out
	BusCapacity     int                // per-worker inbox bound in global mode
	WorkerCPUs      []int              // optional CPU pinning, worker i uses WorkerCPUs[i%len]
	RejectLogBurst  int                // rejection warnings per remote IP per minute
}

// DefaultConfig returns the stock single-worker configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      "127.0.0.1:8080",
		Backlog:         128,
		MaxConnections:  10,
		Workers:         1,
		MaxMessageSize:  1024,
		PollInterval:    10 * time.Millisecond,
		WriteTimeout:    100 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
		Broadcast:       api.ScopeWorker,
		BusCapacity:     256,
		RejectLogBurst:  5,
	}
}

// Validate checks the configuration for values the relay cannot run with.
func (c *Config) Validate() error {
	invalid := func(field string, value any, msg string) error {
		return api.NewError(api.ErrCodeInvalidArgument, "config: "+field+" "+msg).
			WithContext("field", field).
			WithContext("value", value)
	}
	switch {
	case c.ListenAddr == "":
		return invalid("ListenAddr", c.ListenAddr, "must not be empty")
	case c.MaxConnections <= 0:
		return invalid("MaxConnections", c.MaxConnections, "must be positive")
	case c.Workers <= 0:
		return invalid("Workers", c.Workers, "must be positive")
	case c.Workers > c.MaxConnections:
		return invalid("Workers", c.Workers, "must not exceed MaxConnections")
	case c.MaxMessageSize <= 0:
		return invalid("MaxMessageSize", c.MaxMessageSize, "must be positive")
	case c.PollInterval <= 0:
		return invalid("PollInterval", c.PollInterval, "must be positive")
	case c.WriteTimeout <= 0:
		return invalid("WriteTimeout", c.WriteTimeout, "must be positive")
	case c.ShutdownTimeout <= 0:
		return invalid("ShutdownTimeout", c.ShutdownTimeout, "must be positive")
	case c.Broadcast == api.ScopeGlobal && c.BusCapacity <= 0:
		return invalid("BusCapacity", c.BusCapacity, "must be positive in global mode")
	case c.RejectLogBurst < 0:
		return invalid("RejectLogBurst", c.RejectLogBurst, "must not be negative")
	}
	for _, cpu := range c.WorkerCPUs {
		if cpu < 0 {
			return invalid("WorkerCPUs", c.WorkerCPUs, "must not contain negative ids")
		}
	}
	return nil
}

// WorkerCapacities splits MaxConnections across Workers. The remainder of an
// uneven division goes one slot each to the lowest-numbered workers, so the
// sum always equals MaxConnections.
func (c *Config) WorkerCapacities() []int {
	if c.Workers <= 0 {
		return nil
	}
	base, rem := c.MaxConnections/c.Workers, c.MaxConnections%c.Workers
	caps := make([]int, c.Workers)
	for i := range caps {
		caps[i] = base
		if i < rem {
			caps[i]++
		}
	}
	return caps
}

// WorkerCPU returns the CPU worker i should be pinned to, or -1 for none.
func (c *Config) WorkerCPU(i int) int {
	if len(c.WorkerCPUs) == 0 {
		return -1
	}
	return c.WorkerCPUs[i%len(c.WorkerCPUs)]
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	if c.WorkerCPUs != nil {
		out.WorkerCPUs = append([]int(nil), c.WorkerCPUs...)
	}
	return &out
}
