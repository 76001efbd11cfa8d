// control/env.go
// Author: momentics <momentics@gmail.com>
//
// RELAY_* environment overrides.

package control

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/momentics/hioload-relay/api"
)

// Environment variable names understood by ApplyEnv.
const (
	EnvListen          = "RELAY_LISTEN"
	EnvBacklog         = "RELAY_BACKLOG"
	EnvMaxConns        = "RELAY_MAX_CONNS"
	EnvWorkers         = "RELAY_WORKERS"
	EnvMaxMessage      = "RELAY_MAX_MESSAGE"
	EnvPollInterval    = "RELAY_POLL_INTERVAL"
	EnvWriteTimeout    = "RELAY_WRITE_TIMEOUT"
	EnvShutdownTimeout = "RELAY_SHUTDOWN_TIMEOUT"
	EnvBroadcast       = "RELAY_BROADCAST"
	EnvBusCapacity     = "RELAY_BUS_CAPACITY"
	EnvCPUs            = "RELAY_CPUS"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields of cfg from the process environment.
func ApplyEnv(cfg *Config) error {
	return ApplyLookup(cfg, os.LookupEnv)
}

// ApplyLookup overrides fields of cfg from lookup. Unset keys leave the field
// untouched; malformed values are reported with the variable name.
func ApplyLookup(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s=%q: %w", key, v, api.ErrInvalidArgument)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s=%q: %w", key, v, api.ErrInvalidArgument)
		}
		*dst = d
		return nil
	}

	str(EnvListen, &cfg.ListenAddr)
	for _, f := range []struct {
		key string
		dst *int
	}{
		{EnvBacklog, &cfg.Backlog},
		{EnvMaxConns, &cfg.MaxConnections},
		{EnvWorkers, &cfg.Workers},
		{EnvMaxMessage, &cfg.MaxMessageSize},
		{EnvBusCapacity, &cfg.BusCapacity},
	} {
		if err := num(f.key, f.dst); err != nil {
			return err
		}
	}
	for _, f := range []struct {
		key string
		dst *time.Duration
	}{
		{EnvPollInterval, &cfg.PollInterval},
		{EnvWriteTimeout, &cfg.WriteTimeout},
		{EnvShutdownTimeout, &cfg.ShutdownTimeout},
	} {
		if err := dur(f.key, f.dst); err != nil {
			return err
		}
	}
	if v, ok := lookup(EnvBroadcast); ok && v != "" {
		scope, err := api.ParseBroadcastScope(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBroadcast, err)
		}
		cfg.Broadcast = scope
	}
	if v, ok := lookup(EnvCPUs); ok && v != "" {
		cpus, err := ParseCPUList(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCPUs, err)
		}
		cfg.WorkerCPUs = cpus
	}
	return nil
}

// ParseCPUList parses "0,2,4" into CPU ids. An empty string yields nil.
func ParseCPUList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("cpu list %q: %w", s, api.ErrInvalidArgument)
		}
		out = append(out, n)
	}
	return out, nil
}
