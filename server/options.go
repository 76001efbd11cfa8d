// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-relay/control"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger sets the logger handed to every component. The default discards
// all output.
func WithLogger(log zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithMetrics shares an existing metrics registry.
func WithMetrics(mr *control.MetricsRegistry) ServerOption {
	return func(s *Server) {
		if mr != nil {
			s.metrics = mr
		}
	}
}

// WithDebugProbes shares an existing probe registry.
func WithDebugProbes(dp *control.DebugProbes) ServerOption {
	return func(s *Server) {
		if dp != nil {
			s.probes = dp
		}
	}
}
