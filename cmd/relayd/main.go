//go:build unix

// File: cmd/relayd/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// relayd runs the TCP broadcast relay until SIGINT or SIGTERM.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/server"
)

const (
	envLogLevel  = "RELAY_LOG_LEVEL"
	envLogFormat = "RELAY_LOG_FORMAT"
)

type logOptions struct {
	level  string
	format string
}

func main() {
	os.Exit(run(os.Args[1:], os.LookupEnv, os.Stderr))
}

func run(args []string, lookup control.LookupFunc, stderr io.Writer) int {
	cfg, lo, err := parseArgs(args, lookup, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "relayd: %v\n", err)
		return 1
	}
	log, err := newLogger(lo, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "relayd: %v\n", err)
		return 1
	}

	srv, err := server.NewServer(cfg, server.WithLogger(log))
	if err != nil {
		log.Error().Err(err).Str("listen", cfg.ListenAddr).Msg("startup failed")
		return 1
	}
	defer srv.Close()

	stop := server.InstallShutdown(context.Background(), srv)
	defer stop()

	if err := srv.Run(context.Background()); err != nil {
		log.Error().Err(err).Msg("relay failed")
		return 1
	}
	return 0
}

// parseArgs layers flags over RELAY_* variables over the defaults.
func parseArgs(args []string, lookup control.LookupFunc, output io.Writer) (*control.Config, logOptions, error) {
	cfg := control.DefaultConfig()
	if err := control.ApplyLookup(cfg, lookup); err != nil {
		return nil, logOptions{}, err
	}
	lo := logOptions{level: "info", format: "console"}
	if v, ok := lookup(envLogLevel); ok && v != "" {
		lo.level = v
	}
	if v, ok := lookup(envLogFormat); ok && v != "" {
		lo.format = v
	}

	fs := flag.NewFlagSet("relayd", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "listen address ("+control.EnvListen+")")
	fs.IntVar(&cfg.Backlog, "backlog", cfg.Backlog, "listen backlog ("+control.EnvBacklog+")")
	fs.IntVar(&cfg.MaxConnections, "max-conns", cfg.MaxConnections, "maximum live connections ("+control.EnvMaxConns+")")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of relay workers ("+control.EnvWorkers+")")
	fs.IntVar(&cfg.MaxMessageSize, "max-message", cfg.MaxMessageSize, "read buffer size in bytes ("+control.EnvMaxMessage+")")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "readiness wait bound ("+control.EnvPollInterval+")")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "stalled peer eviction timeout ("+control.EnvWriteTimeout+")")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "worker join bound ("+control.EnvShutdownTimeout+")")
	fs.IntVar(&cfg.BusCapacity, "bus-capacity", cfg.BusCapacity, "per-worker inbox bound in global mode ("+control.EnvBusCapacity+")")
	broadcast := fs.String("broadcast", cfg.Broadcast.String(), "broadcast scope: worker or global ("+control.EnvBroadcast+")")
	cpus := fs.String("cpus", joinInts(cfg.WorkerCPUs), "comma separated CPUs to pin workers to ("+control.EnvCPUs+")")
	fs.StringVar(&lo.level, "log-level", lo.level, "debug, info, warn or error ("+envLogLevel+")")
	fs.StringVar(&lo.format, "log-format", lo.format, "console or json ("+envLogFormat+")")
	if err := fs.Parse(args); err != nil {
		return nil, logOptions{}, err
	}

	scope, err := api.ParseBroadcastScope(*broadcast)
	if err != nil {
		return nil, logOptions{}, err
	}
	cfg.Broadcast = scope
	if cfg.WorkerCPUs, err = control.ParseCPUList(*cpus); err != nil {
		return nil, logOptions{}, err
	}
	return cfg, lo, nil
}

func newLogger(lo logOptions, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(lo.level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", lo.level, api.ErrInvalidArgument)
	}
	switch lo.format {
	case "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("log format %q: %w", lo.format, api.ErrInvalidArgument)
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "relayd").Logger(), nil
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}
