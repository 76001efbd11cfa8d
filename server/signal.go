// File: server/signal.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process signal hook for graceful shutdown.

package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/momentics/hioload-relay/api"
)

// InstallShutdown calls target.Shutdown on the first of sigs (SIGINT and
// SIGTERM when none are given). The hook is removed when ctx is done or the
// returned stop function is called.
func InstallShutdown(ctx context.Context, target api.GracefulShutdown, sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer signal.Stop(ch)
		select {
		case <-ch:
			_ = target.Shutdown()
		case <-ctx.Done():
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
