// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components that can be asked to stop.
type GracefulShutdown interface {
	// Shutdown requests a cooperative stop and returns without waiting for it.
	// Calling it more than once is safe.
	Shutdown() error
}
