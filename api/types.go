// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

import (
	"fmt"
	"strings"
)

// BroadcastScope selects which peers receive bytes read from a connection.
type BroadcastScope int

const (
	// ScopeWorker delivers only to peers owned by the same worker.
	ScopeWorker BroadcastScope = iota
	// ScopeGlobal additionally fans out through the bus to every other worker.
	ScopeGlobal
)

func (s BroadcastScope) String() string {
	switch s {
	case ScopeWorker:
		return "worker"
	case ScopeGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// ParseBroadcastScope converts "worker" or "global" into a BroadcastScope.
func ParseBroadcastScope(s string) (BroadcastScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "worker":
		return ScopeWorker, nil
	case "global":
		return ScopeGlobal, nil
	default:
		return ScopeWorker, fmt.Errorf("broadcast scope %q: %w", s, ErrInvalidArgument)
	}
}
