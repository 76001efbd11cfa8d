// Package control
// Author: momentics <momentics@gmail.com>
//
// Startup configuration, runtime metrics and debug introspection for
// hioload-relay.
//
// Provides concurrent-safe state handling primitives including:
//   - Fixed startup configuration with validation and RELAY_* environment overrides
//   - Lock-free counters registered by name
//   - Debug probes that report live state on demand
package control
