// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides a per-goroutine readiness set for non-blocking
// sockets: epoll with an eventfd wake-up on Linux, poll(2) with a self-pipe on
// the other unix platforms.
//
// A Reactor is owned by one goroutine. Only Wake may be called concurrently,
// which lets producers interrupt a Wait that is parked in the kernel.
package reactor
