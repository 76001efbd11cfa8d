// Package pool
// Author: momentics <momentics@gmail.com>
//
// Reusable byte buffers for the relay fan-out path. Payloads that cross
// worker boundaries are copied into pooled buffers so the reading worker can
// reuse its fixed read buffer immediately.
package pool
