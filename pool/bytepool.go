// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"sync"
	"sync/atomic"
)

// BytePool hands out byte slices with capacity of at least size.
type BytePool struct {
	size  int
	pool  sync.Pool
	gets  atomic.Int64
	puts  atomic.Int64
	fresh atomic.Int64
}

// NewBytePool creates a pool of size-byte buffers.
func NewBytePool(size int) *BytePool {
	b := &BytePool{size: size}
	b.pool.New = func() any {
		b.fresh.Add(1)
		buf := make([]byte, size)
		return &buf
	}
	return b
}

// Size returns the buffer capacity the pool was created with.
func (b *BytePool) Size() int { return b.size }

// Get returns a buffer of length n. Requests larger than Size are allocated
// directly and are not retained by PutBuffer.
func (b *BytePool) Get(n int) []byte {
	b.gets.Add(1)
	if n > b.size {
		return make([]byte, n)
	}
	buf := *(b.pool.Get().(*[]byte))
	return buf[:n]
}

// Copy returns a pooled buffer holding a copy of p.
func (b *BytePool) Copy(p []byte) []byte {
	buf := b.Get(len(p))
	copy(buf, p)
	return buf
}

// Put returns a buffer obtained from Get.
func (b *BytePool) Put(buf []byte) {
	if cap(buf) != b.size {
		return
	}
	b.puts.Add(1)
	buf = buf[:cap(buf)]
	b.pool.Put(&buf)
}

// Stats reports pool usage counters.
func (b *BytePool) Stats() map[string]int64 {
	return map[string]int64{
		"gets":      b.gets.Load(),
		"puts":      b.puts.Load(),
		"allocated": b.fresh.Load(),
	}
}
