// Package bufferpool supplies fixed-size byte buffers for socket reads so
// that sessions do not allocate a fresh receive buffer per connection.
package bufferpool

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the buffer size used when a non-positive size is
// requested.
const DefaultBufferSize = 4096

// Pool is the contract sessions depend on. Acquire hands out a buffer and
// Release takes it back for reuse. A buffer must be released at most once
// per acquisition.
type Pool interface {
	// Acquire returns a buffer owned by the caller until it is released.
	//
	// Returns:
	//   - A byte slice; its contents are unspecified
	Acquire() []byte

	// Release returns a buffer obtained from Acquire to the pool.
	//
	// Parameters:
	//   - buf: The buffer to return
	Release(buf []byte)
}

// Stats is a point-in-time snapshot of pool usage counters.
type Stats struct {
	Acquired    uint64 // Total Acquire calls
	Released    uint64 // Total buffers accepted by Release
	Outstanding int64  // Buffers currently held by callers
}

// FixedPool is a Pool of buffers that all have the same length. It is
// backed by sync.Pool and is safe for concurrent use.
type FixedPool struct {
	size     int
	pool     sync.Pool
	acquired atomic.Uint64
	released atomic.Uint64
}

// NewFixedPool creates a pool handing out buffers of size bytes.
//
// Parameters:
//   - size: Length of every buffer; values <= 0 select DefaultBufferSize
//
// Returns:
//   - A ready to use *FixedPool
func NewFixedPool(size int) *FixedPool {
	if size <= 0 {
		size = DefaultBufferSize
	}

	p := &FixedPool{size: size}
	p.pool.New = func() any {
		buf := make([]byte, p.size)
		return &buf
	}

	return p
}

// Size returns the length of the buffers handed out by the pool.
func (p *FixedPool) Size() int {
	return p.size
}

// Acquire implements Pool. The buffer is not zeroed.
func (p *FixedPool) Acquire() []byte {
	p.acquired.Add(1)
	buf := p.pool.Get().(*[]byte)
	return (*buf)[:p.size]
}

// Release implements Pool. Buffers whose capacity does not match the pool
// size are dropped instead of pooled, and nil is ignored.
func (p *FixedPool) Release(buf []byte) {
	if buf == nil || cap(buf) != p.size {
		return
	}

	p.released.Add(1)
	buf = buf[:p.size]
	p.pool.Put(&buf)
}

// Stats returns the current usage counters.
func (p *FixedPool) Stats() Stats {
	acquired := p.acquired.Load()
	released := p.released.Load()
	return Stats{
		Acquired:    acquired,
		Released:    released,
		Outstanding: int64(acquired) - int64(released),
	}
}
