// Package bufpool provides a bounded free list of byte buffers whose
// ownership moves between pipeline stages.
package bufpool

import "sync/atomic"

// Pool recycles byte buffers through a bounded channel.
//
// Buffers are handed out as *Buffer handles. A handle belongs to exactly one
// goroutine at a time; passing it to another stage is a move, and the last
// owner must call Release. Once released the handle is dead and any further
// use panics.
type Pool struct {
	free chan []byte

	allocs atomic.Int64 // backing arrays created
	reuses atomic.Int64 // Gets served from the free list
	live   atomic.Int64 // handles out and not yet released
	peak   atomic.Int64
}

// New creates a pool that keeps at most capacity idle buffers.
// Buffers released while the free list is full are dropped.
func New(capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{free: make(chan []byte, capacity)}
}

// Get returns a buffer of exactly size bytes. It never blocks: an idle
// buffer is reused when one is available, otherwise a new one is allocated.
// The contents of a reused buffer are unspecified.
func (p *Pool) Get(size int) *Buffer {
	var b []byte
	select {
	case b = <-p.free:
		if cap(b) < size {
			b = make([]byte, size)
			p.allocs.Add(1)
		} else {
			b = b[:size]
			p.reuses.Add(1)
		}
	default:
		b = make([]byte, size)
		p.allocs.Add(1)
	}

	n := p.live.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return &Buffer{b: b, pool: p}
}

func (p *Pool) put(b []byte) {
	p.live.Add(-1)
	select {
	case p.free <- b[:0]:
	default:
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Allocs int64 // backing arrays allocated
	Reuses int64 // Gets served from the free list
	Live   int64 // buffers currently owned by a stage
	Peak   int64 // maximum simultaneously live buffers
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Allocs: p.allocs.Load(),
		Reuses: p.reuses.Load(),
		Live:   p.live.Load(),
		Peak:   p.peak.Load(),
	}
}

// Buffer is a pooled byte slice with a single owner.
type Buffer struct {
	b    []byte
	pool *Pool
}

// Bytes returns the buffer contents. The slice must not be retained after
// Release.
func (b *Buffer) Bytes() []byte {
	if b.pool == nil {
		panic("bufpool: use of released buffer")
	}
	return b.b
}

// Len returns the buffer length.
func (b *Buffer) Len() int {
	return len(b.Bytes())
}

// Release hands the buffer back to its pool and invalidates the handle.
func (b *Buffer) Release() {
	if b.pool == nil {
		panic("bufpool: buffer released twice")
	}
	p := b.pool
	buf := b.b
	b.pool = nil
	b.b = nil
	p.put(buf)
}
