package audio

import (
	"sync"
	"sync/atomic"
)

// Ring is a fixed-capacity frame buffer between the capture task and the
// segmenter. Write never waits for the reader: when the buffer is full the
// oldest unread frame is overwritten and OverflowCount increments. The lock
// is held only for index bookkeeping.
type Ring struct {
	mu     sync.Mutex
	buf    []Frame
	head   int // index of the oldest unread frame
	size   int
	closed bool

	overflow atomic.Uint64
	notify   chan struct{}
}

// NewRing allocates a ring holding up to capacity frames (minimum 1).
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		buf:    make([]Frame, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Cap returns the capacity in frames.
func (r *Ring) Cap() int { return len(r.buf) }

// Write appends f, dropping the oldest unread frame if the ring is full.
// It reports whether a frame was dropped. Writes after Close are ignored.
func (r *Ring) Write(f Frame) (dropped bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if r.size == len(r.buf) {
		r.buf[r.head] = Frame{}
		r.head = (r.head + 1) % len(r.buf)
		r.size--
		dropped = true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = f
	r.size++
	r.mu.Unlock()

	if dropped {
		r.overflow.Add(1)
	}
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return dropped
}

// TryRead pops the oldest frame without waiting.
func (r *Ring) TryRead() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return Frame{}, false
	}
	f := r.buf[r.head]
	r.buf[r.head] = Frame{}
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return f, true
}

// Ready is signalled after writes. A single signal may cover several frames,
// so receivers should drain with TryRead.
func (r *Ring) Ready() <-chan struct{} { return r.notify }

// Len returns the number of unread frames.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// OverflowCount returns how many frames have been dropped.
func (r *Ring) OverflowCount() uint64 { return r.overflow.Load() }

// Close stops accepting writes. Unread frames stay readable with TryRead.
func (r *Ring) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Closed reports whether Close was called.
func (r *Ring) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
