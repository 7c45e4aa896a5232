// Package shmring provides a single-producer, single-consumer ring of
// length-prefixed frames. The producer side is safe to call from an
// interrupt handler or reader goroutine; it never blocks or allocates.
package shmring

import (
	"sync/atomic"
)

// MaxFrame is the largest frame a ring record can carry.
const MaxFrame = 255

// Ring is a single-producer, single-consumer frame ring.
type Ring struct {
	buf  []byte
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic)
	wr   atomic.Uint32 // producer index (monotonic)

	frames atomic.Int32
	drops  atomic.Uint32

	readable chan struct{} // empty -> non-empty edge
}

// New allocates a ring of size bytes. size must be a power of two >= 2.
func New(size int) *Ring {
	if size < 2 || (size&(size-1)) != 0 {
		panic("shmring: size must be power of two >= 2")
	}
	return &Ring{
		buf:      make([]byte, size),
		mask:     uint32(size - 1),
		readable: make(chan struct{}, 1),
	}
}

func (r *Ring) size() uint32 { return uint32(len(r.buf)) }

// Space returns free bytes (including record headers).
func (r *Ring) Space() int {
	return int(r.size() - (r.wr.Load() - r.rd.Load()))
}

// Len returns the number of complete frames waiting.
func (r *Ring) Len() int { return int(r.frames.Load()) }

// Drops returns the number of frames rejected for lack of space.
func (r *Ring) Drops() uint32 { return r.drops.Load() }

// Readable delivers a token on the empty -> non-empty transition.
func (r *Ring) Readable() <-chan struct{} { return r.readable }

// Push appends one frame. It returns false (and counts a drop) when the frame
// is empty, longer than MaxFrame, or does not fit.
func (r *Ring) Push(frame []byte) bool {
	n := len(frame)
	if n == 0 || n > MaxFrame {
		r.drops.Add(1)
		return false
	}
	rd := r.rd.Load()
	wr := r.wr.Load()
	if int(r.size()-(wr-rd)) < n+1 {
		r.drops.Add(1)
		return false
	}
	r.buf[wr&r.mask] = byte(n)
	r.copyIn(wr+1, frame)
	r.wr.Store(wr + uint32(n) + 1) // release

	if r.frames.Add(1) == 1 {
		select {
		case r.readable <- struct{}{}:
		default:
		}
	}
	return true
}

// Pop removes the oldest frame, copying up to len(dst) bytes of it.
// It returns the number of bytes copied and false when the ring is empty.
// A frame longer than dst is truncated.
func (r *Ring) Pop(dst []byte) (int, bool) {
	rd := r.rd.Load()
	wr := r.wr.Load() // acquire
	if wr == rd {
		return 0, false
	}
	n := int(r.buf[rd&r.mask])
	c := n
	if c > len(dst) {
		c = len(dst)
	}
	r.copyOut(dst[:c], rd+1)
	r.rd.Store(rd + uint32(n) + 1) // release
	r.frames.Add(-1)
	return c, true
}

func (r *Ring) copyIn(at uint32, src []byte) {
	idx := at & r.mask
	first := int(r.size() - idx)
	if first > len(src) {
		first = len(src)
	}
	copy(r.buf[idx:idx+uint32(first)], src[:first])
	if first < len(src) {
		copy(r.buf, src[first:])
	}
}

func (r *Ring) copyOut(dst []byte, at uint32) {
	idx := at & r.mask
	first := int(r.size() - idx)
	if first > len(dst) {
		first = len(dst)
	}
	copy(dst[:first], r.buf[idx:idx+uint32(first)])
	if first < len(dst) {
		copy(dst[first:], r.buf)
	}
}
