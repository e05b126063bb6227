// Package rowring provides the bounded queue of sample rows shared between
// the production goroutine and consumer-side Read/Write calls.
//
// The queue is a fixed-capacity ring with monotonic produced/consumed
// counters and an edge-triggered overflow flag. A push against a full ring
// discards the new row and arms the flag; rows already buffered are never
// evicted. One mutex guards all shared state, so Push, PopBatch and
// TakeOverflow are mutually exclusive.
package rowring

import "sync"

// Ring is a bounded single-producer, multi-consumer queue.
// Beware! You almost certainly want T to be a small value or slice type.
type Ring[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // index of the oldest buffered row
	length   int // number of buffered rows
	produced uint64
	consumed uint64
	overflow bool

	ready chan struct{} // signaled on Push (and on overflow) to wake blocked readers
	space chan struct{} // signaled on PopBatch/Clear to wake blocked writers
}

// NewRing creates a Ring holding up to capacity rows. A capacity below 1 is
// raised to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf:   make([]T, capacity),
		ready: make(chan struct{}, 1),
		space: make(chan struct{}, 1),
	}
}

// Push appends row to the ring. If the ring is full, row is discarded, the
// overflow flag is armed, and Push returns false. Blocked readers are woken
// either way so they can observe the overflow.
func (r *Ring[T]) Push(row T) bool {
	r.mu.Lock()
	if r.length == len(r.buf) {
		r.overflow = true
		r.mu.Unlock()
		r.notify(r.ready)
		return false
	}
	r.buf[(r.head+r.length)%len(r.buf)] = row
	r.length++
	r.produced++
	r.mu.Unlock()
	r.notify(r.ready)
	return true
}

// PopBatch dequeues up to maxN currently buffered rows. It returns nil when
// the ring is empty and never blocks.
func (r *Ring[T]) PopBatch(maxN int) []T {
	r.mu.Lock()
	n := r.length
	if n > maxN {
		n = maxN
	}
	if n <= 0 {
		r.mu.Unlock()
		return nil
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.head = (r.head + n) % len(r.buf)
	r.length -= n
	r.consumed += uint64(n)
	r.mu.Unlock()
	r.notify(r.space)
	return out
}

// TakeOverflow reads and clears the overflow flag. The flag re-arms only when
// a later Push finds the ring full again.
func (r *Ring[T]) TakeOverflow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ov := r.overflow
	r.overflow = false
	return ov
}

// Clear drops all buffered rows and resets both counters and the overflow flag.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	r.head = 0
	r.length = 0
	r.produced = 0
	r.consumed = 0
	r.overflow = false
	r.mu.Unlock()
	r.notify(r.space)
}

// Len returns the number of currently buffered rows.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

// Cap returns the fixed capacity of the ring.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Produced returns the monotonic count of rows accepted by Push.
func (r *Ring[T]) Produced() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.produced
}

// Consumed returns the monotonic count of rows returned by PopBatch.
func (r *Ring[T]) Consumed() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consumed
}

// Ready returns a channel that receives a token after rows arrive or an
// overflow is armed. Blocked readers select on it and must re-check the ring
// state after every wake.
func (r *Ring[T]) Ready() <-chan struct{} {
	return r.ready
}

// Space returns a channel that receives a token after rows are consumed or
// the ring is cleared. Blocked writers select on it the same way.
func (r *Ring[T]) Space() <-chan struct{} {
	return r.space
}

func (r *Ring[T]) notify(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}
