// Package buffer provides the bounded byte ring used for terminal
// scrollback and reconnect replay.
package buffer

import "sync"

// Ring is a thread-safe circular byte buffer with a fixed, preallocated
// capacity. Writes past capacity overwrite the oldest bytes, so the
// buffer always holds the most recent data and never reallocates.
type Ring struct {
	mu    sync.RWMutex
	buf   []byte
	start int // index of the oldest byte
	size  int // number of valid bytes
}

// NewRing creates a ring with the given capacity. Capacities below 1
// are clamped to 1.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]byte, capacity)}
}

// Write appends p, discarding the oldest bytes on overflow. It always
// reports len(p) so the ring satisfies io.Writer.
func (r *Ring) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cap := len(r.buf)
	src := p
	if len(src) > cap {
		// Only the tail of an oversized write can survive.
		src = src[len(src)-cap:]
	}

	writeAt := (r.start + r.size) % cap
	n := copy(r.buf[writeAt:], src)
	copy(r.buf, src[n:])

	r.size += len(src)
	if r.size > cap {
		r.start = (r.start + r.size - cap) % cap
		r.size = cap
	}
	return len(p), nil
}

// Bytes returns a copy of the buffered data in write order.
func (r *Ring) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return nil
	}
	out := make([]byte, r.size)
	n := copy(out, r.buf[r.start:min(r.start+r.size, len(r.buf))])
	copy(out[n:], r.buf)
	return out
}

// Clear discards all buffered data without releasing the allocation.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start, r.size = 0, 0
}

// Len returns the number of buffered bytes.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}
