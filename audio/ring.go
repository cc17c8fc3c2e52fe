package audio

import (
	"errors"
	"sync/atomic"
)

// ErrInsufficient is returned by ReadExact when fewer samples are buffered
// than requested. Reads never partially fill.
var ErrInsufficient = errors.New("audio: insufficient data in ring")

// Ring is a single-producer single-consumer sample buffer sized for the gap
// between the capture callback and the pipeline tick. Cursors are monotonic;
// position in the backing slice is cursor & mask. The writer never waits for
// the reader: on overrun it advances the read cursor past the oldest samples
// and counts them as dropped.
type Ring struct {
	buf  []float32
	mask uint64

	w       atomic.Uint64
	r       atomic.Uint64
	dropped atomic.Uint64
}

// NewRing returns a ring holding at least capacity samples. Capacity is
// rounded up to a power of two so cursor arithmetic needs no modulo.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &Ring{
		buf:  make([]float32, size),
		mask: uint64(size - 1),
	}
}

// Cap returns the number of samples the ring can hold.
func (r *Ring) Cap() int { return len(r.buf) }

// Available returns how many unread samples are buffered.
func (r *Ring) Available() int {
	return int(r.w.Load() - r.r.Load())
}

// Dropped returns the total samples overwritten before being read.
func (r *Ring) Dropped() uint64 { return r.dropped.Load() }

// Write copies samples into the ring and returns how many were stored. It
// never blocks: when the ring is full the oldest unread samples are
// overwritten and counted. A write larger than capacity keeps only the newest
// capacity samples; the rest count as dropped on arrival.
func (r *Ring) Write(samples []float32) int {
	n := uint64(len(samples))
	if n == 0 {
		return 0
	}
	capacity := uint64(len(r.buf))
	if n > capacity {
		r.dropped.Add(n - capacity)
		samples = samples[n-capacity:]
		n = capacity
	}

	w := r.w.Load()
	for {
		rd := r.r.Load()
		free := capacity - (w - rd)
		if n <= free {
			break
		}
		// Claim room by skipping the reader past the oldest samples. CAS can
		// lose only to a concurrent ReadExact, in which case more room just
		// appeared and we re-check.
		need := n - free
		if r.r.CompareAndSwap(rd, rd+need) {
			r.dropped.Add(need)
			break
		}
	}

	pos := w & r.mask
	first := copy(r.buf[pos:], samples)
	if first < len(samples) {
		copy(r.buf, samples[first:])
	}
	r.w.Store(w + n)
	return int(n)
}

// ReadExact fills dst with the oldest len(dst) samples or returns
// ErrInsufficient without consuming anything. It never blocks and never
// partially fills. If the writer overruns the region mid-copy the read is
// retried from the new cursor, so dst always holds a contiguous span.
func (r *Ring) ReadExact(dst []float32) error {
	n := uint64(len(dst))
	if n == 0 {
		return nil
	}
	for {
		rd := r.r.Load()
		if r.w.Load()-rd < n {
			return ErrInsufficient
		}
		pos := rd & r.mask
		first := copy(dst, r.buf[pos:])
		if uint64(first) < n {
			copy(dst[first:], r.buf)
		}
		if r.r.CompareAndSwap(rd, rd+n) {
			return nil
		}
	}
}

// Reset discards buffered samples and drop statistics. Caller must ensure no
// concurrent Write or ReadExact.
func (r *Ring) Reset() {
	r.r.Store(0)
	r.w.Store(0)
	r.dropped.Store(0)
}
