// Package stream implements the compact, append-only typed streams the
// capture store is built from: a generic fixed-width record stream with
// O(1) random access, a delta-encoded index stream for locating
// variable-length blobs, and a bit-packed numeric stream that widens on
// overflow. All three support a single appender running concurrently with
// any number of readers without locks on the read path, publishing growth
// through atomic pointers/counters loaded-before-read, stored-after-write.
package stream

import "sync/atomic"

// ErrNotPresent is returned by Get when the index is out of the stream's
// current bounds.
var ErrNotPresent = errNotPresent{}

type errNotPresent struct{}

func (errNotPresent) Error() string { return "stream: index not present" }

// Stream is an append-only sequence of fixed-width records of type T.
// A single goroutine may call Append; any number of goroutines may call
// Get/Len/Range concurrently with that appender.
type Stream[T any] struct {
	segs   atomic.Pointer[[]*segment[T]]
	segCap int
	length atomic.Uint64

	// cur is only ever touched by the appender; it does not need to be
	// atomic because it is never read by another goroutine.
	cur *segment[T]
}

type segment[T any] struct {
	data []T
}

// New creates a Stream whose backing segments hold segCap records each.
// segCap trades off allocation frequency against the amount of unused
// capacity in the final, partially-filled segment.
func New[T any](segCap int) *Stream[T] {
	if segCap <= 0 {
		segCap = 1024
	}
	s := &Stream[T]{segCap: segCap}
	segs := make([]*segment[T], 0, 16)
	s.segs.Store(&segs)
	return s
}

// Append adds a record and returns its index.
func (s *Stream[T]) Append(v T) uint64 {
	if s.cur == nil || len(s.cur.data) == cap(s.cur.data) {
		s.cur = &segment[T]{data: make([]T, 0, s.segCap)}
		old := *s.segs.Load()
		next := make([]*segment[T], len(old), len(old)+1)
		copy(next, old)
		next = append(next, s.cur)
		s.segs.Store(&next)
	}
	s.cur.data = append(s.cur.data, v)
	idx := s.length.Load()
	s.length.Store(idx + 1)
	return idx
}

// Len returns the number of committed records. It is safe to call
// concurrently with Append.
func (s *Stream[T]) Len() uint64 {
	return s.length.Load()
}

// Get returns the record at index, or ErrNotPresent if index is beyond the
// currently published length.
func (s *Stream[T]) Get(index uint64) (T, error) {
	var zero T
	if index >= s.length.Load() {
		return zero, ErrNotPresent
	}
	segs := *s.segs.Load()
	segIdx := int(index) / s.segCap
	if segIdx >= len(segs) {
		return zero, ErrNotPresent
	}
	return segs[segIdx].data[int(index)%s.segCap], nil
}

// Range calls yield for every record with lo <= index < hi, stopping early
// if yield returns false. hi is clamped to the current length.
func (s *Stream[T]) Range(lo, hi uint64, yield func(index uint64, v T) bool) {
	length := s.length.Load()
	if hi > length {
		hi = length
	}
	segs := *s.segs.Load()
	for i := lo; i < hi; i++ {
		segIdx := int(i) / s.segCap
		if segIdx >= len(segs) {
			return
		}
		if !yield(i, segs[segIdx].data[int(i)%s.segCap]) {
			return
		}
	}
}
