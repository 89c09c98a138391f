// Package fifo provides the FIFO buffer behind the channel executor: an
// unbounded (or optionally bounded) ring buffer with a readiness signal for
// a single consumer and context-aware blocking sends.
package fifo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	jferrors "github.com/vnykmshr/jobflow/pkg/common/errors"
)

// ErrFull is returned by TrySend when a bounded buffer is at capacity.
var ErrFull = fmt.Errorf("fifo is full: %w", jferrors.ErrCapacityExceeded)

// ErrClosed is returned when sending to a closed buffer.
var ErrClosed = fmt.Errorf("fifo is closed: %w", jferrors.ErrClosed)

const minGrow = 16

// FIFO is a first-in first-out buffer safe for concurrent use.
type FIFO[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int
	count    int
	capacity int
	closed   bool

	ready chan struct{} // one pending wakeup for the consumer
	space chan struct{} // closed when room frees up; nil until a sender waits
}

// New creates a FIFO. A capacity of 0 means unbounded.
func New[T any](capacity int) *FIFO[T] {
	if capacity < 0 {
		capacity = 0
	}
	initial := minGrow
	if capacity > 0 && capacity < initial {
		initial = capacity
	}
	return &FIFO[T]{
		buf:      make([]T, initial),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// TrySend appends value without blocking.
func (f *FIFO[T]) TrySend(value T) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if f.fullLocked() {
		return ErrFull
	}
	f.pushLocked(value)
	return nil
}

// Send appends value, waiting for room in a bounded buffer until ctx is done.
func (f *FIFO[T]) Send(ctx context.Context, value T) error {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return ErrClosed
		}
		if !f.fullLocked() {
			f.pushLocked(value)
			f.mu.Unlock()
			return nil
		}
		if f.space == nil {
			f.space = make(chan struct{})
		}
		space := f.space
		f.mu.Unlock()

		select {
		case <-space:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryReceive removes the oldest value. ok is false when the buffer is empty.
func (f *FIFO[T]) TryReceive() (value T, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.count == 0 {
		return value, false
	}
	value = f.buf[f.head]
	var zero T
	f.buf[f.head] = zero // Clear reference
	f.head = (f.head + 1) % len(f.buf)
	f.count--
	f.signalSpaceLocked()
	return value, true
}

// Ready is signalled after values are sent and on Close. It carries at most
// one pending wakeup, so a consumer must drain until TryReceive reports empty.
func (f *FIFO[T]) Ready() <-chan struct{} {
	return f.ready
}

// Drain removes and returns everything buffered, oldest first.
func (f *FIFO[T]) Drain() []T {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]T, 0, f.count)
	for f.count > 0 {
		out = append(out, f.buf[f.head])
		var zero T
		f.buf[f.head] = zero
		f.head = (f.head + 1) % len(f.buf)
		f.count--
	}
	f.head = 0
	f.signalSpaceLocked()
	return out
}

// Close rejects further sends and releases blocked senders. Buffered values
// remain receivable.
func (f *FIFO[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	f.signalSpaceLocked()
	f.signalReadyLocked()
}

// Len returns the number of buffered values.
func (f *FIFO[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Cap returns the configured capacity, 0 for unbounded.
func (f *FIFO[T]) Cap() int {
	return f.capacity
}

// IsFull reports whether err is a capacity rejection.
func IsFull(err error) bool {
	return errors.Is(err, ErrFull)
}

func (f *FIFO[T]) fullLocked() bool {
	return f.capacity > 0 && f.count >= f.capacity
}

func (f *FIFO[T]) pushLocked(value T) {
	if f.count == len(f.buf) {
		f.growLocked()
	}
	f.buf[(f.head+f.count)%len(f.buf)] = value
	f.count++
	f.signalReadyLocked()
}

func (f *FIFO[T]) signalReadyLocked() {
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

func (f *FIFO[T]) growLocked() {
	size := len(f.buf) * 2
	if size < minGrow {
		size = minGrow
	}
	if f.capacity > 0 && size > f.capacity {
		size = f.capacity
	}
	buf := make([]T, size)
	for i := 0; i < f.count; i++ {
		buf[i] = f.buf[(f.head+i)%len(f.buf)]
	}
	f.buf = buf
	f.head = 0
}

func (f *FIFO[T]) signalSpaceLocked() {
	if f.space != nil {
		close(f.space)
		f.space = nil
	}
}
