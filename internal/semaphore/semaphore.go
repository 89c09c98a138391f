// Package semaphore provides the counting semaphore that gates the queue
// executor and the binary semaphore that serializes stack access.
package semaphore

import (
	"context"
	"fmt"
	"math"
	"sync"

	jferrors "github.com/vnykmshr/jobflow/pkg/common/errors"
)

// Unbounded is the capacity of a semaphore with no practical ceiling.
const Unbounded = math.MaxInt

// Semaphore hands out permits. Unlike a concurrency limiter, permits may be
// released by a different goroutine than the one that acquired them, which
// is how a producer signals "one more item" to a blocked consumer.
type Semaphore struct {
	mu        sync.Mutex
	capacity  int
	available int
	waiters   []waiter
}

// waiter represents a goroutine waiting for a permit
type waiter struct {
	ready  chan struct{}   // closed when the permit is handed over
	cancel <-chan struct{} // context cancellation channel
}

// New creates a semaphore holding initial of capacity permits.
func New(capacity, initial int) (*Semaphore, error) {
	if capacity <= 0 {
		return nil, jferrors.NewValidationError("semaphore", "capacity", capacity, "must be positive").
			WithHint("use semaphore.Unbounded for a counting semaphore without a ceiling")
	}
	if initial < 0 || initial > capacity {
		return nil, jferrors.NewValidationError("semaphore", "initial", initial, "out of range").
			WithHint(fmt.Sprintf("use a value between 0 and %d", capacity))
	}
	return &Semaphore{capacity: capacity, available: initial}, nil
}

// NewBinary creates a semaphore with a single available permit, usable as a
// mutex whose Acquire honors a context.
func NewBinary() *Semaphore {
	return &Semaphore{capacity: 1, available: 1}
}

// TryAcquire takes a permit if one is available without blocking.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.available > 0 {
		s.available--
		return true
	}
	return false
}

// Acquire blocks until a permit is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()

	// Fast path: permit available immediately
	if s.available > 0 {
		s.available--
		s.mu.Unlock()
		return nil
	}

	// Slow path: need to wait
	w := waiter{ready: make(chan struct{}), cancel: ctx.Done()}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		if s.removeWaiter(w.ready) {
			return ctx.Err()
		}
		// The permit was handed over while we were giving up; keep it.
		return nil
	}
}

// Release returns one permit. It fails with ErrCapacityExceeded when the
// semaphore already holds its full capacity.
func (s *Semaphore) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.available >= s.capacity {
		return fmt.Errorf("semaphore release: %w", jferrors.ErrCapacityExceeded)
	}

	s.available++
	s.notifyWaiters()
	return nil
}

// Capacity returns the maximum number of permits.
func (s *Semaphore) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

// notifyWaiters hands available permits to waiting goroutines in FIFO order.
// Must be called with s.mu held.
func (s *Semaphore) notifyWaiters() {
	for s.available > 0 && len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]

		// Skip canceled waiters
		select {
		case <-w.cancel:
			continue
		default:
		}

		s.available--
		close(w.ready)
	}
}

// removeWaiter drops a waiter that gave up. It returns false when the waiter
// was already served, in which case the caller owns a permit.
func (s *Semaphore) removeWaiter(ready chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, w := range s.waiters {
		if w.ready == ready {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return true
		}
	}

	select {
	case <-ready:
		return false
	default:
		// Dropped by notifyWaiters as canceled without being served.
		return true
	}
}
