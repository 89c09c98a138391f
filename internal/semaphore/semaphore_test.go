package semaphore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/jobflow/internal/testutil"
	jferrors "github.com/vnykmshr/jobflow/pkg/common/errors"
)

func available(s *Semaphore) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

func waiting(s *Semaphore) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		initial  int
		wantErr  bool
	}{
		{"counting from zero", 10, 0, false},
		{"full", 3, 3, false},
		{"unbounded", Unbounded, 0, false},
		{"zero capacity", 0, 0, true},
		{"negative initial", 5, -1, true},
		{"initial above capacity", 5, 6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sem, err := New(tt.capacity, tt.initial)
			if tt.wantErr {
				testutil.AssertError(t, err)
				testutil.AssertEqual(t, jferrors.IsValidationError(err), true)
				return
			}
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, sem.Capacity(), tt.capacity)
			testutil.AssertEqual(t, available(sem), tt.initial)
		})
	}
}

func TestTryAcquireRelease(t *testing.T) {
	sem, err := New(2, 0)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, sem.TryAcquire(), false)

	testutil.AssertNoError(t, sem.Release())
	testutil.AssertNoError(t, sem.Release())
	testutil.AssertEqual(t, available(sem), 2)

	err = sem.Release()
	testutil.AssertEqual(t, errors.Is(err, jferrors.ErrCapacityExceeded), true)

	testutil.AssertEqual(t, sem.TryAcquire(), true)
	testutil.AssertEqual(t, sem.TryAcquire(), true)
	testutil.AssertEqual(t, sem.TryAcquire(), false)
}

func TestAcquire_WakesOnRelease(t *testing.T) {
	sem, _ := New(Unbounded, 0)

	acquired := make(chan error, 1)
	go func() {
		acquired <- sem.Acquire(context.Background())
	}()

	testutil.Eventually(t, func() bool { return waiting(sem) == 1 }, time.Second, time.Millisecond)

	testutil.AssertNoError(t, sem.Release())

	select {
	case err := <-acquired:
		testutil.AssertNoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Release")
	}
	testutil.AssertEqual(t, available(sem), 0)
}

func TestAcquire_ContextTimeout(t *testing.T) {
	sem, _ := New(1, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := sem.Acquire(ctx)
	testutil.AssertEqual(t, errors.Is(err, context.DeadlineExceeded), true)
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Acquire returned before the deadline")
	}
	testutil.AssertEqual(t, waiting(sem), 0)

	// A permit released after the timeout must stay available.
	testutil.AssertNoError(t, sem.Release())
	testutil.AssertEqual(t, available(sem), 1)
}

func TestAcquire_PreCanceled(t *testing.T) {
	sem := NewBinary()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	testutil.AssertError(t, sem.Acquire(ctx))
	testutil.AssertEqual(t, available(sem), 1)
}

func TestAcquire_FIFOHandOff(t *testing.T) {
	sem, _ := New(Unbounded, 0)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := sem.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
		testutil.Eventually(t, func() bool { return waiting(sem) == i+1 }, time.Second, time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		testutil.AssertNoError(t, sem.Release())
		testutil.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(order) == i+1
		}, time.Second, time.Millisecond)
	}
	wg.Wait()

	for i, v := range order {
		testutil.AssertEqual(t, v, i)
	}
}

func TestBinary_MutualExclusion(t *testing.T) {
	sem := NewBinary()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			if err := sem.Release(); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	testutil.AssertEqual(t, atomic.LoadInt32(&maxInside), int32(1))
	testutil.AssertEqual(t, available(sem), 1)
}
