// Package queue implements an engine whose agent blocks on a counting
// semaphore instead of polling. Every submitted job is pushed onto a
// lock-free queue and releases one permit; the agent takes a permit,
// dequeues one job and runs it on its own goroutine.
//
// The wait for a permit is bounded by the resolution so that suspension and
// shutdown requests are observed promptly even when no work arrives.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/vnykmshr/jobflow/internal/lockfree"
	"github.com/vnykmshr/jobflow/internal/semaphore"
	jferrors "github.com/vnykmshr/jobflow/pkg/common/errors"
	"github.com/vnykmshr/jobflow/pkg/executor"
	"github.com/vnykmshr/jobflow/pkg/job"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

// Config configures an Executor.
type Config struct {
	executor.Config

	// Capacity bounds the number of pending jobs. Zero means unbounded.
	Capacity int
}

// Executor runs jobs in submission order on one agent goroutine.
type Executor struct {
	name  string
	obs   *observer.Registry
	life  *executor.Lifecycle
	queue *lockfree.Queue[*job.Job]
	items *semaphore.Semaphore // one permit per queued job
	slots *semaphore.Semaphore // free capacity; nil when unbounded
	retry *backoff.ExponentialBackOff

	mu     sync.RWMutex // held for writing only when the agent closes ingress
	closed bool
}

var (
	_ executor.Controller = (*Executor)(nil)
	_ executor.Ingress    = (*Executor)(nil)
)

// New creates an Executor and starts its agent.
func New(config Config) (*Executor, error) {
	base, err := config.Config.Normalize("queue")
	if err != nil {
		return nil, err
	}
	if config.Capacity < 0 {
		return nil, jferrors.NewValidationError("queue", "capacity", config.Capacity, "must not be negative").
			WithHint("use 0 for an unbounded queue")
	}

	items, err := semaphore.New(semaphore.Unbounded, 0)
	if err != nil {
		return nil, err
	}
	var slots *semaphore.Semaphore
	if config.Capacity > 0 {
		if slots, err = semaphore.New(config.Capacity, config.Capacity); err != nil {
			return nil, err
		}
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Millisecond
	retry.MaxInterval = base.Resolution

	e := &Executor{
		name:  base.Name,
		obs:   base.Observer,
		life:  executor.NewLifecycle(base.Resolution, base.SuspendTimeout),
		queue: lockfree.NewQueue[*job.Job](),
		items: items,
		slots: slots,
		retry: retry,
	}
	go e.run()
	return e, nil
}

// Name returns the engine name used in events.
func (e *Executor) Name() string { return e.name }

// Observer returns the registry the engine reports to.
func (e *Executor) Observer() *observer.Registry { return e.obs }

// Submit enqueues j and wakes the agent. A bounded queue at capacity
// rejects the job on the error slot and returns executor.ErrRejected.
func (e *Executor) Submit(j *job.Job) error {
	if j == nil {
		return executor.ErrNilJob
	}
	if e.slots != nil && !e.slots.TryAcquire() {
		if err := e.life.Accepting(); err != nil {
			return err
		}
		return executor.Reject(e.obs, j, fmt.Errorf("%d jobs pending", e.slots.Capacity()))
	}
	return e.enqueue(j)
}

// SubmitWait enqueues j, waiting for capacity until ctx is done.
func (e *Executor) SubmitWait(ctx context.Context, j *job.Job) error {
	if j == nil {
		return executor.ErrNilJob
	}
	if err := e.life.Accepting(); err != nil {
		return err
	}
	if e.slots != nil {
		if err := e.slots.Acquire(ctx); err != nil {
			return executor.Reject(e.obs, j, err)
		}
	}
	return e.enqueue(j)
}

// SubmitMany submits jobs in order, stopping at the first failure.
func (e *Executor) SubmitMany(jobs ...*job.Job) error {
	for _, j := range jobs {
		if err := e.Submit(j); err != nil {
			return err
		}
	}
	return nil
}

// enqueue is called holding one slot when the queue is bounded.
func (e *Executor) enqueue(j *job.Job) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.accepting(); err != nil {
		e.releaseSlot()
		return err
	}
	e.queue.Enqueue(j)
	if err := e.items.Release(); err != nil {
		e.obs.Error(j, fmt.Sprintf("%s: signal for %s failed: %v", e.name, j, err))
	}
	return nil
}

// accepting is called holding e.mu.
func (e *Executor) accepting() error {
	if e.closed {
		return executor.ErrShutdown
	}
	return e.life.Accepting()
}

func (e *Executor) releaseSlot() {
	if e.slots != nil {
		_ = e.slots.Release()
	}
}

// Clear drops every pending job and returns how many were dropped.
func (e *Executor) Clear() int {
	dropped := e.queue.Drain()
	for _, j := range dropped {
		e.items.TryAcquire()
		e.releaseSlot()
		j.Release()
	}
	return len(dropped)
}

// Count returns the number of pending jobs.
func (e *Executor) Count() int { return e.queue.Len() }

// Toggle suspends or resumes dequeuing.
func (e *Executor) Toggle() executor.State { return e.life.Toggle() }

// ChangeResolution sets the longest single wait for work.
func (e *Executor) ChangeResolution(d time.Duration) error { return e.life.ChangeResolution(d) }

// Shutdown stops accepting jobs. The agent runs what is already queued,
// then exits.
func (e *Executor) Shutdown(wait bool) <-chan struct{} { return e.life.Shutdown(wait) }

// IsBusy reports whether a job is running.
func (e *Executor) IsBusy() bool { return e.life.IsBusy() }

// IsAlive reports whether the agent is still running.
func (e *Executor) IsAlive() bool { return e.life.IsAlive() }

// IsSuspended reports whether dequeuing is paused.
func (e *Executor) IsSuspended() bool { return e.life.IsSuspended() }

// State returns the lifecycle phase.
func (e *Executor) State() executor.State { return e.life.State() }

func (e *Executor) run() {
	stopCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() {
		select {
		case <-e.life.Stopping():
			stop()
		case <-stopCtx.Done():
		}
	}()

	for {
		if e.life.IsSuspended() {
			e.life.AwaitResume()
			continue
		}
		if e.life.ShutdownRequested() {
			e.exit()
			return
		}

		ctx, cancel := context.WithTimeout(stopCtx, e.life.Resolution())
		err := e.items.Acquire(ctx)
		cancel()
		if err != nil {
			continue
		}

		if e.life.IsSuspended() {
			// Suspended while waiting; hand the permit back untouched.
			_ = e.items.Release()
			continue
		}
		e.dispatch()
	}
}

// dispatch is called holding one item permit.
func (e *Executor) dispatch() {
	j, ok := e.queue.Dequeue()
	if !ok {
		// The permit outlived its job, which a concurrent Clear removed.
		wait := e.retry.NextBackOff()
		e.obs.Warning(nil, fmt.Sprintf("%s: dequeue failed after signal, retrying in %v", e.name, wait))
		time.Sleep(wait)
		return
	}
	e.retry.Reset()
	e.releaseSlot()

	e.life.SetBusy(true)
	executor.Run(e.obs, j)
	e.life.SetBusy(false)
}

func (e *Executor) exit() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	for {
		j, ok := e.queue.Dequeue()
		if !ok {
			break
		}
		e.items.TryAcquire()
		e.releaseSlot()

		e.life.SetBusy(true)
		executor.Run(e.obs, j)
		e.life.SetBusy(false)
	}

	e.obs.Shutdown(fmt.Sprintf("%s stopped", e.name))
	e.life.MarkStopped()
}
