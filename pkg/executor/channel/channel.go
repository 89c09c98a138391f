// Package channel implements an engine whose single agent drains an
// unbounded FIFO every resolution and runs each job on the agent goroutine.
// An idle agent blocks on the FIFO's readiness signal instead of polling.
//
// Execution is serialized: one job's action returns before the next one
// starts. Jobs submitted within one resolution window are started in the
// same drain and may appear to run together.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/vnykmshr/jobflow/internal/fifo"
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
	queue *fifo.FIFO[*job.Job]
	retry *backoff.ExponentialBackOff
}

var (
	_ executor.Controller = (*Executor)(nil)
	_ executor.Ingress    = (*Executor)(nil)
)

// New creates an Executor and starts its agent.
func New(config Config) (*Executor, error) {
	base, err := config.Config.Normalize("channel")
	if err != nil {
		return nil, err
	}
	if config.Capacity < 0 {
		return nil, jferrors.NewValidationError("channel", "capacity", config.Capacity, "must not be negative").
			WithHint("use 0 for an unbounded channel")
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Millisecond
	retry.MaxInterval = base.Resolution

	e := &Executor{
		name:  base.Name,
		obs:   base.Observer,
		life:  executor.NewLifecycle(base.Resolution, base.SuspendTimeout),
		queue: fifo.New[*job.Job](config.Capacity),
		retry: retry,
	}
	go e.run()
	return e, nil
}

// Name returns the engine name used in events.
func (e *Executor) Name() string { return e.name }

// Observer returns the registry the engine reports to.
func (e *Executor) Observer() *observer.Registry { return e.obs }

// Submit enqueues j without blocking. A bounded channel at capacity rejects
// the job on the error slot and returns executor.ErrRejected.
func (e *Executor) Submit(j *job.Job) error {
	if j == nil {
		return executor.ErrNilJob
	}
	if err := e.life.Accepting(); err != nil {
		return err
	}
	return e.enqueueResult(j, e.queue.TrySend(j))
}

// SubmitWait enqueues j, waiting for capacity until ctx is done.
func (e *Executor) SubmitWait(ctx context.Context, j *job.Job) error {
	if j == nil {
		return executor.ErrNilJob
	}
	if err := e.life.Accepting(); err != nil {
		return err
	}
	return e.enqueueResult(j, e.queue.Send(ctx, j))
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

func (e *Executor) enqueueResult(j *job.Job, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fifo.ErrClosed):
		return executor.ErrShutdown
	case fifo.IsFull(err):
		return executor.Reject(e.obs, j, fmt.Errorf("%d jobs pending: %w", e.queue.Cap(), err))
	default:
		return executor.Reject(e.obs, j, err)
	}
}

// Clear drops every pending job and returns how many were dropped.
func (e *Executor) Clear() int {
	dropped := e.queue.Drain()
	for _, j := range dropped {
		j.Release()
	}
	return len(dropped)
}

// Count returns the number of pending jobs.
func (e *Executor) Count() int { return e.queue.Len() }

// Toggle suspends or resumes dequeuing.
func (e *Executor) Toggle() executor.State { return e.life.Toggle() }

// ChangeResolution sets the drain interval.
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
	defer e.exit()

	for {
		if e.life.IsSuspended() {
			e.life.AwaitResume()
			continue
		}
		e.idle()
		e.life.Pause()
		e.drain()

		if e.life.ShutdownRequested() && e.queue.Len() == 0 {
			return
		}
	}
}

// idle blocks while nothing is queued, until a send or a shutdown request.
func (e *Executor) idle() {
	if e.queue.Len() > 0 {
		return
	}
	select {
	case <-e.queue.Ready():
	case <-e.life.Stopping():
	}
}

func (e *Executor) drain() {
	for e.queue.Len() > 0 {
		if e.life.IsSuspended() {
			return
		}

		j, ok := e.queue.TryReceive()
		if !ok {
			// Len saw a job that a concurrent Clear took first.
			wait := e.retry.NextBackOff()
			e.obs.Warning(nil, fmt.Sprintf("%s: dequeue failed with jobs pending, retrying in %v", e.name, wait))
			time.Sleep(wait)
			continue
		}
		e.retry.Reset()

		e.life.SetBusy(true)
		executor.Run(e.obs, j)
		e.life.SetBusy(false)
	}
}

func (e *Executor) exit() {
	e.queue.Close()
	if left := e.queue.Drain(); len(left) > 0 {
		for _, j := range left {
			j.Release()
		}
		e.obs.Warning(nil, fmt.Sprintf("%s: abandoned %d jobs at shutdown", e.name, len(left)))
	}
	e.obs.Shutdown(fmt.Sprintf("%s stopped", e.name))
	e.life.MarkStopped()
}
