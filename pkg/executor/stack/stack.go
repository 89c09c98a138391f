// Package stack runs a producer/consumer workload over a shared lock-free
// stack. N producers push generated jobs, M consumers pop and run them.
// Push and pop are each wrapped in one binary semaphore, so stack access is
// serialized while consumers run their actions concurrently.
//
// The shutdown policy differs from the agent-based engines: Run waits for
// every producer, then cancels the consumers and waits for them. Jobs still
// on the stack at that point are reported and abandoned.
package stack

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/vnykmshr/jobflow/internal/lockfree"
	"github.com/vnykmshr/jobflow/internal/semaphore"
	jferrors "github.com/vnykmshr/jobflow/pkg/common/errors"
	"github.com/vnykmshr/jobflow/pkg/common/validation"
	"github.com/vnykmshr/jobflow/pkg/executor"
	"github.com/vnykmshr/jobflow/pkg/job"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

// ErrRunning is returned when Run is called while a run is in progress.
var ErrRunning = errors.New("stack executor is already running")

// Generator creates the seq-th job of a producer.
type Generator func(producer, seq int) *job.Job

// Config configures an Executor.
type Config struct {
	// Name identifies the engine in events. Defaults to "stack-" plus a
	// random suffix.
	Name string

	// Observer receives lifecycle events. A fresh registry is created when nil.
	Observer *observer.Registry

	// Producers is the number of producer goroutines. Default 2.
	Producers int

	// Consumers is the number of consumer goroutines. Default 2.
	Consumers int

	// JobsPerProducer is how many jobs each producer generates. Default 10.
	JobsPerProducer int

	// MinBackoff is the first wait of a consumer that found the stack empty.
	// Default 1ms.
	MinBackoff time.Duration

	// MaxBackoff caps the wait of a consumer that keeps finding the stack
	// empty. Default 50ms.
	MaxBackoff time.Duration

	// Generator creates the jobs. Defaults to SyntheticJobs(10ms, 50ms).
	Generator Generator
}

// Report summarizes one Run.
type Report struct {
	Produced  int64
	Invoked   int64
	Cancelled int64
	Failed    int64
	Abandoned int64
	Duration  time.Duration
}

func (r Report) String() string {
	return fmt.Sprintf("produced=%d invoked=%d cancelled=%d failed=%d abandoned=%d duration=%v",
		r.Produced, r.Invoked, r.Cancelled, r.Failed, r.Abandoned, r.Duration)
}

// Executor owns the shared stack and the semaphore that guards it.
type Executor struct {
	name   string
	obs    *observer.Registry
	config Config
	stack  *lockfree.Stack[*job.Job]
	gate   *semaphore.Semaphore

	running   atomic.Bool
	produced  atomic.Int64
	invoked   atomic.Int64
	cancelled atomic.Int64
	failed    atomic.Int64
}

// New creates an Executor.
func New(config Config) (*Executor, error) {
	base, err := executor.Config{Name: config.Name, Observer: config.Observer}.Normalize("stack")
	if err != nil {
		return nil, err
	}

	if config.Producers == 0 {
		config.Producers = 2
	}
	if config.Consumers == 0 {
		config.Consumers = 2
	}
	if config.JobsPerProducer == 0 {
		config.JobsPerProducer = 10
	}
	if config.MinBackoff == 0 {
		config.MinBackoff = time.Millisecond
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 50 * time.Millisecond
	}
	if config.Generator == nil {
		config.Generator = SyntheticJobs(10*time.Millisecond, 50*time.Millisecond)
	}

	if err := validation.ValidatePositive("stack", "producers", config.Producers); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositive("stack", "consumers", config.Consumers); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositive("stack", "jobs_per_producer", config.JobsPerProducer); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositiveDuration("stack", "min_backoff", config.MinBackoff); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositiveDuration("stack", "max_backoff", config.MaxBackoff); err != nil {
		return nil, err
	}

	config.Name = base.Name
	config.Observer = base.Observer
	return &Executor{
		name:   base.Name,
		obs:    base.Observer,
		config: config,
		stack:  lockfree.NewStack[*job.Job](),
		gate:   semaphore.NewBinary(),
	}, nil
}

// Name returns the engine name used in events.
func (e *Executor) Name() string { return e.name }

// Observer returns the registry the engine reports to.
func (e *Executor) Observer() *observer.Registry { return e.obs }

// Push adds j on top of the stack. It waits for the stack gate until ctx
// is done.
func (e *Executor) Push(ctx context.Context, j *job.Job) error {
	if j == nil {
		return executor.ErrNilJob
	}
	if err := e.gate.Acquire(ctx); err != nil {
		return err
	}
	e.stack.Push(j)
	return e.gate.Release()
}

// pop takes the top job. An empty stack returns ErrEmpty.
func (e *Executor) pop(ctx context.Context) (*job.Job, error) {
	if err := e.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	j, ok := e.stack.Pop()
	if err := e.gate.Release(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, jferrors.ErrEmpty
	}
	return j, nil
}

// Count returns the number of jobs on the stack.
func (e *Executor) Count() int { return e.stack.Len() }

// Clear drops every job on the stack and returns how many were dropped.
func (e *Executor) Clear() int {
	dropped := e.stack.Drain()
	for _, j := range dropped {
		j.Release()
	}
	return len(dropped)
}

// Run starts the consumers and producers, waits for the producers, then
// cancels and waits for the consumers. Cancelling ctx stops both early.
func (e *Executor) Run(ctx context.Context) (Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Report{}, ErrRunning
	}
	defer e.running.Store(false)

	e.produced.Store(0)
	e.invoked.Store(0)
	e.cancelled.Store(0)
	e.failed.Store(0)
	start := time.Now()

	consumeCtx, stopConsumers := context.WithCancel(ctx)
	defer stopConsumers()

	consumers, cctx := errgroup.WithContext(consumeCtx)
	for i := 0; i < e.config.Consumers; i++ {
		id := i
		consumers.Go(func() error { return e.consume(cctx, id) })
	}

	producers, pctx := errgroup.WithContext(ctx)
	for i := 0; i < e.config.Producers; i++ {
		id := i
		producers.Go(func() error { return e.produce(pctx, id) })
	}

	perr := producers.Wait()
	stopConsumers()
	cerr := consumers.Wait()

	report := Report{
		Produced:  e.produced.Load(),
		Invoked:   e.invoked.Load(),
		Cancelled: e.cancelled.Load(),
		Failed:    e.failed.Load(),
	}
	if left := e.Clear(); left > 0 {
		report.Abandoned = int64(left)
		e.obs.Warning(nil, fmt.Sprintf("%s: abandoned %d jobs left on the stack", e.name, left))
	}
	report.Duration = time.Since(start)

	e.obs.Shutdown(fmt.Sprintf("%s finished: %s", e.name, report))
	return report, errors.Join(perr, cerr)
}

func (e *Executor) produce(ctx context.Context, id int) error {
	for seq := 0; seq < e.config.JobsPerProducer; seq++ {
		j := e.config.Generator(id, seq)
		if j == nil {
			continue
		}
		if err := e.Push(ctx, j); err != nil {
			j.Release()
			return fmt.Errorf("producer %d: %w", id, err)
		}
		e.produced.Add(1)
	}
	return nil
}

// consume pops until ctx is done. An empty stack is retried with
// exponential backoff.
func (e *Executor) consume(ctx context.Context, id int) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = e.config.MinBackoff
	retry.MaxInterval = e.config.MaxBackoff

	for ctx.Err() == nil {
		j, err := e.pop(ctx)
		if jferrors.IsRetryable(err) {
			select {
			case <-ctx.Done():
			case <-time.After(retry.NextBackOff()):
			}
			continue
		}
		if err != nil {
			return nil
		}
		retry.Reset()

		switch executor.Run(e.obs, j) {
		case executor.Completed:
			e.invoked.Add(1)
		case executor.Failed:
			e.invoked.Add(1)
			e.failed.Add(1)
		case executor.Cancelled:
			e.cancelled.Add(1)
		}
	}
	return nil
}

// SyntheticJobs returns a Generator whose jobs sleep for a random time up
// to maxWork and carry a cancellation token expiring at a random time up to
// maxDeadline. Tokens that expire while the job waits on the stack make it
// a cancellation; tokens that expire mid-sleep end the action early with
// the token's error. A zero maxDeadline leaves the jobs without a deadline.
func SyntheticJobs(maxWork, maxDeadline time.Duration) Generator {
	return func(producer, seq int) *job.Job {
		work := randomDuration(maxWork)
		var opts []job.Option
		if maxDeadline > 0 {
			opts = append(opts, job.WithTimeout(randomDuration(maxDeadline)))
		}
		return job.NewFunc(fmt.Sprintf("producer-%d/job-%d", producer, seq), func(ctx context.Context) error {
			timer := time.NewTimer(work)
			defer timer.Stop()
			select {
			case <-timer.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}, opts...)
	}
}

func randomDuration(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit) + 1
}
