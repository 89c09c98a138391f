// Package scheduled implements deferred execution. Jobs carry an earliest
// run time and sit in an unordered bag; every resolution the agent takes
// each entry out, dispatches the due ones and puts the rest back.
//
// Due jobs found in one scan are dispatched earliest deadline first, each
// on its own goroutine, so a slow job never delays the scan. Execution of
// scheduled jobs is therefore parallel while the scheduling decision is
// serialized on the agent.
//
// The exhausted event means every known job has been started. It does not
// mean they have finished.
package scheduled

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	jferrors "github.com/vnykmshr/jobflow/pkg/common/errors"
	"github.com/vnykmshr/jobflow/pkg/common/validation"
	"github.com/vnykmshr/jobflow/pkg/executor"
	"github.com/vnykmshr/jobflow/pkg/job"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

// Config configures an Executor.
type Config struct {
	executor.Config

	// MaxJobs bounds the number of pending jobs. Zero means unbounded.
	MaxJobs int

	// WaitWorkers makes shutdown wait for dispatched jobs to finish.
	// By default they are left running.
	WaitWorkers bool

	// Location is the time zone for cron expressions. Defaults to time.Local.
	Location *time.Location

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Executor dispatches jobs once their run time has passed.
type Executor struct {
	name        string
	obs         *observer.Registry
	life        *executor.Lifecycle
	bag         *bag
	now         func() time.Time
	location    *time.Location
	cronParser  cron.Parser
	waitWorkers bool

	workers   sync.WaitGroup
	running   atomic.Int32
	activated atomic.Int64

	// settled is owned by the agent: jobs dispatched or dropped as
	// cancelled since the last exhausted event.
	settled int
}

var (
	_ executor.Controller = (*Executor)(nil)
	_ executor.Ingress    = (*Executor)(nil)
)

// New creates an Executor and starts its agent.
func New(config Config) (*Executor, error) {
	base, err := config.Config.Normalize("scheduled")
	if err != nil {
		return nil, err
	}
	if config.MaxJobs < 0 {
		return nil, jferrors.NewValidationError("scheduled", "max_jobs", config.MaxJobs, "must not be negative").
			WithHint("use 0 for no limit")
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}
	location := config.Location
	if location == nil {
		location = time.Local
	}

	e := &Executor{
		name:        base.Name,
		obs:         base.Observer,
		life:        executor.NewLifecycle(base.Resolution, base.SuspendTimeout),
		bag:         newBag(config.MaxJobs),
		now:         now,
		location:    location,
		waitWorkers: config.WaitWorkers,
		cronParser: cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
	go e.run()
	return e, nil
}

// Name returns the engine name used in events.
func (e *Executor) Name() string { return e.name }

// Observer returns the registry the engine reports to.
func (e *Executor) Observer() *observer.Registry { return e.obs }

// Submit adds j to the bag. A job without a run time is due immediately.
func (e *Executor) Submit(j *job.Job) error {
	if j == nil {
		return executor.ErrNilJob
	}
	if err := e.life.Accepting(); err != nil {
		return err
	}

	switch err := e.bag.add(j); {
	case err == nil:
		return nil
	case errors.Is(err, errBagClosed):
		return executor.ErrShutdown
	default:
		return executor.Reject(e.obs, j, err)
	}
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

// SubmitAt creates a job that becomes due at t and submits it.
func (e *Executor) SubmitAt(title string, action job.Action, t time.Time, opts ...job.Option) (*job.Job, error) {
	j := job.New(title, action, append(opts[:len(opts):len(opts)], job.WithRunAt(t))...)
	if err := e.Submit(j); err != nil {
		return nil, err
	}
	return j, nil
}

// SubmitAfter creates a job that becomes due d from now and submits it.
func (e *Executor) SubmitAfter(title string, action job.Action, d time.Duration, opts ...job.Option) (*job.Job, error) {
	if err := validation.ValidatePositiveDuration("scheduled", "delay", d); err != nil {
		return nil, err
	}
	return e.SubmitAt(title, action, e.now().Add(d), opts...)
}

// SubmitCron creates a one-shot job due at the next activation of expr and
// submits it. expr is a standard cron expression with an optional leading
// seconds field, or a descriptor such as "@hourly" or "@every 5s".
func (e *Executor) SubmitCron(title string, action job.Action, expr string, opts ...job.Option) (*job.Job, error) {
	if err := validation.ValidateNotEmpty("scheduled", "cron expression", expr); err != nil {
		return nil, err
	}
	schedule, err := e.cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return e.SubmitAt(title, action, schedule.Next(e.now().In(e.location)), opts...)
}

// Clear drops every pending job and returns how many were dropped.
func (e *Executor) Clear() int {
	dropped := e.bag.drain()
	for _, j := range dropped {
		j.Release()
	}
	return len(dropped)
}

// Count returns the number of jobs in the bag.
func (e *Executor) Count() int { return e.bag.len() }

// ActivatedCount returns how many jobs this executor has started. A job
// whose token fires between the scan and its worker is marked activated
// but is not counted here.
func (e *Executor) ActivatedCount() int64 { return e.activated.Load() }

// InactivatedCount returns how many pending jobs have not been started.
func (e *Executor) InactivatedCount() int {
	n := 0
	for _, j := range e.bag.snapshot() {
		if !j.Activated() {
			n++
		}
	}
	return n
}

// Pending returns the unstarted jobs ordered by run time. Jobs without a
// run time come first.
func (e *Executor) Pending() []*job.Job {
	var out []*job.Job
	for _, j := range e.bag.snapshot() {
		if !j.Activated() {
			out = append(out, j)
		}
	}
	sortByDeadline(out)
	return out
}

// EarliestRunAt returns the earliest run time among pending jobs.
func (e *Executor) EarliestRunAt() (time.Time, bool) {
	times := e.runTimes()
	if len(times) == 0 {
		return time.Time{}, false
	}
	return times[0], true
}

// LatestRunAt returns the latest run time among pending jobs.
func (e *Executor) LatestRunAt() (time.Time, bool) {
	times := e.runTimes()
	if len(times) == 0 {
		return time.Time{}, false
	}
	return times[len(times)-1], true
}

func (e *Executor) runTimes() []time.Time {
	var times []time.Time
	for _, j := range e.bag.snapshot() {
		if at, ok := j.RunAt(); ok && !j.Activated() {
			times = append(times, at)
		}
	}
	sort.Slice(times, func(a, b int) bool { return times[a].Before(times[b]) })
	return times
}

// Toggle suspends or resumes scanning. Jobs already dispatched keep running.
func (e *Executor) Toggle() executor.State { return e.life.Toggle() }

// ChangeResolution sets the scan interval.
func (e *Executor) ChangeResolution(d time.Duration) error { return e.life.ChangeResolution(d) }

// Shutdown stops the agent. Jobs still in the bag are abandoned and
// reported with a warning.
func (e *Executor) Shutdown(wait bool) <-chan struct{} { return e.life.Shutdown(wait) }

// IsBusy reports whether any dispatched job is running.
func (e *Executor) IsBusy() bool { return e.running.Load() > 0 }

// IsAlive reports whether the agent is still running.
func (e *Executor) IsAlive() bool { return e.life.IsAlive() }

// IsSuspended reports whether scanning is paused.
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
		e.life.Pause()
		if e.life.ShutdownRequested() {
			return
		}
		if !e.life.IsSuspended() {
			e.scan()
		}
	}
}

// scan takes every entry present at the start of the tick once.
func (e *Executor) scan() {
	now := e.now()
	n := e.bag.len()

	var due, notDue []*job.Job
	for i := 0; i < n; i++ {
		if e.life.ShutdownRequested() {
			break
		}
		j, ok := e.bag.tryTake()
		if !ok {
			break
		}

		switch {
		case j.Activated():
			// Already started; drop it.
		case j.Cancelled():
			e.obs.Cancel(j, fmt.Sprintf("%s cancelled before start: %v", j, j.Err()))
			j.Release()
			e.settled++
		case j.Due(now):
			if j.Activate() {
				due = append(due, j)
			}
		default:
			notDue = append(notDue, j)
		}
	}
	for _, j := range notDue {
		e.bag.restore(j)
	}

	sortByDeadline(due)
	for _, j := range due {
		e.dispatch(j)
	}
	e.settled += len(due)

	if e.settled > 0 && e.InactivatedCount() == 0 && !e.life.ShutdownRequested() {
		e.settled = 0
		e.obs.Exhausted(fmt.Sprintf("%s: all jobs started, not necessarily finished", e.name))
	}
}

func (e *Executor) dispatch(j *job.Job) {
	e.workers.Add(1)
	go e.work(j)
}

// work runs one due job on its own goroutine.
func (e *Executor) work(j *job.Job) {
	defer e.workers.Done()
	defer j.Release()

	if j.Cancelled() {
		e.obs.Cancel(j, fmt.Sprintf("%s cancelled before dispatch: %v", j, j.Err()))
		return
	}

	stop := context.AfterFunc(j.Context(), func() {
		e.obs.Warning(j, fmt.Sprintf("%s cancelled while running; it keeps running until it returns", j))
	})
	defer stop()

	e.activated.Add(1)
	e.running.Add(1)
	defer e.running.Add(-1)

	executor.Invoke(e.obs, j)
}

func (e *Executor) exit() {
	e.bag.close()
	if left := e.bag.drain(); len(left) > 0 {
		for _, j := range left {
			j.Release()
		}
		e.obs.Warning(nil, fmt.Sprintf("%s: abandoned %d jobs at shutdown", e.name, len(left)))
	}
	if e.waitWorkers {
		e.workers.Wait()
	}
	e.obs.Shutdown(fmt.Sprintf("%s stopped", e.name))
	e.life.MarkStopped()
}

func sortByDeadline(jobs []*job.Job) {
	sort.SliceStable(jobs, func(a, b int) bool {
		ta, _ := jobs[a].RunAt()
		tb, _ := jobs[b].RunAt()
		return ta.Before(tb)
	})
}
