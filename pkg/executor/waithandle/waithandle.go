// Package waithandle implements an engine without an agent. Each job is
// registered with a Handle and an optional timeout; signalling the handle
// runs the job on a fresh goroutine, and an elapsed timeout reports the job
// as timed out instead of running it.
package waithandle

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	jferrors "github.com/vnykmshr/jobflow/pkg/common/errors"
	"github.com/vnykmshr/jobflow/pkg/common/validation"
	"github.com/vnykmshr/jobflow/pkg/executor"
	"github.com/vnykmshr/jobflow/pkg/job"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

// ErrRegistered is returned when registering a job twice.
var ErrRegistered = errors.New("job is already registered")

// Options control one registration.
type Options struct {
	// Timeout bounds each wait for a signal. Zero waits forever.
	Timeout time.Duration

	// ExecuteOnce ends the registration after its first firing. Otherwise
	// the registration re-arms after every firing until unregistered.
	ExecuteOnce bool

	// Repeat runs on every firing of a re-arming registration after the
	// job itself has run. Without it later signals are reported as warnings.
	Repeat job.Action
}

// Config configures an Executor.
type Config struct {
	// Name identifies the engine in events.
	Name string

	// Observer receives lifecycle events. A fresh registry is created when nil.
	Observer *observer.Registry
}

type registration struct {
	job    *job.Job
	handle *Handle
	opts   Options
	timer  *time.Timer // signals the handle for SubmitAfter

	fired    atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

func (r *registration) cancel() {
	r.stopOnce.Do(func() {
		close(r.stop)
		if r.timer != nil {
			r.timer.Stop()
		}
	})
}

// Executor dispatches jobs when their handles are signalled.
type Executor struct {
	name string
	obs  *observer.Registry

	mu     sync.Mutex
	regs   map[*job.Job]*registration
	closed bool

	wg       sync.WaitGroup
	timedOut atomic.Int64
}

// New creates an Executor.
func New(config Config) (*Executor, error) {
	base, err := executor.Config{Name: config.Name, Observer: config.Observer}.Normalize("waithandle")
	if err != nil {
		return nil, err
	}
	return &Executor{
		name: base.Name,
		obs:  base.Observer,
		regs: make(map[*job.Job]*registration),
	}, nil
}

// Name returns the engine name used in events.
func (e *Executor) Name() string { return e.name }

// Observer returns the registry the engine reports to.
func (e *Executor) Observer() *observer.Registry { return e.obs }

// Register waits on h for j.
func (e *Executor) Register(j *job.Job, h *Handle, opts Options) error {
	return e.register(j, h, opts, nil)
}

// Submit registers j with a fresh handle for a single execution and
// returns the handle that triggers it.
func (e *Executor) Submit(j *job.Job) (*Handle, error) {
	h := NewHandle()
	if err := e.register(j, h, Options{ExecuteOnce: true}, nil); err != nil {
		return nil, err
	}
	return h, nil
}

// SubmitAfter registers j for a single execution d from now.
func (e *Executor) SubmitAfter(j *job.Job, d time.Duration) error {
	if err := validation.ValidatePositiveDuration("waithandle", "delay", d); err != nil {
		return err
	}
	h := NewHandle()
	return e.register(j, h, Options{ExecuteOnce: true}, func() *time.Timer {
		return time.AfterFunc(d, h.Set)
	})
}

func (e *Executor) register(j *job.Job, h *Handle, opts Options, arm func() *time.Timer) error {
	if j == nil {
		return executor.ErrNilJob
	}
	if h == nil {
		return jferrors.NewValidationError("waithandle", "handle", nil, "cannot be nil")
	}
	if opts.Timeout < 0 {
		return jferrors.NewValidationError("waithandle", "timeout", opts.Timeout, "must not be negative").
			WithHint("use 0 to wait without a timeout")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return executor.ErrShutdown
	}
	if _, ok := e.regs[j]; ok {
		return fmt.Errorf("%w: %s", ErrRegistered, j)
	}

	r := &registration{job: j, handle: h, opts: opts, stop: make(chan struct{})}
	if arm != nil {
		r.timer = arm()
	}
	e.regs[j] = r

	e.wg.Add(1)
	go e.wait(r)
	return nil
}

// Unregister stops waiting for j. It returns false if j was not registered.
// A callback already running is not affected.
func (e *Executor) Unregister(j *job.Job) bool {
	e.mu.Lock()
	r, ok := e.regs[j]
	delete(e.regs, j)
	e.mu.Unlock()

	if ok {
		r.cancel()
	}
	return ok
}

// Pending returns the number of active registrations.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.regs)
}

// TimedOutCount returns how many jobs were handled by a timeout.
func (e *Executor) TimedOutCount() int64 { return e.timedOut.Load() }

// Close unregisters every handle and waits for running callbacks.
// Registrations that never fired are reported as untriggered. Calling
// Close again has no effect.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	regs := e.regs
	e.regs = make(map[*job.Job]*registration)
	e.mu.Unlock()

	untriggered := 0
	for _, r := range regs {
		if !r.fired.Load() {
			untriggered++
		}
		r.cancel()
	}
	e.wg.Wait()

	if untriggered > 0 {
		e.obs.Warning(nil, fmt.Sprintf("%s: closed with %d untriggered objects", e.name, untriggered))
	}
	e.obs.Shutdown(fmt.Sprintf("%s closed", e.name))
	return nil
}

// wait is the dispatcher of one registration.
func (e *Executor) wait(r *registration) {
	defer e.wg.Done()

	for {
		var timeout <-chan time.Time
		var timer *time.Timer
		if r.opts.Timeout > 0 {
			timer = time.NewTimer(r.opts.Timeout)
			timeout = timer.C
		}

		var timedOut bool
		select {
		case <-r.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-r.handle.C():
			timedOut = false
		case <-timeout:
			timedOut = true
		}
		if timer != nil {
			timer.Stop()
		}

		r.fired.Store(true)
		e.wg.Add(1)
		go e.callback(r, timedOut)

		if r.opts.ExecuteOnce {
			e.remove(r)
			return
		}
	}
}

func (e *Executor) remove(r *registration) {
	e.mu.Lock()
	if e.regs[r.job] == r {
		delete(e.regs, r.job)
	}
	e.mu.Unlock()
	r.cancel()
}

// callback handles one firing on its own goroutine.
func (e *Executor) callback(r *registration, timedOut bool) {
	defer e.wg.Done()
	j := r.job

	if timedOut {
		if j.Activate() {
			e.timedOut.Add(1)
			e.obs.Timeout(j, fmt.Sprintf("%s timed out after %v", j, r.opts.Timeout))
			j.Release()
		}
		return
	}

	// Activate before the cancellation check so only one firing can report
	// the cancel. A cancelled registration ends there.
	if j.Activate() {
		if j.Cancelled() {
			e.obs.Cancel(j, fmt.Sprintf("%s cancelled before start: %v", j, j.Err()))
			j.Release()
			e.remove(r)
			return
		}
		defer j.Release()
		executor.Invoke(e.obs, j)
		return
	}
	if r.opts.Repeat != nil {
		executor.Run(e.obs, job.New(j.Title, r.opts.Repeat))
		return
	}
	e.obs.Warning(j, fmt.Sprintf("%s already triggered; signal ignored", j))
}
