package executor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/jobflow/pkg/common/validation"
)

// State is the lifecycle phase of an engine.
type State int32

const (
	// Running engines accept jobs and dequeue them.
	Running State = iota
	// Suspended engines accept jobs but do not dequeue them.
	Suspended
	// ShuttingDown engines refuse jobs and are finishing their last cycle.
	ShuttingDown
	// Stopped engines have exited their agent.
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Lifecycle is the state machine shared by agent-based engines:
// running ⇄ suspended, and either of them → shutting down → stopped.
// All transitions happen under one mutex; the agent observes them through
// the wake, stop and done channels.
type Lifecycle struct {
	mu             sync.Mutex
	state          State
	resolution     time.Duration
	suspendTimeout time.Duration

	busy atomic.Bool

	wake chan struct{} // buffered(1) resume signal
	stop chan struct{} // closed on shutdown request
	done chan struct{} // closed when the agent exits
}

// NewLifecycle creates a running Lifecycle.
func NewLifecycle(resolution, suspendTimeout time.Duration) *Lifecycle {
	return &Lifecycle{
		state:          Running,
		resolution:     resolution,
		suspendTimeout: suspendTimeout,
		wake:           make(chan struct{}, 1),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// State returns the current phase.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Toggle flips running and suspended and returns the new state. Resuming
// signals the agent once. Toggle has no effect once shutdown was requested.
func (l *Lifecycle) Toggle() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case Running:
		l.state = Suspended
	case Suspended:
		l.state = Running
		l.signal()
	}
	return l.state
}

// IsSuspended reports whether dequeuing is paused.
func (l *Lifecycle) IsSuspended() bool {
	return l.State() == Suspended
}

// IsAlive reports whether the agent has not exited yet.
func (l *Lifecycle) IsAlive() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// IsBusy reports whether an invocation is in flight. Diagnostic only.
func (l *Lifecycle) IsBusy() bool {
	return l.busy.Load()
}

// SetBusy records whether an invocation is in flight.
func (l *Lifecycle) SetBusy(busy bool) {
	l.busy.Store(busy)
}

// Resolution returns the poll interval.
func (l *Lifecycle) Resolution() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolution
}

// ChangeResolution sets the poll interval. Two jobs submitted within one
// interval may appear to start together.
func (l *Lifecycle) ChangeResolution(d time.Duration) error {
	if err := validation.ValidatePositiveDuration("executor", "resolution", d); err != nil {
		return err
	}
	l.mu.Lock()
	l.resolution = d
	l.mu.Unlock()
	return nil
}

// Accepting returns ErrShutdown once shutdown was requested.
func (l *Lifecycle) Accepting() error {
	switch l.State() {
	case ShuttingDown, Stopped:
		return ErrShutdown
	}
	return nil
}

// RequestShutdown moves a running or suspended engine to shutting down and
// wakes the agent. It returns false if shutdown was already requested.
func (l *Lifecycle) RequestShutdown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == ShuttingDown || l.state == Stopped {
		return false
	}
	l.state = ShuttingDown
	close(l.stop)
	l.signal()
	return true
}

// ShutdownRequested reports whether RequestShutdown was called.
func (l *Lifecycle) ShutdownRequested() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

// Stopping is closed when shutdown is requested.
func (l *Lifecycle) Stopping() <-chan struct{} {
	return l.stop
}

// AwaitResume blocks while suspended, waking on resume, on shutdown, or
// after the suspend timeout, whichever comes first. The agent re-checks the
// state after it returns.
func (l *Lifecycle) AwaitResume() {
	if !l.IsSuspended() {
		return
	}
	timer := time.NewTimer(l.suspendTimeout)
	defer timer.Stop()

	select {
	case <-l.wake:
	case <-l.stop:
	case <-timer.C:
	}
}

// Pause sleeps for one resolution. A shutdown request cuts it short.
func (l *Lifecycle) Pause() {
	timer := time.NewTimer(l.Resolution())
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-l.stop:
	}
}

// MarkStopped records that the agent exited. It is called exactly once by
// the agent goroutine.
func (l *Lifecycle) MarkStopped() {
	l.mu.Lock()
	l.state = Stopped
	l.mu.Unlock()
	close(l.done)
}

// Done is closed when the agent has exited.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until the agent has exited.
func (l *Lifecycle) Wait() {
	<-l.done
}

// Shutdown requests shutdown and, when wait is set, blocks until the agent
// exits. The returned channel is closed on exit either way.
func (l *Lifecycle) Shutdown(wait bool) <-chan struct{} {
	l.RequestShutdown()
	if wait {
		l.Wait()
	}
	return l.done
}

func (l *Lifecycle) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
