package executor

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	jferrors "github.com/vnykmshr/jobflow/pkg/common/errors"
	"github.com/vnykmshr/jobflow/pkg/job"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

var (
	// ErrShutdown is returned when submitting to an engine that is stopping
	// or stopped. A stopped engine cannot be restarted.
	ErrShutdown = fmt.Errorf("executor is shut down: %w", jferrors.ErrClosed)

	// ErrRejected is returned when the backing store refused a job.
	ErrRejected = fmt.Errorf("job rejected: %w", jferrors.ErrCapacityExceeded)

	// ErrNilJob is returned when submitting a nil job.
	ErrNilJob = errors.New("job cannot be nil")
)

const (
	// DefaultResolution is the poll interval used when none is configured.
	DefaultResolution = 100 * time.Millisecond

	// DefaultSuspendTimeout bounds one wait while suspended.
	DefaultSuspendTimeout = 500 * time.Millisecond
)

// Controller is the control surface of agent-based engines.
type Controller interface {
	// Toggle suspends a running engine or resumes a suspended one.
	Toggle() State

	// ChangeResolution sets the poll interval.
	ChangeResolution(d time.Duration) error

	// Shutdown stops the engine. With wait set it returns after the agent
	// exited. The returned channel is closed on exit.
	Shutdown(wait bool) <-chan struct{}

	IsBusy() bool
	IsAlive() bool
	IsSuspended() bool
	State() State
}

// Ingress is the submission surface shared by every engine.
type Ingress interface {
	// Submit hands j to the engine. It returns ErrShutdown after shutdown
	// and ErrRejected when the backing store refused the job.
	Submit(j *job.Job) error

	// SubmitMany submits each job in order and stops at the first failure.
	SubmitMany(jobs ...*job.Job) error

	// Clear drops every pending job and returns how many were dropped.
	Clear() int

	// Count returns the number of pending jobs.
	Count() int
}

// Config holds the settings common to all engines.
type Config struct {
	// Name identifies the engine in events and metrics. Defaults to the
	// engine kind followed by a short random suffix.
	Name string

	// Resolution is the poll or tick interval. Defaults to DefaultResolution.
	Resolution time.Duration

	// SuspendTimeout bounds one wait while suspended so that a shutdown is
	// noticed without a resume. Defaults to DefaultSuspendTimeout.
	SuspendTimeout time.Duration

	// Observer receives lifecycle events. A fresh registry is created when nil.
	Observer *observer.Registry
}

// Normalize validates c and fills in defaults. kind names the engine in
// validation errors and default names.
func (c Config) Normalize(kind string) (Config, error) {
	if c.Resolution < 0 {
		return c, jferrors.NewValidationError(kind, "resolution", c.Resolution, "must not be negative").
			WithHint("leave zero for the default of " + DefaultResolution.String())
	}
	if c.SuspendTimeout < 0 {
		return c, jferrors.NewValidationError(kind, "suspend_timeout", c.SuspendTimeout, "must not be negative")
	}
	if c.Name == "" {
		c.Name = kind + "-" + uuid.NewString()[:8]
	}
	if c.Resolution == 0 {
		c.Resolution = DefaultResolution
	}
	if c.SuspendTimeout == 0 {
		c.SuspendTimeout = DefaultSuspendTimeout
	}
	if c.Observer == nil {
		c.Observer = observer.NewRegistry()
	}
	return c, nil
}

// Outcome is what happened to a job handed to Run or Invoke.
type Outcome int

const (
	// Completed jobs ran and returned nil.
	Completed Outcome = iota
	// Failed jobs ran and returned an error or panicked.
	Failed
	// Cancelled jobs were dropped because their token had fired.
	Cancelled
	// Skipped jobs had already been activated elsewhere.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Run checks j's token, activates it and invokes it on the calling
// goroutine. A job whose token has fired gets one cancel event and is never
// invoked.
func Run(obs *observer.Registry, j *job.Job) Outcome {
	if j.Cancelled() {
		obs.Cancel(j, fmt.Sprintf("%s cancelled before start: %v", j, j.Err()))
		j.Release()
		return Cancelled
	}
	if !j.Activate() {
		return Skipped
	}
	defer j.Release()
	return Invoke(obs, j)
}

// Invoke runs an already activated job, firing begin and then end or
// error. Faults inside the action never escape. The caller releases the
// job afterwards.
func Invoke(obs *observer.Registry, j *job.Job) Outcome {
	obs.BeginInvoke(j, fmt.Sprintf("%s started", j))
	if err := job.Invoke(j); err != nil {
		obs.Error(j, fmt.Sprintf("%s failed: %v", j, err))
		return Failed
	}
	obs.EndInvoke(j, fmt.Sprintf("%s completed", j))
	return Completed
}

// Reject reports a refused submission on the error slot and returns the
// error to hand back to the caller.
func Reject(obs *observer.Registry, j *job.Job, cause error) error {
	obs.Error(j, fmt.Sprintf("%s rejected: %v", j, cause))
	return fmt.Errorf("%w: %v", ErrRejected, cause)
}
