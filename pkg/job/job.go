package job

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	jfcontext "github.com/vnykmshr/jobflow/pkg/common/context"
)

// Action is the work carried by a Job.
type Action interface {
	// Execute runs the action. ctx is the job's cancellation token; the
	// engines never interrupt a running action, so honoring it is up to
	// the action itself.
	Execute(ctx context.Context) error
}

// ActionFunc is a function type that implements the Action interface.
type ActionFunc func(ctx context.Context) error

// Execute implements the Action interface for ActionFunc.
func (f ActionFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

var lastID atomic.Int64

// NextID returns the next value of the process-wide job sequence.
func NextID() int64 {
	return lastID.Add(1)
}

// Job is one unit of submitted work.
type Job struct {
	ID    int64
	Title string

	action    Action
	ctx       context.Context
	release   context.CancelFunc
	runAt     time.Time
	activated atomic.Bool
}

// Option configures a Job at construction time.
type Option func(*Job)

// WithID overrides the generated sequence ID.
func WithID(id int64) Option {
	return func(j *Job) { j.ID = id }
}

// WithContext sets the job's cancellation token.
func WithContext(ctx context.Context) Option {
	return func(j *Job) {
		if ctx != nil {
			j.ctx = ctx
		}
	}
}

// WithTimeout gives the job a cancellation token that expires after d.
// A zero or negative d yields a token that is already expired.
func WithTimeout(d time.Duration) Option {
	return func(j *Job) {
		if d <= 0 {
			j.ctx = jfcontext.Expired()
			return
		}
		j.ctx, j.release = jfcontext.WithTimeoutOrCancel(j.ctx, d)
	}
}

// WithRunAt sets the earliest time the job may run.
func WithRunAt(t time.Time) Option {
	return func(j *Job) { j.runAt = t }
}

// WithDelay sets the earliest run time to the wall clock plus d. Engines
// with an injected clock ignore it here; use their SubmitAfter instead.
func WithDelay(d time.Duration) Option {
	return func(j *Job) { j.runAt = time.Now().Add(d) }
}

// New creates a Job. Options are applied in order, so WithContext should
// precede WithTimeout when both are used.
func New(title string, action Action, opts ...Option) *Job {
	j := &Job{
		Title:  title,
		action: action,
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.ID == 0 {
		j.ID = NextID()
	}
	return j
}

// NewFunc is shorthand for New with an ActionFunc.
func NewFunc(title string, fn func(ctx context.Context) error, opts ...Option) *Job {
	return New(title, ActionFunc(fn), opts...)
}

// Activate marks the job as started. It returns false when the job was
// already activated, in which case the caller must not invoke it.
func (j *Job) Activate() bool {
	return j.activated.CompareAndSwap(false, true)
}

// Activated reports whether execution of the job has started.
func (j *Job) Activated() bool {
	return j.activated.Load()
}

// Context returns the job's cancellation token.
func (j *Job) Context() context.Context {
	return j.ctx
}

// Done is closed when the job's cancellation token fires.
func (j *Job) Done() <-chan struct{} {
	return j.ctx.Done()
}

// Err returns the cancellation cause, or nil while the token is live.
func (j *Job) Err() error {
	return j.ctx.Err()
}

// Cancelled reports whether the job's cancellation token has fired.
func (j *Job) Cancelled() bool {
	return jfcontext.IsCanceled(j.ctx)
}

// RunAt returns the earliest run time and whether one was set.
func (j *Job) RunAt() (time.Time, bool) {
	return j.runAt, !j.runAt.IsZero()
}

// Due reports whether the job may run at now. Jobs without a deadline are
// always due.
func (j *Job) Due(now time.Time) bool {
	return j.runAt.IsZero() || !now.Before(j.runAt)
}

// Release frees the timer behind a WithTimeout token. Engines call it once
// they are finished with the job.
func (j *Job) Release() {
	if j.release != nil {
		j.release()
	}
}

func (j *Job) String() string {
	return fmt.Sprintf("job %d %q", j.ID, j.Title)
}

// Invoke runs the job's action with its own token. A panic inside the
// action is recovered and returned as an error together with the stack.
func Invoke(j *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %d panicked: %v\nStack trace:\n%s", j.ID, r, debug.Stack())
		}
	}()

	if j.action == nil {
		return fmt.Errorf("job %d has no action", j.ID)
	}
	return j.action.Execute(j.ctx)
}
