package observer

import (
	"sync"

	"github.com/vnykmshr/jobflow/pkg/job"
)

// JobHandler receives a lifecycle notification about one job.
type JobHandler func(j *job.Job, msg string)

// Handler receives an engine-level notification.
type Handler func(msg string)

// Observer is a sink that wants every lifecycle notification.
type Observer interface {
	BeginInvoke(j *job.Job, msg string)
	EndInvoke(j *job.Job, msg string)
	Cancel(j *job.Job, msg string)
	Error(j *job.Job, msg string)
	Warning(j *job.Job, msg string)
	Timeout(j *job.Job, msg string)
	Exhausted(msg string)
	Shutdown(msg string)
}

// Registry holds the callback slots an engine broadcasts to.
// The zero value is ready to use.
type Registry struct {
	mu        sync.RWMutex
	begin     []JobHandler
	end       []JobHandler
	cancel    []JobHandler
	errs      []JobHandler
	warnings  []JobHandler
	timeouts  []JobHandler
	exhausted []Handler
	shutdown  []Handler

	// PanicHandler is called when a handler panics. The panic is swallowed
	// either way so a faulty listener cannot stop the engine.
	PanicHandler func(slot string, recovered interface{})
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// OnBeginInvoke subscribes to the start of every invocation.
func (r *Registry) OnBeginInvoke(h JobHandler) { r.addJob(&r.begin, h) }

// OnEndInvoke subscribes to successful completions.
func (r *Registry) OnEndInvoke(h JobHandler) { r.addJob(&r.end, h) }

// OnCancel subscribes to jobs dropped because their token had fired.
func (r *Registry) OnCancel(h JobHandler) { r.addJob(&r.cancel, h) }

// OnError subscribes to action faults and rejected submissions.
func (r *Registry) OnError(h JobHandler) { r.addJob(&r.errs, h) }

// OnWarning subscribes to non-fatal anomalies. The job may be nil.
func (r *Registry) OnWarning(h JobHandler) { r.addJob(&r.warnings, h) }

// OnTimeout subscribes to wait-handle registrations that timed out.
func (r *Registry) OnTimeout(h JobHandler) { r.addJob(&r.timeouts, h) }

// OnExhausted subscribes to "every known job has been started" notices.
func (r *Registry) OnExhausted(h Handler) { r.add(&r.exhausted, h) }

// OnShutdown subscribes to agent exit.
func (r *Registry) OnShutdown(h Handler) { r.add(&r.shutdown, h) }

// Subscribe registers every method of o.
func (r *Registry) Subscribe(o Observer) {
	r.OnBeginInvoke(o.BeginInvoke)
	r.OnEndInvoke(o.EndInvoke)
	r.OnCancel(o.Cancel)
	r.OnError(o.Error)
	r.OnWarning(o.Warning)
	r.OnTimeout(o.Timeout)
	r.OnExhausted(o.Exhausted)
	r.OnShutdown(o.Shutdown)
}

func (r *Registry) addJob(slot *[]JobHandler, h JobHandler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	*slot = append(*slot, h)
}

func (r *Registry) add(slot *[]Handler, h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	*slot = append(*slot, h)
}

// BeginInvoke notifies that j is about to run.
func (r *Registry) BeginInvoke(j *job.Job, msg string) { r.fireJob("begin", &r.begin, j, msg) }

// EndInvoke notifies that j finished without error.
func (r *Registry) EndInvoke(j *job.Job, msg string) { r.fireJob("end", &r.end, j, msg) }

// Cancel notifies that j was dropped before it started.
func (r *Registry) Cancel(j *job.Job, msg string) { r.fireJob("cancel", &r.cancel, j, msg) }

// Error notifies that j failed or could not be enqueued.
func (r *Registry) Error(j *job.Job, msg string) { r.fireJob("error", &r.errs, j, msg) }

// Warning notifies a recoverable anomaly.
func (r *Registry) Warning(j *job.Job, msg string) { r.fireJob("warning", &r.warnings, j, msg) }

// Timeout notifies that the wait for j timed out.
func (r *Registry) Timeout(j *job.Job, msg string) { r.fireJob("timeout", &r.timeouts, j, msg) }

// Exhausted notifies that every known job has been started.
func (r *Registry) Exhausted(msg string) { r.fire("exhausted", &r.exhausted, msg) }

// Shutdown notifies that the agent has exited.
func (r *Registry) Shutdown(msg string) { r.fire("shutdown", &r.shutdown, msg) }

func (r *Registry) fireJob(slot string, handlers *[]JobHandler, j *job.Job, msg string) {
	r.mu.RLock()
	hs := *handlers
	r.mu.RUnlock()

	for _, h := range hs {
		r.safely(slot, func() { h(j, msg) })
	}
}

func (r *Registry) fire(slot string, handlers *[]Handler, msg string) {
	r.mu.RLock()
	hs := *handlers
	r.mu.RUnlock()

	for _, h := range hs {
		r.safely(slot, func() { h(msg) })
	}
}

func (r *Registry) safely(slot string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil && r.PanicHandler != nil {
			r.PanicHandler(slot, rec)
		}
	}()
	fn()
}

// Funcs adapts optional function fields to the Observer interface.
// Nil fields are ignored.
type Funcs struct {
	OnBeginInvoke JobHandler
	OnEndInvoke   JobHandler
	OnCancel      JobHandler
	OnError       JobHandler
	OnWarning     JobHandler
	OnTimeout     JobHandler
	OnExhausted   Handler
	OnShutdown    Handler
}

func (f Funcs) BeginInvoke(j *job.Job, msg string) { callJob(f.OnBeginInvoke, j, msg) }
func (f Funcs) EndInvoke(j *job.Job, msg string)   { callJob(f.OnEndInvoke, j, msg) }
func (f Funcs) Cancel(j *job.Job, msg string)      { callJob(f.OnCancel, j, msg) }
func (f Funcs) Error(j *job.Job, msg string)       { callJob(f.OnError, j, msg) }
func (f Funcs) Warning(j *job.Job, msg string)     { callJob(f.OnWarning, j, msg) }
func (f Funcs) Timeout(j *job.Job, msg string)     { callJob(f.OnTimeout, j, msg) }

func (f Funcs) Exhausted(msg string) {
	if f.OnExhausted != nil {
		f.OnExhausted(msg)
	}
}

func (f Funcs) Shutdown(msg string) {
	if f.OnShutdown != nil {
		f.OnShutdown(msg)
	}
}

func callJob(h JobHandler, j *job.Job, msg string) {
	if h != nil {
		h(j, msg)
	}
}
