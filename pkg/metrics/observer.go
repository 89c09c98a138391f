package metrics

import (
	"sync"
	"time"

	"github.com/vnykmshr/jobflow/pkg/job"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

// Observer returns an observer that records the lifecycle events of the
// named executor.
func (r *Registry) Observer(executor string) observer.Observer {
	return &recorder{reg: r, executor: executor}
}

type recorder struct {
	reg      *Registry
	executor string
	started  sync.Map // job ID -> time.Time
}

func (o *recorder) BeginInvoke(j *job.Job, _ string) {
	o.started.Store(j.ID, time.Now())
	o.reg.JobsStarted.WithLabelValues(o.executor).Inc()
	o.reg.JobsRunning.WithLabelValues(o.executor).Inc()
}

func (o *recorder) EndInvoke(j *job.Job, _ string) {
	o.finish(j)
	o.reg.JobsCompleted.WithLabelValues(o.executor).Inc()
}

func (o *recorder) Error(j *job.Job, _ string) {
	// Rejected submissions report on the error slot without having started.
	if !o.finish(j) {
		o.reg.RecordRejected(o.executor)
		return
	}
	o.reg.JobsFailed.WithLabelValues(o.executor).Inc()
}

func (o *recorder) Cancel(*job.Job, string) {
	o.reg.JobsCancelled.WithLabelValues(o.executor).Inc()
}

func (o *recorder) Warning(*job.Job, string) {
	o.reg.Warnings.WithLabelValues(o.executor).Inc()
}

func (o *recorder) Timeout(*job.Job, string) {
	o.reg.JobsTimedOut.WithLabelValues(o.executor).Inc()
}

func (o *recorder) Exhausted(string) {
	o.reg.Exhausted.WithLabelValues(o.executor).Inc()
}

func (o *recorder) Shutdown(string) {
	o.reg.Shutdowns.WithLabelValues(o.executor).Inc()
}

// finish closes the timing of a started job. It returns false when the job
// never began.
func (o *recorder) finish(j *job.Job) bool {
	if j == nil {
		return false
	}
	v, ok := o.started.LoadAndDelete(j.ID)
	if !ok {
		return false
	}
	o.reg.JobDuration.WithLabelValues(o.executor).Observe(time.Since(v.(time.Time)).Seconds())
	o.reg.JobsRunning.WithLabelValues(o.executor).Dec()
	return true
}
