// Package eventlog records observer notifications for assertions in tests.
package eventlog

import (
	"sync"
	"testing"
	"time"

	"github.com/vnykmshr/jobflow/internal/testutil"
	"github.com/vnykmshr/jobflow/pkg/job"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

// Entry is one recorded notification.
type Entry struct {
	Kind    observer.Kind
	Job     *job.Job
	Message string
	At      time.Time
}

// Recorder captures every notification of the registries it is attached to.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Attach creates a Recorder subscribed to reg.
func Attach(reg *observer.Registry) *Recorder {
	r := &Recorder{}
	rec := func(kind observer.Kind) observer.JobHandler {
		return func(j *job.Job, msg string) { r.add(kind, j, msg) }
	}
	reg.Subscribe(observer.Funcs{
		OnBeginInvoke: rec(observer.KindBeginInvoke),
		OnEndInvoke:   rec(observer.KindEndInvoke),
		OnCancel:      rec(observer.KindCancel),
		OnError:       rec(observer.KindError),
		OnWarning:     rec(observer.KindWarning),
		OnTimeout:     rec(observer.KindTimeout),
		OnExhausted:   func(msg string) { r.add(observer.KindExhausted, nil, msg) },
		OnShutdown:    func(msg string) { r.add(observer.KindShutdown, nil, msg) },
	})
	return r
}

func (r *Recorder) add(kind observer.Kind, j *job.Job, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Kind: kind, Job: j, Message: msg, At: time.Now()})
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Of returns the entries of one kind in arrival order.
func (r *Recorder) Of(kind observer.Kind) []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many notifications of kind were recorded.
func (r *Recorder) Count(kind observer.Kind) int {
	return len(r.Of(kind))
}

// Titles returns the job titles of kind in arrival order.
func (r *Recorder) Titles(kind observer.Kind) []string {
	var out []string
	for _, e := range r.Of(kind) {
		if e.Job != nil {
			out = append(out, e.Job.Title)
		}
	}
	return out
}

// First returns the first entry of kind for the job titled title.
func (r *Recorder) First(kind observer.Kind, title string) (Entry, bool) {
	for _, e := range r.Of(kind) {
		if e.Job != nil && e.Job.Title == title {
			return e, true
		}
	}
	return Entry{}, false
}

// WaitFor blocks until at least n notifications of kind were recorded.
func (r *Recorder) WaitFor(t *testing.T, kind observer.Kind, n int, timeout time.Duration) {
	t.Helper()
	testutil.Eventually(t, func() bool {
		return r.Count(kind) >= n
	}, timeout, 5*time.Millisecond)
}
