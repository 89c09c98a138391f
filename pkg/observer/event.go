package observer

import (
	"time"

	"github.com/google/uuid"

	"github.com/vnykmshr/jobflow/pkg/job"
)

// Kind identifies which slot produced an Event.
type Kind int

const (
	KindBeginInvoke Kind = iota
	KindEndInvoke
	KindCancel
	KindError
	KindWarning
	KindTimeout
	KindExhausted
	KindShutdown
)

var kindNames = [...]string{
	KindBeginInvoke: "begin_invoke",
	KindEndInvoke:   "end_invoke",
	KindCancel:      "cancel",
	KindError:       "error",
	KindWarning:     "warning",
	KindTimeout:     "timeout",
	KindExhausted:   "exhausted",
	KindShutdown:    "shutdown",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Event is a self-contained record of one notification, for sinks that
// serialize or forward notifications.
type Event struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Engine  string    `json:"engine"`
	JobID   int64     `json:"job_id,omitempty"`
	Title   string    `json:"title,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// NewEvent builds an Event with a fresh ID. j may be nil.
func NewEvent(kind Kind, engine string, j *job.Job, msg string) Event {
	ev := Event{
		ID:      uuid.NewString(),
		Kind:    kind.String(),
		Engine:  engine,
		Message: msg,
		Time:    time.Now(),
	}
	if j != nil {
		ev.JobID = j.ID
		ev.Title = j.Title
	}
	return ev
}

// EventFunc receives Events built from registry notifications.
type EventFunc func(Event)

// Forward returns an Observer that turns every notification into an Event
// tagged with engine and passes it to fn.
func Forward(engine string, fn EventFunc) Observer {
	emit := func(kind Kind) JobHandler {
		return func(j *job.Job, msg string) { fn(NewEvent(kind, engine, j, msg)) }
	}
	return Funcs{
		OnBeginInvoke: emit(KindBeginInvoke),
		OnEndInvoke:   emit(KindEndInvoke),
		OnCancel:      emit(KindCancel),
		OnError:       emit(KindError),
		OnWarning:     emit(KindWarning),
		OnTimeout:     emit(KindTimeout),
		OnExhausted:   func(msg string) { fn(NewEvent(KindExhausted, engine, nil, msg)) },
		OnShutdown:    func(msg string) { fn(NewEvent(KindShutdown, engine, nil, msg)) },
	}
}
