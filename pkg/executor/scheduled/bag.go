package scheduled

import (
	"errors"
	"sync"

	"github.com/vnykmshr/jobflow/pkg/job"
)

var (
	errBagClosed = errors.New("bag is closed")
	errBagFull   = errors.New("bag is full")
)

// bag is an unordered thread-safe collection. It only supports taking an
// arbitrary element and adding one back, so finding due jobs requires
// taking every element in turn.
type bag struct {
	mu     sync.Mutex
	items  []*job.Job
	limit  int
	closed bool
}

func newBag(limit int) *bag {
	return &bag{limit: limit}
}

func (b *bag) add(j *job.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errBagClosed
	}
	if b.limit > 0 && len(b.items) >= b.limit {
		return errBagFull
	}
	b.items = append(b.items, j)
	return nil
}

// restore puts back a job taken during a scan. It ignores the limit so a
// scan can never lose a job, and it works after close so the remainder can
// be counted.
func (b *bag) restore(j *job.Job) {
	b.mu.Lock()
	b.items = append(b.items, j)
	b.mu.Unlock()
}

func (b *bag) tryTake() (*job.Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.items)
	if n == 0 {
		return nil, false
	}
	j := b.items[n-1]
	b.items[n-1] = nil
	b.items = b.items[:n-1]
	return j, true
}

func (b *bag) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *bag) snapshot() []*job.Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*job.Job, len(b.items))
	copy(out, b.items)
	return out
}

func (b *bag) drain() []*job.Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

func (b *bag) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}
