package scheduled

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/vnykmshr/jobflow/internal/testutil"
	"github.com/vnykmshr/jobflow/internal/testutil/eventlog"
	"github.com/vnykmshr/jobflow/pkg/executor"
	"github.com/vnykmshr/jobflow/pkg/job"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newExecutor(t *testing.T, config Config) (*Executor, *eventlog.Recorder) {
	t.Helper()
	if config.Resolution == 0 {
		config.Resolution = 10 * time.Millisecond
	}
	if config.SuspendTimeout == 0 {
		config.SuspendTimeout = 20 * time.Millisecond
	}
	config.WaitWorkers = true
	config.Observer = observer.NewRegistry()
	rec := eventlog.Attach(config.Observer)

	e, err := New(config)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { e.Shutdown(true) })
	return e, rec
}

func noop(ctx context.Context) error { return nil }

func TestEarliestDeadlineFirst(t *testing.T) {
	e, rec := newExecutor(t, Config{})

	now := time.Now()
	testutil.AssertNoError(t, e.Submit(job.NewFunc("first", noop, job.WithRunAt(now.Add(100*time.Millisecond)))))
	testutil.AssertNoError(t, e.Submit(job.NewFunc("second", noop, job.WithRunAt(now.Add(50*time.Millisecond)))))

	rec.WaitFor(t, observer.KindEndInvoke, 2, 2*time.Second)

	first, _ := rec.First(observer.KindBeginInvoke, "first")
	second, _ := rec.First(observer.KindBeginInvoke, "second")
	if !second.At.Before(first.At) {
		t.Fatalf("second (due earlier) began at %v, after first at %v", second.At, first.At)
	}
}

func TestSortByDeadline(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jobs := []*job.Job{
		job.NewFunc("c", noop, job.WithRunAt(base.Add(3*time.Second))),
		job.NewFunc("now", noop),
		job.NewFunc("a", noop, job.WithRunAt(base.Add(time.Second))),
		job.NewFunc("b", noop, job.WithRunAt(base.Add(2*time.Second))),
	}

	sortByDeadline(jobs)

	for i, want := range []string{"now", "a", "b", "c"} {
		testutil.AssertEqual(t, jobs[i].Title, want)
	}
}

func TestNotBeforeDeadline(t *testing.T) {
	e, rec := newExecutor(t, Config{})

	runAt := time.Now().Add(50 * time.Millisecond)
	testutil.AssertNoError(t, e.Submit(job.NewFunc("deferred", noop, job.WithRunAt(runAt))))

	time.Sleep(20 * time.Millisecond)
	testutil.AssertEqual(t, rec.Count(observer.KindBeginInvoke), 0)

	rec.WaitFor(t, observer.KindBeginInvoke, 1, time.Second)
	begin, _ := rec.First(observer.KindBeginInvoke, "deferred")
	if begin.At.Before(runAt) {
		t.Fatalf("job began at %v, before its run time %v", begin.At, runAt)
	}
}

func TestSlowJobDoesNotBlockScan(t *testing.T) {
	e, rec := newExecutor(t, Config{})

	release := make(chan struct{})
	testutil.AssertNoError(t, e.Submit(job.NewFunc("slow", func(ctx context.Context) error {
		<-release
		return nil
	})))
	_, err := e.SubmitAfter("quick", job.ActionFunc(noop), 30*time.Millisecond)
	testutil.AssertNoError(t, err)

	rec.WaitFor(t, observer.KindEndInvoke, 1, time.Second)
	testutil.AssertEqual(t, rec.Titles(observer.KindEndInvoke)[0], "quick")
	testutil.AssertEqual(t, e.IsBusy(), true)

	close(release)
	rec.WaitFor(t, observer.KindEndInvoke, 2, time.Second)
}

func TestExhausted(t *testing.T) {
	e, rec := newExecutor(t, Config{})

	// Both jobs must land in the same scan.
	e.Toggle()
	testutil.AssertNoError(t, e.SubmitMany(
		job.NewFunc("one", noop),
		job.NewFunc("two", noop),
	))
	e.Toggle()
	rec.WaitFor(t, observer.KindExhausted, 1, time.Second)

	time.Sleep(50 * time.Millisecond)
	testutil.AssertEqual(t, rec.Count(observer.KindExhausted), 1)
	testutil.AssertEqual(t, e.ActivatedCount(), int64(2))

	testutil.AssertNoError(t, e.Submit(job.NewFunc("three", noop)))
	rec.WaitFor(t, observer.KindExhausted, 2, time.Second)
}

func TestExhaustedAfterCancelledBatch(t *testing.T) {
	e, rec := newExecutor(t, Config{})

	e.Toggle()
	testutil.AssertNoError(t, e.SubmitMany(
		job.NewFunc("stale", noop, job.WithTimeout(0)),
		job.NewFunc("staler", noop, job.WithTimeout(0)),
	))
	e.Toggle()

	rec.WaitFor(t, observer.KindExhausted, 1, time.Second)
	testutil.AssertEqual(t, rec.Count(observer.KindCancel), 2)
	testutil.AssertEqual(t, rec.Count(observer.KindBeginInvoke), 0)
	testutil.AssertEqual(t, e.ActivatedCount(), int64(0))
}

func TestWorkerSkipsJobCancelledAfterScan(t *testing.T) {
	e, rec := newExecutor(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	j := job.NewFunc("raced", noop, job.WithContext(ctx))
	testutil.AssertEqual(t, j.Activate(), true)
	cancel()

	e.workers.Add(1)
	e.work(j)

	testutil.AssertEqual(t, rec.Count(observer.KindCancel), 1)
	testutil.AssertEqual(t, rec.Count(observer.KindBeginInvoke), 0)
	testutil.AssertEqual(t, e.ActivatedCount(), int64(0))
}

func TestSubmitAtKeepsCallerOptions(t *testing.T) {
	e, _ := newExecutor(t, Config{})
	e.Toggle()

	now := time.Now()
	opts := make([]job.Option, 1, 2)
	opts[0] = job.WithID(1)
	spare := opts[:2]

	_, err := e.SubmitAt("a", job.ActionFunc(noop), now.Add(time.Hour), opts...)
	testutil.AssertNoError(t, err)
	if spare[1] != nil {
		t.Fatal("SubmitAt wrote into the caller's option slice")
	}
}

func TestExpiredTokenIsCancelled(t *testing.T) {
	e, rec := newExecutor(t, Config{})

	testutil.AssertNoError(t, e.Submit(job.NewFunc("expired", noop, job.WithTimeout(0))))

	rec.WaitFor(t, observer.KindCancel, 1, time.Second)
	time.Sleep(30 * time.Millisecond)
	testutil.AssertEqual(t, rec.Count(observer.KindCancel), 1)
	testutil.AssertEqual(t, rec.Count(observer.KindBeginInvoke), 0)
	testutil.AssertEqual(t, e.Count(), 0)
}

func TestCancelWhileRunningWarns(t *testing.T) {
	e, rec := newExecutor(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	testutil.AssertNoError(t, e.Submit(job.NewFunc("cooperative", func(jctx context.Context) error {
		cancel()
		<-jctx.Done()
		return nil
	}, job.WithContext(ctx))))

	rec.WaitFor(t, observer.KindWarning, 1, time.Second)
	rec.WaitFor(t, observer.KindEndInvoke, 1, time.Second)
	testutil.AssertEqual(t, rec.Titles(observer.KindWarning)[0], "cooperative")
}

func TestSuspendHoldsJobs(t *testing.T) {
	e, rec := newExecutor(t, Config{})
	e.Toggle()

	for i := 0; i < 3; i++ {
		testutil.AssertNoError(t, e.Submit(job.NewFunc("held", noop)))
	}
	testutil.AssertEqual(t, e.Count(), 3)

	time.Sleep(50 * time.Millisecond)
	testutil.AssertEqual(t, rec.Count(observer.KindBeginInvoke), 0)

	e.Toggle()
	rec.WaitFor(t, observer.KindEndInvoke, 3, time.Second)
}

func TestShutdownAbandonsRemaining(t *testing.T) {
	e, rec := newExecutor(t, Config{})

	testutil.AssertNoError(t, e.Submit(job.NewFunc("later", noop, job.WithDelay(time.Hour))))
	testutil.AssertNoError(t, e.Submit(job.NewFunc("much later", noop, job.WithDelay(2*time.Hour))))
	<-e.Shutdown(true)

	testutil.AssertEqual(t, e.IsAlive(), false)
	testutil.AssertEqual(t, rec.Count(observer.KindShutdown), 1)
	testutil.AssertEqual(t, rec.Count(observer.KindBeginInvoke), 0)

	warnings := rec.Of(observer.KindWarning)
	testutil.AssertEqual(t, len(warnings), 1)
	if !strings.Contains(warnings[0].Message, "abandoned 2 jobs") {
		t.Errorf("unexpected warning %q", warnings[0].Message)
	}

	if err := e.Submit(job.NewFunc("late", noop)); !errors.Is(err, executor.ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
}

func TestShutdownWaitsForWorkers(t *testing.T) {
	e, rec := newExecutor(t, Config{})

	testutil.AssertNoError(t, e.Submit(job.NewFunc("slow", func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})))
	rec.WaitFor(t, observer.KindBeginInvoke, 1, time.Second)

	e.Shutdown(true)
	testutil.AssertEqual(t, rec.Count(observer.KindEndInvoke), 1)
}

func TestQueriesWithMockClock(t *testing.T) {
	clock := testutil.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	e, rec := newExecutor(t, Config{Now: clock.Now})

	start := clock.Now()
	_, err := e.SubmitAt("b", job.ActionFunc(noop), start.Add(2*time.Minute))
	testutil.AssertNoError(t, err)
	_, err = e.SubmitAt("c", job.ActionFunc(noop), start.Add(3*time.Minute))
	testutil.AssertNoError(t, err)
	_, err = e.SubmitAfter("a", job.ActionFunc(noop), time.Minute)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, e.Count(), 3)
	testutil.AssertEqual(t, e.InactivatedCount(), 3)

	earliest, ok := e.EarliestRunAt()
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, earliest, start.Add(time.Minute))
	latest, _ := e.LatestRunAt()
	testutil.AssertEqual(t, latest, start.Add(3*time.Minute))

	pending := e.Pending()
	for i, want := range []string{"a", "b", "c"} {
		testutil.AssertEqual(t, pending[i].Title, want)
	}

	// Nothing is due on the frozen clock.
	time.Sleep(40 * time.Millisecond)
	testutil.AssertEqual(t, e.ActivatedCount(), int64(0))

	clock.Advance(90 * time.Second)
	rec.WaitFor(t, observer.KindEndInvoke, 1, time.Second)
	testutil.AssertEqual(t, rec.Titles(observer.KindEndInvoke)[0], "a")
	testutil.AssertEqual(t, e.ActivatedCount(), int64(1))
	testutil.Eventually(t, func() bool { return e.Count() == 2 }, time.Second, 5*time.Millisecond)

	testutil.AssertEqual(t, e.Clear(), 2)
	_, ok = e.EarliestRunAt()
	testutil.AssertEqual(t, ok, false)
}

func TestSubmitCron(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewMockClock(start)
	e, _ := newExecutor(t, Config{Now: clock.Now, Location: time.UTC})

	tests := []struct {
		expr string
		want time.Time
	}{
		{"@every 5s", start.Add(5 * time.Second)},
		{"*/10 * * * * *", start.Add(10 * time.Second)},
		{"30 12 * * *", start.Add(30 * time.Minute)},
		{"@daily", start.Add(12 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			j, err := e.SubmitCron("cron", job.ActionFunc(noop), tt.expr)
			testutil.AssertNoError(t, err)
			at, ok := j.RunAt()
			testutil.AssertEqual(t, ok, true)
			testutil.AssertEqual(t, at, tt.want)
		})
	}

	if _, err := e.SubmitCron("bad", job.ActionFunc(noop), "not a cron"); err == nil {
		t.Error("expected error for invalid expression")
	}
	if _, err := e.SubmitCron("empty", job.ActionFunc(noop), ""); err == nil {
		t.Error("expected error for empty expression")
	}
}

func TestMaxJobs(t *testing.T) {
	e, rec := newExecutor(t, Config{MaxJobs: 1})
	e.Toggle()

	testutil.AssertNoError(t, e.Submit(job.NewFunc("fits", noop)))
	err := e.Submit(job.NewFunc("overflow", noop))
	if !errors.Is(err, executor.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	testutil.AssertEqual(t, rec.Titles(observer.KindError)[0], "overflow")
}

func TestSubmitAfterValidatesDelay(t *testing.T) {
	e, _ := newExecutor(t, Config{})

	if _, err := e.SubmitAfter("never", job.ActionFunc(noop), 0); err == nil {
		t.Fatal("expected validation error for zero delay")
	}
}
