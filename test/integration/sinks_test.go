package integration

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/jobflow/internal/testutil"
	"github.com/vnykmshr/jobflow/pkg/executor"
	"github.com/vnykmshr/jobflow/pkg/executor/queue"
	"github.com/vnykmshr/jobflow/pkg/job"
	"github.com/vnykmshr/jobflow/pkg/logging"
	"github.com/vnykmshr/jobflow/pkg/metrics"
	"github.com/vnykmshr/jobflow/pkg/observer"
	"github.com/vnykmshr/jobflow/pkg/publish"
)

type recordingClient struct {
	mu       sync.Mutex
	channels []string
}

func (c *recordingClient) Publish(ctx context.Context, channel string, msg interface{}) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = append(c.channels, channel)
	return redis.NewIntResult(1, nil)
}

func TestAllSinksObserveOneEngine(t *testing.T) {
	var logs bytes.Buffer
	logger, err := logging.NewLogger(logging.Config{Level: "debug", Format: logging.FormatJSON, Output: &logs})
	testutil.AssertNoError(t, err)

	m := metrics.NewRegistry(prometheus.NewRegistry())
	client := &recordingClient{}
	pub, err := publish.NewRedisPublisher(publish.Config{Client: client, Channel: "events", Engine: "orders"})
	testutil.AssertNoError(t, err)

	obs := observer.NewRegistry()
	obs.Subscribe(logging.Sink(logger, "orders"))
	obs.Subscribe(m.Observer("orders"))
	obs.Subscribe(pub)

	e, err := queue.New(queue.Config{
		Config: executor.Config{Name: "orders", Resolution: 5 * time.Millisecond, Observer: obs},
	})
	testutil.AssertNoError(t, err)

	jobs := []*job.Job{
		job.NewFunc("ok-1", func(ctx context.Context) error { return nil }),
		job.NewFunc("ok-2", func(ctx context.Context) error { return nil }),
		job.NewFunc("broken", func(ctx context.Context) error { return errors.New("boom") }),
		job.NewFunc("expired", func(ctx context.Context) error { return nil }, job.WithTimeout(0)),
	}
	for _, j := range jobs {
		testutil.AssertNoError(t, e.Submit(j))
		m.RecordSubmitted(e.Name())
	}
	<-e.Shutdown(true)

	testutil.AssertEqual(t, promtest.ToFloat64(m.JobsSubmitted.WithLabelValues("orders")), 4.0)
	testutil.AssertEqual(t, promtest.ToFloat64(m.JobsStarted.WithLabelValues("orders")), 3.0)
	testutil.AssertEqual(t, promtest.ToFloat64(m.JobsCompleted.WithLabelValues("orders")), 2.0)
	testutil.AssertEqual(t, promtest.ToFloat64(m.JobsFailed.WithLabelValues("orders")), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(m.JobsCancelled.WithLabelValues("orders")), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(m.Shutdowns.WithLabelValues("orders")), 1.0)

	// begin+end twice, begin+error, cancel, shutdown
	const events = 8
	testutil.AssertEqual(t, pub.Published(), int64(events))
	testutil.AssertEqual(t, pub.Failed(), int64(0))
	testutil.AssertEqual(t, len(strings.Split(strings.TrimSpace(logs.String()), "\n")), events)
	if !strings.Contains(logs.String(), `"title":"broken"`) {
		t.Errorf("failure not logged:\n%s", logs.String())
	}
}
