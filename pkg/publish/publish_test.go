package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/jobflow/internal/testutil"
	jferrors "github.com/vnykmshr/jobflow/pkg/common/errors"
	"github.com/vnykmshr/jobflow/pkg/job"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

type message struct {
	channel string
	payload []byte
}

type fakeClient struct {
	mu       sync.Mutex
	messages []message
	err      error
}

func (c *fakeClient) Publish(ctx context.Context, channel string, msg interface{}) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		cmd := redis.NewIntCmd(ctx)
		cmd.SetErr(c.err)
		return cmd
	}
	c.messages = append(c.messages, message{channel: channel, payload: msg.([]byte)})
	return redis.NewIntResult(1, nil)
}

func TestPublishesEvents(t *testing.T) {
	client := &fakeClient{}
	p, err := NewRedisPublisher(Config{Client: client, Channel: "jobflow:events", Engine: "orders"})
	testutil.AssertNoError(t, err)

	obs := observer.NewRegistry()
	obs.Subscribe(p)

	j := job.NewFunc("invoice", func(ctx context.Context) error { return nil })
	obs.BeginInvoke(j, "started")
	obs.Shutdown("stopped")

	testutil.AssertEqual(t, p.Published(), int64(2))
	testutil.AssertEqual(t, len(client.messages), 2)
	testutil.AssertEqual(t, client.messages[0].channel, "jobflow:events")

	var ev observer.Event
	testutil.AssertNoError(t, json.Unmarshal(client.messages[0].payload, &ev))
	testutil.AssertEqual(t, ev.Kind, "begin_invoke")
	testutil.AssertEqual(t, ev.Engine, "orders")
	testutil.AssertEqual(t, ev.JobID, j.ID)
	testutil.AssertEqual(t, ev.Title, "invoice")
	if ev.ID == "" {
		t.Error("event should carry an ID")
	}

	testutil.AssertNoError(t, json.Unmarshal(client.messages[1].payload, &ev))
	testutil.AssertEqual(t, ev.Kind, "shutdown")
}

func TestPublishErrorsAreContained(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}

	var reported []error
	p, err := NewRedisPublisher(Config{
		Client:  client,
		Channel: "events",
		OnError: func(ev observer.Event, err error) { reported = append(reported, err) },
	})
	testutil.AssertNoError(t, err)

	p.Warning(nil, "disk almost full")
	p.Exhausted("all started")

	testutil.AssertEqual(t, p.Failed(), int64(2))
	testutil.AssertEqual(t, p.Published(), int64(0))
	testutil.AssertEqual(t, len(reported), 2)

	var opErr *jferrors.OperationError
	if !errors.As(reported[0], &opErr) {
		t.Fatalf("expected OperationError, got %T", reported[0])
	}
	testutil.AssertEqual(t, opErr.Module, "publish")
	testutil.AssertEqual(t, jferrors.IsRetryable(reported[0]), false)
}

func TestPublishTimeoutIsRetryable(t *testing.T) {
	client := &fakeClient{err: context.DeadlineExceeded}

	var reported error
	p, err := NewRedisPublisher(Config{
		Client:  client,
		Channel: "events",
		OnError: func(ev observer.Event, err error) { reported = err },
	})
	testutil.AssertNoError(t, err)

	p.Shutdown("stopped")

	if !errors.Is(reported, jferrors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", reported)
	}
	testutil.AssertEqual(t, jferrors.IsRetryable(reported), true)
}

func TestNewRedisPublisherValidation(t *testing.T) {
	if _, err := NewRedisPublisher(Config{Channel: "events"}); err == nil {
		t.Error("expected error without client")
	}
	if _, err := NewRedisPublisher(Config{Client: &fakeClient{}}); err == nil {
		t.Error("expected error without channel")
	}
	if _, err := NewRedisPublisher(Config{Client: &fakeClient{}, Channel: "c", Timeout: -1}); err == nil {
		t.Error("expected error for negative timeout")
	}
}
