// Package publish forwards engine lifecycle notifications to other
// processes. Events are serialized as JSON and published on a Redis channel;
// jobs themselves never leave the process.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	jferrors "github.com/vnykmshr/jobflow/pkg/common/errors"
	"github.com/vnykmshr/jobflow/pkg/common/validation"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

// DefaultTimeout bounds a single PUBLISH.
const DefaultTimeout = time.Second

// Client is the part of a Redis client the publisher needs.
// redis.UniversalClient satisfies it.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Config configures a RedisPublisher.
type Config struct {
	// Client publishes the messages.
	Client Client

	// Channel is the Redis channel events are published on.
	Channel string

	// Engine tags every event with the name of the executor it came from.
	Engine string

	// Timeout bounds each publish. Defaults to DefaultTimeout.
	Timeout time.Duration

	// OnError is called with an *errors.OperationError when an event cannot
	// be published. Publish errors never reach the engine.
	OnError func(ev observer.Event, err error)
}

// RedisPublisher is an observer that publishes every notification as a
// JSON-encoded observer.Event.
type RedisPublisher struct {
	observer.Observer

	client  Client
	channel string
	timeout time.Duration
	onError func(observer.Event, error)

	published atomic.Int64
	failed    atomic.Int64
}

// NewRedisPublisher creates a RedisPublisher.
func NewRedisPublisher(config Config) (*RedisPublisher, error) {
	if config.Client == nil {
		return nil, validation.ValidateNotNil("publish", "client", nil)
	}
	if err := validation.ValidateNotEmpty("publish", "channel", config.Channel); err != nil {
		return nil, err
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if err := validation.ValidatePositiveDuration("publish", "timeout", config.Timeout); err != nil {
		return nil, err
	}

	p := &RedisPublisher{
		client:  config.Client,
		channel: config.Channel,
		timeout: config.Timeout,
		onError: config.OnError,
	}
	p.Observer = observer.Forward(config.Engine, p.Publish)
	return p, nil
}

// Publish sends one event.
func (p *RedisPublisher) Publish(ev observer.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.fail(ev, jferrors.NewOperationError("publish", "encode", err).
			WithContext(fmt.Sprintf("event %s", ev.ID)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %v: %w", jferrors.ErrTimeout, p.timeout, err)
		}
		p.fail(ev, jferrors.NewOperationError("publish", "Publish", err).
			WithContext(fmt.Sprintf("event %s on %q", ev.ID, p.channel)))
		return
	}
	p.published.Add(1)
}

// Published returns how many events were published.
func (p *RedisPublisher) Published() int64 { return p.published.Load() }

// Failed returns how many events could not be published.
func (p *RedisPublisher) Failed() int64 { return p.failed.Load() }

func (p *RedisPublisher) fail(ev observer.Event, err error) {
	p.failed.Add(1)
	if p.onError != nil {
		p.onError(ev, err)
	}
}
