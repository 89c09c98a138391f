package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vnykmshr/jobflow/internal/config"
	jferrors "github.com/vnykmshr/jobflow/pkg/common/errors"
	"github.com/vnykmshr/jobflow/pkg/logging"
	"github.com/vnykmshr/jobflow/pkg/metrics"
	"github.com/vnykmshr/jobflow/pkg/observer"
	"github.com/vnykmshr/jobflow/pkg/publish"
)

// runtime carries the sinks shared by every subcommand.
type runtime struct {
	settings config.Settings
	log      zerolog.Logger

	metrics *metrics.Registry
	server  *http.Server

	redis      *redis.Client
	publishers []*publish.RedisPublisher
}

func (o *options) apply(s *config.Settings) {
	if o.logLevel != "" {
		s.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		s.Logging.Format = o.logFormat
	}
	if o.metricsAddr != "" {
		s.Metrics.Addr = o.metricsAddr
	}
	if o.redisAddr != "" {
		s.Redis.Addr = o.redisAddr
	}
	if o.redisChannel != "" {
		s.Redis.Channel = o.redisChannel
	}
}

// setup loads the settings and starts the optional metrics endpoint and
// Redis client. The caller must call close.
func (o *options) setup(cmd *cobra.Command) (*runtime, error) {
	settings, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	o.apply(&settings)
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  settings.Logging.Level,
		Format: settings.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	rt := &runtime{settings: settings, log: logger}

	if addr := settings.Metrics.Addr; addr != "" {
		reg := prometheus.NewRegistry()
		rt.metrics = metrics.NewRegistryWithConfig(metrics.Config{
			Enabled:   true,
			Registry:  reg,
			Namespace: settings.Metrics.Namespace,
		})

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		rt.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := rt.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		rt.log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	}

	if addr := settings.Redis.Addr; addr != "" {
		rt.redis = redis.NewClient(&redis.Options{Addr: addr})
		rt.log.Info().
			Str("addr", addr).
			Str("channel", settings.Redis.Channel).
			Msg("publishing lifecycle events")
	}

	return rt, nil
}

// attach subscribes every configured sink to the events of engine.
func (rt *runtime) attach(engine string, reg *observer.Registry) error {
	reg.PanicHandler = func(slot string, recovered interface{}) {
		rt.log.Error().Str("engine", engine).Str("slot", slot).Interface("panic", recovered).Msg("observer panicked")
	}
	reg.Subscribe(logging.Sink(rt.log, engine))

	if rt.metrics != nil {
		reg.Subscribe(rt.metrics.Observer(engine))
	}

	if rt.redis != nil {
		pub, err := publish.NewRedisPublisher(publish.Config{
			Client:  rt.redis,
			Channel: rt.settings.Redis.Channel,
			Engine:  engine,
			Timeout: rt.settings.Redis.Timeout,
			OnError: func(ev observer.Event, err error) {
				rt.log.Debug().Err(err).
					Str("event", ev.Kind).
					Bool("retryable", jferrors.IsRetryable(err)).
					Msg("publish failed")
			},
		})
		if err != nil {
			return err
		}
		rt.publishers = append(rt.publishers, pub)
		reg.Subscribe(pub)
	}
	return nil
}

func (rt *runtime) submitted(engine string) {
	if rt.metrics != nil {
		rt.metrics.RecordSubmitted(engine)
	}
}

func (rt *runtime) abandoned(engine string, n int) {
	if rt.metrics != nil {
		rt.metrics.RecordAbandoned(engine, n)
	}
}

func (rt *runtime) close() error {
	var errs []error
	if rt.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, rt.server.Shutdown(ctx))
	}
	if rt.redis != nil {
		for _, p := range rt.publishers {
			rt.log.Info().Int64("published", p.Published()).Int64("failed", p.Failed()).Msg("event publishing finished")
		}
		errs = append(errs, rt.redis.Close())
	}
	return errors.Join(errs...)
}
