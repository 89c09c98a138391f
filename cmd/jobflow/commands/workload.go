package commands

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/jobflow/internal/config"
	"github.com/vnykmshr/jobflow/pkg/executor"
	"github.com/vnykmshr/jobflow/pkg/job"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

// demoJobs builds n jobs that each sleep for up to work. Every fourth job
// carries an expired token and every fifth one fails.
func demoJobs(prefix string, n int, work time.Duration) []*job.Job {
	jobs := make([]*job.Job, 0, n)
	for i := 1; i <= n; i++ {
		jobs = append(jobs, job.New(demoTitle(prefix, i), demoAction(i, work), demoOptions(i)...))
	}
	return jobs
}

func demoTitle(prefix string, seq int) string {
	return fmt.Sprintf("%s-%d", prefix, seq)
}

func demoOptions(seq int) []job.Option {
	if seq%4 == 0 {
		return []job.Option{job.WithTimeout(0)}
	}
	return nil
}

func demoAction(seq int, work time.Duration) job.ActionFunc {
	return func(ctx context.Context) error {
		if work > 0 {
			select {
			case <-time.After(jitter(work)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if seq%5 == 0 {
			return fmt.Errorf("demo job %d failed", seq)
		}
		return nil
	}
}

// jitter returns a random duration in [limit/2, limit].
func jitter(limit time.Duration) time.Duration {
	if limit <= 1 {
		return limit
	}
	return limit/2 + rand.N(limit/2+1)
}

// withRuntime runs fn with the sinks configured by opts and closes them
// afterwards.
func withRuntime(cmd *cobra.Command, opts *options, fn func(rt *runtime) error) error {
	rt, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.close(); err != nil {
			rt.log.Warn().Err(err).Msg("failed to close sinks")
		}
	}()
	return fn(rt)
}

func agentConfig(name string, s config.Agent, obs *observer.Registry) executor.Config {
	return executor.Config{
		Name:           name,
		Resolution:     s.Resolution,
		SuspendTimeout: s.SuspendTimeout,
		Observer:       obs,
	}
}

// agent is an engine driven by its own polling goroutine.
type agent interface {
	executor.Controller
	executor.Ingress
	Name() string
}

// submitAll submits jobs one by one. Rejections are reported by the engine
// itself, so only a stopped engine ends the loop.
func submitAll(rt *runtime, e agent, jobs []*job.Job) (int, error) {
	accepted := 0
	for _, j := range jobs {
		if err := e.Submit(j); err != nil {
			if errors.Is(err, executor.ErrShutdown) {
				return accepted, err
			}
			continue
		}
		accepted++
		rt.submitted(e.Name())
	}
	return accepted, nil
}

// runAgent submits jobs, then requests shutdown and waits for the agent to
// drain. An interrupt clears whatever is still pending.
func runAgent(ctx context.Context, rt *runtime, e agent, jobs []*job.Job) error {
	accepted, err := submitAll(rt, e, jobs)
	if err != nil {
		return err
	}
	rt.log.Info().Str("engine", e.Name()).Int("accepted", accepted).Int("pending", e.Count()).Msg("Workload submitted")

	done := e.Shutdown(false)
	select {
	case <-done:
	case <-ctx.Done():
		n := e.Clear()
		rt.abandoned(e.Name(), n)
		rt.log.Warn().Str("engine", e.Name()).Int("cleared", n).Msg("Interrupted, pending jobs cleared")
		<-done
	}
	return nil
}
