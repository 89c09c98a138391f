/*
Package jobflow provides in-process job execution engines that decouple
submitting work from running it.

Engines (pkg/executor):
  - channel: FIFO drained by an agent goroutine once per resolution
  - queue: lock-free queue gated by a counting semaphore
  - scheduled: unordered bag dispatched earliest deadline first
  - stack: lock-free stack shared by producers and consumers
  - waithandle: jobs run when a handle is signalled or times out

Every engine reports through an observer.Registry (pkg/observer). Sinks
for structured logs (pkg/logging), Prometheus metrics (pkg/metrics) and
Redis event publishing (pkg/publish) subscribe to it like any other
handler.

Example usage:

	import (
		"github.com/vnykmshr/jobflow/pkg/executor"
		"github.com/vnykmshr/jobflow/pkg/executor/channel"
		"github.com/vnykmshr/jobflow/pkg/job"
	)

	ex, _ := channel.New(channel.Config{Config: executor.Config{Name: "mail"}})
	defer func() { <-ex.Shutdown(true) }()

	_ = ex.Submit(job.NewFunc("send", func(ctx context.Context) error {
		return deliver(ctx)
	}, job.WithTimeout(time.Minute)))
*/
package jobflow
