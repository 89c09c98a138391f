package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/jobflow/pkg/executor/queue"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

func newQueueCommand(opts *options) *cobra.Command {
	var (
		jobs     int
		capacity int
		work     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Run a workload through the semaphore-gated queue executor",
		Long: `Submit a batch of jobs to a lock-free queue. Each enqueue releases one
semaphore permit and the agent blocks on the semaphore instead of polling.
With a capacity, submissions beyond it are rejected.`,
		Example: `  # Show rejections with a small capacity
  jobflow queue --jobs 20 --capacity 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				s := rt.settings.Queue
				if cmd.Flags().Changed("jobs") {
					s.Jobs = jobs
				}
				if cmd.Flags().Changed("capacity") {
					s.Capacity = capacity
				}

				obs := observer.NewRegistry()
				if err := rt.attach("queue", obs); err != nil {
					return err
				}
				e, err := queue.New(queue.Config{
					Config:   agentConfig("queue", s, obs),
					Capacity: s.Capacity,
				})
				if err != nil {
					return err
				}

				rt.log.Info().
					Int("jobs", s.Jobs).
					Int("capacity", s.Capacity).
					Msg("Running queue workload")
				return runAgent(cmd.Context(), rt, e, demoJobs("queue", s.Jobs, work))
			})
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "n", 0, "number of jobs (overrides config)")
	cmd.Flags().IntVar(&capacity, "capacity", 0, "maximum pending jobs, 0 for unbounded (overrides config)")
	cmd.Flags().DurationVar(&work, "work", 10*time.Millisecond, "upper bound of the work each job simulates")

	return cmd
}
