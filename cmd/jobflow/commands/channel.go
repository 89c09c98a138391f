package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/jobflow/pkg/executor/channel"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

func newChannelCommand(opts *options) *cobra.Command {
	var (
		jobs int
		work time.Duration
	)

	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Run a workload through the channel executor",
		Long: `Submit a batch of jobs to a FIFO channel executor. The agent wakes once
per resolution, drains everything queued and runs each job in order.`,
		Example: `  # Run 20 jobs with a 50ms polling resolution
  jobflow channel --jobs 20 --config jobflow.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				s := rt.settings.Channel
				if cmd.Flags().Changed("jobs") {
					s.Jobs = jobs
				}

				obs := observer.NewRegistry()
				if err := rt.attach("channel", obs); err != nil {
					return err
				}
				e, err := channel.New(channel.Config{
					Config:   agentConfig("channel", s, obs),
					Capacity: s.Capacity,
				})
				if err != nil {
					return err
				}

				rt.log.Info().
					Int("jobs", s.Jobs).
					Dur("resolution", s.Resolution).
					Int("capacity", s.Capacity).
					Msg("Running channel workload")
				return runAgent(cmd.Context(), rt, e, demoJobs("channel", s.Jobs, work))
			})
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "n", 0, "number of jobs (overrides config)")
	cmd.Flags().DurationVar(&work, "work", 10*time.Millisecond, "upper bound of the work each job simulates")

	return cmd
}
