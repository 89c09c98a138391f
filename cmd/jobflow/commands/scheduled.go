package commands

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/jobflow/pkg/executor/scheduled"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

func newScheduledCommand(opts *options) *cobra.Command {
	var (
		jobs     int
		maxDelay time.Duration
		cronExpr string
		work     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "scheduled",
		Short: "Run deferred jobs through the scheduled executor",
		Long: `Submit jobs with random run times. On every tick the agent collects the
jobs that are due and starts them earliest deadline first, each on its own
goroutine. The command ends once every job has been started.`,
		Example: `  # Spread 10 jobs over 3 seconds plus one cron job
  jobflow scheduled --jobs 10 --max-delay 3s --cron "@every 2s"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				s := rt.settings.Scheduled
				if cmd.Flags().Changed("jobs") {
					s.Jobs = jobs
				}
				if cmd.Flags().Changed("max-delay") {
					s.MaxDelay = maxDelay
				}
				if cmd.Flags().Changed("cron") {
					s.Cron = cronExpr
				}

				obs := observer.NewRegistry()
				if err := rt.attach("scheduled", obs); err != nil {
					return err
				}
				exhausted := make(chan struct{}, 1)
				obs.OnExhausted(func(string) {
					select {
					case exhausted <- struct{}{}:
					default:
					}
				})

				e, err := scheduled.New(scheduled.Config{
					Config:      agentConfig("scheduled", s.Agent, obs),
					MaxJobs:     s.Capacity,
					WaitWorkers: s.WaitWorkers,
				})
				if err != nil {
					return err
				}

				// Hold the agent until the whole workload is in the bag.
				e.Toggle()
				now := time.Now()
				for i := 1; i <= s.Jobs; i++ {
					delay := time.Duration(0)
					if s.MaxDelay > 0 {
						delay = rand.N(s.MaxDelay)
					}
					title := demoTitle("scheduled", i)
					if _, err := e.SubmitAt(title, demoAction(i, work), now.Add(delay), demoOptions(i)...); err != nil {
						rt.log.Warn().Err(err).Str("title", title).Msg("Submission refused")
						continue
					}
					rt.submitted(e.Name())
				}
				if s.Cron != "" {
					j, err := e.SubmitCron(fmt.Sprintf("cron %s", s.Cron), demoAction(1, work), s.Cron)
					if err != nil {
						e.Shutdown(true)
						return err
					}
					at, _ := j.RunAt()
					rt.submitted(e.Name())
					rt.log.Info().Str("cron", s.Cron).Time("run_at", at).Msg("Cron job scheduled")
				}

				e.Toggle()

				if latest, ok := e.LatestRunAt(); ok {
					rt.log.Info().Int("pending", e.Count()).Time("latest", latest).Msg("Running scheduled workload")
				}

				if e.Count() > 0 {
					select {
					case <-exhausted:
					case <-cmd.Context().Done():
						n := e.Count()
						rt.abandoned(e.Name(), n)
						rt.log.Warn().Int("pending", n).Msg("Interrupted before every job started")
					}
				}
				<-e.Shutdown(true)

				rt.log.Info().Int64("activated", e.ActivatedCount()).Msg("Scheduled workload finished")
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "n", 0, "number of jobs (overrides config)")
	cmd.Flags().DurationVar(&maxDelay, "max-delay", 0, "latest run time offset (overrides config)")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "also schedule one job at the next activation of this cron expression")
	cmd.Flags().DurationVar(&work, "work", 10*time.Millisecond, "upper bound of the work each job simulates")

	return cmd
}
