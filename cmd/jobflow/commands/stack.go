package commands

import (
	"github.com/spf13/cobra"

	"github.com/vnykmshr/jobflow/pkg/executor/stack"
	"github.com/vnykmshr/jobflow/pkg/job"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

func newStackCommand(opts *options) *cobra.Command {
	var producers, consumers, perProducer int

	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Run producers and consumers over the shared stack executor",
		Long: `Start producers that push synthetic jobs onto a lock-free stack and
consumers that pop and run them. Producers are awaited first, then the
consumers are cancelled and anything left on the stack is abandoned.`,
		Example: `  jobflow stack --producers 4 --consumers 2 --jobs-per-producer 25`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				s := rt.settings.Stack
				if cmd.Flags().Changed("producers") {
					s.Producers = producers
				}
				if cmd.Flags().Changed("consumers") {
					s.Consumers = consumers
				}
				if cmd.Flags().Changed("jobs-per-producer") {
					s.JobsPerProducer = perProducer
				}

				obs := observer.NewRegistry()
				if err := rt.attach("stack", obs); err != nil {
					return err
				}

				generate := stack.SyntheticJobs(s.MaxWork, s.MaxDeadline)
				e, err := stack.New(stack.Config{
					Name:            "stack",
					Observer:        obs,
					Producers:       s.Producers,
					Consumers:       s.Consumers,
					JobsPerProducer: s.JobsPerProducer,
					MaxBackoff:      s.MaxBackoff,
					Generator: func(producer, seq int) *job.Job {
						rt.submitted("stack")
						return generate(producer, seq)
					},
				})
				if err != nil {
					return err
				}

				rt.log.Info().
					Int("producers", s.Producers).
					Int("consumers", s.Consumers).
					Int("jobs_per_producer", s.JobsPerProducer).
					Msg("Running stack workload")

				report, err := e.Run(cmd.Context())
				rt.abandoned(e.Name(), int(report.Abandoned))
				rt.log.Info().
					Int64("produced", report.Produced).
					Int64("invoked", report.Invoked).
					Int64("cancelled", report.Cancelled).
					Int64("failed", report.Failed).
					Int64("abandoned", report.Abandoned).
					Dur("duration", report.Duration).
					Msg("Stack workload finished")
				if err != nil && cmd.Context().Err() == nil {
					return err
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&producers, "producers", 0, "number of producers (overrides config)")
	cmd.Flags().IntVar(&consumers, "consumers", 0, "number of consumers (overrides config)")
	cmd.Flags().IntVar(&perProducer, "jobs-per-producer", 0, "jobs generated by each producer (overrides config)")

	return cmd
}
