package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/jobflow/pkg/executor/waithandle"
	"github.com/vnykmshr/jobflow/pkg/job"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

func newWaitHandleCommand(opts *options) *cobra.Command {
	var (
		handles int
		signals int
		timeout time.Duration
		work    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "waithandle",
		Short: "Trigger jobs by signalling wait handles",
		Long: `Register one repeating job and several one-shot jobs on wait handles,
plus one job fired by a timer. The repeating handle is signalled several
times; the last one-shot handle is never signalled and times out.`,
		Example: `  jobflow waithandle --handles 4 --signals 3 --timeout 500ms`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				s := rt.settings.Wait
				if cmd.Flags().Changed("handles") {
					s.Handles = handles
				}
				if cmd.Flags().Changed("signals") {
					s.Signals = signals
				}
				if cmd.Flags().Changed("timeout") {
					s.Timeout = timeout
				}

				obs := observer.NewRegistry()
				if err := rt.attach("waithandle", obs); err != nil {
					return err
				}
				e, err := waithandle.New(waithandle.Config{Name: "waithandle", Observer: obs})
				if err != nil {
					return err
				}
				defer e.Close()

				return runWaitHandles(cmd.Context(), rt, e, s.Handles, s.Signals, s.Timeout, work)
			})
		},
	}

	cmd.Flags().IntVar(&handles, "handles", 0, "number of one-shot handles (overrides config)")
	cmd.Flags().IntVar(&signals, "signals", 0, "times the repeating handle is signalled (overrides config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "wait timeout of each registration (overrides config)")
	cmd.Flags().DurationVar(&work, "work", 10*time.Millisecond, "upper bound of the work each job simulates")

	return cmd
}

func runWaitHandles(ctx context.Context, rt *runtime, e *waithandle.Executor, handles, signals int, timeout, work time.Duration) error {
	heartbeat := job.NewFunc("heartbeat", func(context.Context) error { return nil })
	beat := waithandle.NewHandle()
	err := e.Register(heartbeat, beat, waithandle.Options{
		Repeat: job.ActionFunc(func(context.Context) error { return nil }),
	})
	if err != nil {
		return err
	}
	rt.submitted(e.Name())

	triggers := make([]*waithandle.Handle, 0, handles)
	for i := 1; i <= handles; i++ {
		j := job.New(demoTitle("signalled", i), demoAction(i, work))
		h := waithandle.NewHandle()
		if err := e.Register(j, h, waithandle.Options{Timeout: timeout, ExecuteOnce: true}); err != nil {
			return err
		}
		rt.submitted(e.Name())
		triggers = append(triggers, h)
	}

	delayed := job.New("delayed", demoAction(1, work))
	if err := e.SubmitAfter(delayed, work+time.Millisecond); err != nil {
		return err
	}
	rt.submitted(e.Name())

	// Leave the last handle unsignalled so its registration times out.
	if len(triggers) > 1 {
		for _, h := range triggers[:len(triggers)-1] {
			h.Set()
		}
	}
	for i := 0; i < signals; i++ {
		beat.Set()
		select {
		case <-time.After(work):
		case <-ctx.Done():
			return nil
		}
	}

	settle := timeout
	if settle <= 0 {
		settle = 4 * work
	}
	select {
	case <-time.After(2*settle + work):
	case <-ctx.Done():
	}

	rt.log.Info().
		Int("pending", e.Pending()).
		Int64("timed_out", e.TimedOutCount()).
		Msg("Wait handle workload finished")
	return nil
}
