/*
Package job defines the unit of work accepted by every jobflow executor.

A Job bundles an identity, a human label, an Action, a cancellation token
and an optional earliest-run deadline. The activated flag moves from false
to true exactly once; executors call Activate before invoking and skip the
job when it reports false, which is what keeps a job from running twice.

Cancellation is cooperative: a job whose token has fired before an executor
reaches it is dropped without being invoked. A job that is already running
keeps running; the token is handed to the action so it can stop early if it
chooses to.

Example usage:

	j := job.NewFunc("resize thumbnails", func(ctx context.Context) error {
		return resize(ctx)
	}, job.WithTimeout(30*time.Second), job.WithDelay(time.Second))
*/
package job
