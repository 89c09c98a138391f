/*
Package observer provides the callback registry every jobflow executor
broadcasts lifecycle notifications to.

A Registry has one slot per notification: begin-invoke, end-invoke, cancel,
error, warning, timeout, exhausted and shutdown. Handlers run synchronously
on the goroutine that fires them, in subscription order. A slow handler
delays only the notification it handles; a panicking handler is recovered
and reported to PanicHandler, never to the engine.

Sinks that want everything implement Observer and call Subscribe. Funcs
adapts a struct of optional funcs, and Forward converts notifications into
Event values for sinks that serialize them (see pkg/logging, pkg/metrics
and pkg/publish).

Example usage:

	reg := observer.NewRegistry()
	reg.OnError(func(j *job.Job, msg string) {
		log.Printf("%s failed: %s", j, msg)
	})
	reg.Subscribe(logging.Sink(logger, "orders"))
*/
package observer
