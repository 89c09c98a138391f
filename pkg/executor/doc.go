// Package executor holds the pieces shared by the jobflow engines: the
// lifecycle state machine, the control and ingress interfaces, the common
// configuration and the invocation boundary that turns job faults into
// observer events.
//
// The engines themselves live in sub-packages:
//
//	channel     single agent draining an unbounded FIFO on a fixed resolution
//	queue       single agent blocking on a semaphore over a lock-free queue
//	scheduled   single agent scanning a bag for due jobs, one worker per job
//	stack       N producers and M consumers sharing a lock-free stack
//	waithandle  no agent; jobs run when their handle is signalled or times out
//
// Every engine reports through an observer.Registry. Handlers run
// synchronously on the engine goroutine that fires them.
//
// # Cancellation
//
// Cancellation is cooperative. A job whose token has fired by the time it
// is dequeued is reported on the cancel slot and never invoked. A running
// action is never interrupted; it receives its token and may honor it.
//
// # Shutdown
//
// Shutdown(false) requests the stop and returns immediately. Shutdown(true)
// also waits for the agent to exit. Submitting to a stopping or stopped
// engine returns ErrShutdown.
package executor
