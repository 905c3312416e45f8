// Package queue runs shell jobs in named, strictly serial queues.
//
// A Manager owns the registry of named queues. Submitting to an unknown name
// registers a queue and starts its worker goroutine with that job first; the
// worker pops jobs in FIFO order, discards those whose TTL elapsed while they
// waited, and runs the rest one at a time through a Runner. When a worker
// finds its queue empty it removes the queue from the registry and emits an
// EventQueueDrained event so the daemon can decide whether it is idle.
//
// Skip, Clear and Stop act on that registry. Termination is a single SIGTERM
// to the job's process group unless ShellRunner.KillAfter asks for a SIGKILL
// follow-up.
package queue
