package queue

import (
	"time"

	"qrun/internal/job"
)

// EventKind identifies a lifecycle transition reported to observers.
type EventKind string

const (
	EventQueueCreated EventKind = "queue_created"
	EventQueueDrained EventKind = "queue_drained"
	EventSubmitted    EventKind = "job_submitted"
	EventDropped      EventKind = "job_dropped"
	EventExpired      EventKind = "job_expired"
	EventStarted      EventKind = "job_started"
	EventFinished     EventKind = "job_finished"
	EventCleared      EventKind = "jobs_cleared"
	EventStopped      EventKind = "manager_stopped"
)

// Outcome classifies how a job left its queue.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
	OutcomeTerminated  Outcome = "terminated"
	OutcomeSpawnFailed Outcome = "spawn_failed"
	OutcomeExpired     Outcome = "expired"
)

// Run describes a job that has finished, failed to spawn, or expired.
type Run struct {
	Queue    Name
	Job      job.Job
	Started  time.Time
	Finished time.Time
	ExitCode int
	Outcome  Outcome
	Err      error
}

// Duration is the wall time between spawn and exit.
func (r Run) Duration() time.Duration {
	if r.Started.IsZero() || r.Finished.Before(r.Started) {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Event is delivered to observers after the registry lock is released.
// Queues and Pending are totals across the registry at the time of the event.
type Event struct {
	Kind    EventKind
	Queue   Name
	Job     job.Job
	Run     *Run
	Count   int
	Queues  int
	Pending int
}

// Observer receives manager lifecycle events. Implementations must be safe for
// concurrent use; events arrive from the dispatcher and from every worker.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev Event) { f(ev) }
