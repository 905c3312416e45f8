package queue

import (
	"qrun/internal/job"
	"qrun/internal/logging"
)

// work drains one queue serially. The worker deregisters its queue under the
// manager lock the moment it finds nothing pending, so a concurrent Submit
// either lands before that check or creates a fresh queue and worker.
func (m *Manager) work(q *namedQueue) {
	defer m.workers.Done()
	for {
		exec, done, events := m.next(q)
		m.emit(events...)
		if done {
			return
		}
		if exec == nil {
			continue
		}

		waitErr := exec.proc.Wait()

		m.mu.Lock()
		q.executing = nil
		finished := m.eventLocked(EventFinished, q.name)
		m.mu.Unlock()

		run := Run{
			Queue:    q.name,
			Job:      exec.job,
			Started:  exec.started,
			Finished: m.now(),
			ExitCode: exitCode(waitErr),
			Err:      waitErr,
		}
		switch {
		case exec.terminated:
			run.Outcome = OutcomeTerminated
		case waitErr != nil:
			run.Outcome = OutcomeFailed
		default:
			run.Outcome = OutcomeCompleted
		}
		finished.Job = exec.job
		finished.Run = &run

		attrs := []logging.Attr{
			logging.String(logging.FieldJobID, exec.job.ShortID()),
			logging.String("outcome", string(run.Outcome)),
			logging.Int("exit_code", run.ExitCode),
			logging.Duration("elapsed", run.Duration()),
			logging.String(logging.FieldEventType, "job_finished"),
		}
		if run.Outcome == OutcomeFailed {
			q.logger.Warn("job exited with failure", logging.Args(attrs...)...)
		} else {
			q.logger.Info("job finished", logging.Args(attrs...)...)
		}
		m.emit(finished)
	}
}

// next advances the queue state machine by one step under the manager lock.
// It returns the started execution, or done when the worker must exit. A nil
// execution with done false means the head failed to spawn and the caller
// should try again.
func (m *Manager) next(q *namedQueue) (*execution, bool, []Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []Event
	if q.stop {
		q.executing = nil
		return nil, true, events
	}

	now := m.now()
	for len(q.pending) > 0 {
		head := q.pending[0]
		q.pending[0] = job.Job{}
		q.pending = q.pending[1:]
		if !head.Valid(now) {
			q.logger.Info("stale job discarded",
				logging.String(logging.FieldJobID, head.ShortID()),
				logging.String("command", head.Command),
				logging.Int("ttl", head.TTL),
				logging.String(logging.FieldEventType, "job_expired"),
			)
			ev := m.eventLocked(EventExpired, q.name)
			ev.Job = head
			ev.Run = &Run{Queue: q.name, Job: head, Finished: now, ExitCode: -1, Outcome: OutcomeExpired}
			events = append(events, ev)
			continue
		}

		// Spawning under the lock means skip and stop never see an executing
		// job without its process.
		proc, err := m.runner.Start(head)
		if err != nil {
			logging.ErrorWithContext(q.logger, "job spawn failed", "job_spawn_failed",
				logging.String(logging.FieldJobID, head.ShortID()),
				logging.String("command", head.Command),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check jobs.shell and the command"),
			)
			ev := m.eventLocked(EventFinished, q.name)
			ev.Job = head
			ev.Run = &Run{Queue: q.name, Job: head, Started: now, Finished: now, ExitCode: -1, Outcome: OutcomeSpawnFailed, Err: err}
			events = append(events, ev)
			return nil, false, events
		}

		exec := &execution{job: head, proc: proc, started: now}
		q.executing = exec
		q.logger.Info("job started",
			logging.String(logging.FieldJobID, head.ShortID()),
			logging.String("command", head.Command),
			logging.Int("pid", proc.PID()),
			logging.String(logging.FieldEventType, "job_started"),
		)
		started := m.eventLocked(EventStarted, q.name)
		started.Job = head
		events = append(events, started)
		return exec, false, events
	}

	if m.queues[q.name] == q {
		delete(m.queues, q.name)
	}
	q.logger.Info("queue drained",
		logging.String(logging.FieldEventType, "queue_drained"),
	)
	events = append(events, m.eventLocked(EventQueueDrained, q.name))
	return nil, true, events
}
