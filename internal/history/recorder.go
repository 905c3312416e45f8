package history

import (
	"context"
	"log/slog"
	"time"

	"qrun/internal/logging"
	"qrun/internal/queue"
)

const recordTimeout = 5 * time.Second

// Recorder writes queue run events into a Store.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder returns a queue.Observer that records finished and expired jobs.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logging.NewComponentLogger(logger, "history")}
}

// Observe implements queue.Observer.
func (r *Recorder) Observe(ev queue.Event) {
	if r == nil || r.store == nil || ev.Run == nil {
		return
	}
	if ev.Kind != queue.EventFinished && ev.Kind != queue.EventExpired {
		return
	}
	run := FromQueueRun(*ev.Run)

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if _, err := r.store.Record(ctx, run); err != nil {
		logging.WarnWithContext(r.logger, "job run not recorded", "history_record_failed",
			logging.String(logging.FieldQueue, ev.Queue.String()),
			logging.String(logging.FieldJobID, ev.Run.Job.ShortID()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check history.path permissions and disk space"),
			logging.String(logging.FieldImpact, "run missing from history output"),
		)
	}
}

// FromQueueRun converts a queue run into a history row.
func FromQueueRun(run queue.Run) Run {
	out := Run{
		JobID:       run.Job.ID,
		Queue:       run.Queue.Value(),
		Unnamed:     run.Queue.IsDefault(),
		Command:     run.Job.Command,
		Outcome:     string(run.Outcome),
		ExitCode:    run.ExitCode,
		SubmittedAt: run.Job.Created,
		StartedAt:   run.Started,
		FinishedAt:  run.Finished,
	}
	if run.Err != nil {
		out.Error = run.Err.Error()
	}
	return out
}
