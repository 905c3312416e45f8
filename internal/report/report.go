// Package report renders queue state and run history into the text returned
// to clients.
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"qrun/internal/history"
	"qrun/internal/queue"
)

const (
	// EmptyStatus is returned when no queue is registered.
	EmptyStatus = "no queued jobs"
	// EmptyHistory is returned when no run has been recorded.
	EmptyHistory = "no finished jobs recorded"
	// HistoryDisabled is returned when the daemon runs without a history store.
	HistoryDisabled = "job history is disabled"

	executingLabel  = "(executing)"
	maxCommandWidth = 72
)

// Status renders one row per job: the executing job as index 0, then valid
// pending jobs as 1..n. Queues with nothing executing and nothing valid
// pending are about to deregister and are left out.
func Status(snap queue.Snapshot) string {
	var rows [][]string
	for _, q := range snap.Queues {
		if q.Idle() {
			continue
		}
		label := q.Name.String()
		if q.Executing != nil {
			state := executingLabel
			if !q.Executing.Started.IsZero() {
				state = fmt.Sprintf("%s %s", executingLabel, formatElapsed(snap.Taken.Sub(q.Executing.Started)))
			}
			rows = append(rows, []string{label, "0", q.Executing.Job.Command, state})
		}
		for i, entry := range q.Pending {
			rows = append(rows, []string{label, strconv.Itoa(i + 1), entry.Job.Command, pendingState(entry, snap.Taken)})
		}
	}
	if len(rows) == 0 {
		return EmptyStatus
	}
	return renderTable([]column{left("Queue"), right("#"), wide("Command"), left("State")}, rows)
}

func pendingState(entry queue.Entry, now time.Time) string {
	if entry.Job.TTL == 0 {
		return "pending"
	}
	return "pending, expires in " + formatElapsed(entry.Job.Remaining(now))
}

// History renders recent runs, newest first.
func History(runs []history.Run) string {
	if len(runs) == 0 {
		return EmptyHistory
	}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		queueName := queue.Named(run.Queue).String()
		if run.Unnamed {
			queueName = queue.Default.String()
		}
		exit := "-"
		if run.Outcome == string(queue.OutcomeCompleted) || run.Outcome == string(queue.OutcomeFailed) {
			exit = strconv.Itoa(run.ExitCode)
		}
		rows = append(rows, []string{
			run.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			queueName,
			run.Command,
			run.Outcome,
			exit,
			formatElapsed(run.Duration()),
		})
	}
	return renderTable([]column{
		left("Finished"), left("Queue"), wide("Command"), left("Outcome"), right("Exit"), right("Duration"),
	}, rows)
}

// Skipped confirms a skip.
func Skipped(name queue.Name, command string, ok bool) string {
	if !ok {
		return fmt.Sprintf("queue %s has no executing job", name)
	}
	return fmt.Sprintf("skipped %q in queue %s", command, name)
}

// Cleared confirms a clear.
func Cleared(name queue.Name, removed int) string {
	noun := "jobs"
	if removed == 1 {
		noun = "job"
	}
	return fmt.Sprintf("cleared %d pending %s from queue %s", removed, noun, name)
}

// Stopped confirms a stop.
func Stopped(signalled int) string {
	if signalled == 0 {
		return "stopping qrun"
	}
	noun := "jobs"
	if signalled == 1 {
		noun = "job"
	}
	return fmt.Sprintf("stopping qrun, terminated %d running %s", signalled, noun)
}

// Error renders a control command failure.
func Error(command string, err error) string {
	return fmt.Sprintf("%s: %v", strings.ToLower(command), err)
}

// formatElapsed renders whole seconds so repeated renderings of the same
// state agree.
func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	return d.Truncate(time.Second).String()
}
