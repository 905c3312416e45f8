package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Run is one finished job.
type Run struct {
	ID          int64
	JobID       string
	Queue       string
	Unnamed     bool
	Command     string
	Outcome     string
	ExitCode    int
	Error       string
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration is the wall time the job ran; zero for jobs that never started.
func (r Run) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

const runColumns = "id, job_id, queue, command, outcome, exit_code, error, submitted_at, started_at, finished_at"

// Record inserts run and returns its row id.
func (s *Store) Record(ctx context.Context, run Run) (int64, error) {
	if !s.open() {
		return 0, ErrClosed
	}
	var queueName sql.NullString
	if !run.Unnamed {
		queueName = sql.NullString{String: run.Queue, Valid: true}
	}
	res, err := s.exec(ctx,
		`INSERT INTO job_runs (job_id, queue, command, outcome, exit_code, error, submitted_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.JobID,
		queueName,
		run.Command,
		run.Outcome,
		run.ExitCode,
		nullString(run.Error),
		formatTime(run.SubmittedAt),
		nullTime(run.StartedAt),
		formatTime(run.FinishedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert job run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("job run id: %w", err)
	}
	return id, nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if !s.open() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM job_runs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query job runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job runs: %w", err)
	}
	return runs, nil
}

// Prune deletes runs that finished before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if !s.open() {
		return 0, ErrClosed
	}
	res, err := s.exec(ctx, "DELETE FROM job_runs WHERE finished_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune job runs: %w", err)
	}
	return res.RowsAffected()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run          Run
		queueName    sql.NullString
		errorMessage sql.NullString
		submittedRaw string
		startedRaw   sql.NullString
		finishedRaw  string
	)
	if err := scanner.Scan(
		&run.ID,
		&run.JobID,
		&queueName,
		&run.Command,
		&run.Outcome,
		&run.ExitCode,
		&errorMessage,
		&submittedRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return Run{}, err
	}
	run.Queue = queueName.String
	run.Unnamed = !queueName.Valid
	run.Error = errorMessage.String
	run.SubmittedAt = parseTime(submittedRaw)
	if startedRaw.Valid {
		run.StartedAt = parseTime(startedRaw.String)
	}
	run.FinishedAt = parseTime(finishedRaw)
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
