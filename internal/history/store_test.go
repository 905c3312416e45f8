package history_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"qrun/internal/history"
	"qrun/internal/job"
	"qrun/internal/logging"
	"qrun/internal/queue"

	_ "modernc.org/sqlite"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndRecentNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, cmd := range []string{"make", "make test", "make lint"} {
		_, err := store.Record(ctx, history.Run{
			JobID:       cmd,
			Queue:       "build",
			Command:     cmd,
			Outcome:     "completed",
			SubmittedAt: base,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			FinishedAt:  base.Add(time.Duration(i)*time.Minute + 30*time.Second),
		})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	runs, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Command != "make lint" || runs[1].Command != "make test" {
		t.Fatalf("unexpected order: %q, %q", runs[0].Command, runs[1].Command)
	}
	if runs[0].Duration() != 30*time.Second {
		t.Fatalf("unexpected duration %v", runs[0].Duration())
	}
}

func TestRecordKeepsUnnamedQueueDistinct(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.Record(ctx, history.Run{JobID: "a", Unnamed: true, Command: "true", Outcome: "completed", SubmittedAt: now, FinishedAt: now}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := store.Record(ctx, history.Run{JobID: "b", Queue: "", Command: "true", Outcome: "expired", SubmittedAt: now, FinishedAt: now}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	runs, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if runs[0].Unnamed || !runs[1].Unnamed {
		t.Fatalf("expected unnamed flag preserved, got %+v", runs)
	}
	if !runs[0].StartedAt.IsZero() {
		t.Fatalf("expected no start time for expired run, got %v", runs[0].StartedAt)
	}
}

func TestPruneRemovesOldRuns(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	old := time.Now().AddDate(0, 0, -40)
	fresh := time.Now()

	for _, ts := range []time.Time{old, fresh} {
		if _, err := store.Record(ctx, history.Run{JobID: "x", Command: "true", Outcome: "completed", SubmittedAt: ts, FinishedAt: ts}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	removed, err := store.Prune(ctx, time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned run, got %d", removed)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := store.Record(context.Background(), history.Run{JobID: "x", Command: "true", Outcome: "completed"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	_ = store.Close()

	reopened, err := history.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	runs, err := reopened.Recent(context.Background(), 5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected persisted run, got %d (err=%v)", len(runs), err)
	}
}

func TestRecorderStoresFinishedEvents(t *testing.T) {
	store := openStore(t)
	recorder := history.NewRecorder(store, logging.NewNop())

	now := time.Now()
	j := job.New("exit 2", 0, now)
	recorder.Observe(queue.Event{Kind: queue.EventStarted, Queue: queue.Named("q"), Job: j})
	recorder.Observe(queue.Event{
		Kind:  queue.EventFinished,
		Queue: queue.Named("q"),
		Job:   j,
		Run: &queue.Run{
			Queue:    queue.Named("q"),
			Job:      j,
			Started:  now,
			Finished: now.Add(time.Second),
			ExitCode: 2,
			Outcome:  queue.OutcomeFailed,
			Err:      errors.New("exit status 2"),
		},
	})

	runs, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected only the finished event recorded, got %d", len(runs))
	}
	got := runs[0]
	if got.JobID != j.ID || got.Queue != "q" || got.ExitCode != 2 || got.Outcome != "failed" || got.Error != "exit status 2" {
		t.Fatalf("unexpected run %+v", got)
	}
}

func TestOpenRefusesOtherSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("stamp version: %v", err)
	}
	_ = db.Close()

	_, err = history.Open(path)
	if !errors.Is(err, history.ErrSchemaMismatch) {
		t.Fatalf("Open err = %v, want ErrSchemaMismatch", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Fatalf("mismatch error should name the database file: %v", err)
	}
}
