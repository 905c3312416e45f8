package report

import (
	"errors"
	"strings"
	"testing"
	"time"

	"qrun/internal/history"
	"qrun/internal/job"
	"qrun/internal/queue"
)

func TestStatusEmpty(t *testing.T) {
	if got := Status(queue.Snapshot{}); got != EmptyStatus {
		t.Fatalf("Status(empty) = %q", got)
	}
}

func TestStatusRowsAndOrdering(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	snap := queue.Snapshot{
		Taken: now,
		Queues: []queue.QueueStatus{
			{
				Name:      queue.Default,
				Executing: &queue.Entry{Job: job.New("make all", 0, now), Started: now.Add(-90 * time.Second)},
			},
			{
				Name:      queue.Named("build"),
				Executing: &queue.Entry{Job: job.New("sleep 5", 0, now)},
				Pending: []queue.Entry{
					{Job: job.New("echo one", 0, now)},
					{Job: job.New("echo two", 30, now)},
				},
			},
			{Name: queue.Named("draining")},
		},
	}

	out := Status(snap)
	lines := strings.Split(out, "\n")
	var body []string
	for _, line := range lines {
		if strings.Contains(line, "(default)") || strings.Contains(line, "build") {
			body = append(body, line)
		}
	}
	if len(body) != 4 {
		t.Fatalf("expected 4 job rows, got %d:\n%s", len(body), out)
	}
	if !strings.Contains(body[0], "make all") || !strings.Contains(body[0], "(executing) 1m30s") {
		t.Fatalf("unexpected default row %q", body[0])
	}
	if !strings.Contains(body[1], "sleep 5") || !strings.Contains(body[1], " 0 ") {
		t.Fatalf("expected executing job at index 0, got %q", body[1])
	}
	if !strings.Contains(body[2], "echo one") || !strings.Contains(body[2], " 1 ") {
		t.Fatalf("expected first pending job at index 1, got %q", body[2])
	}
	if !strings.Contains(body[3], "expires in 30s") {
		t.Fatalf("expected ttl annotation, got %q", body[3])
	}
	if strings.Contains(out, "draining") {
		t.Fatalf("idle queue should be omitted:\n%s", out)
	}
}

func TestStatusElapsedIsWholeSeconds(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	render := func(elapsed time.Duration) string {
		return Status(queue.Snapshot{
			Taken: now,
			Queues: []queue.QueueStatus{{
				Name:      queue.Named("q"),
				Executing: &queue.Entry{Job: job.New("sleep 5", 0, now), Started: now.Add(-elapsed)},
			}},
		})
	}
	if a, b := render(time.Millisecond), render(900*time.Millisecond); a != b {
		t.Fatalf("sub-second renderings differ:\n%s\n---\n%s", a, b)
	}
	if out := render(2*time.Second + 700*time.Millisecond); !strings.Contains(out, "(executing) 2s") {
		t.Fatalf("expected truncated seconds:\n%s", out)
	}
}

func TestQueueNamesCannotImitateDefault(t *testing.T) {
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	out := History([]history.Run{
		{Queue: "(default)", Command: "named", Outcome: "completed", StartedAt: now, FinishedAt: now},
		{Unnamed: true, Command: "unnamed", Outcome: "completed", StartedAt: now, FinishedAt: now},
	})
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "named") && !strings.Contains(line, "unnamed") && !strings.Contains(line, `"(default)"`) {
			t.Fatalf("named queue should be quoted, got %q", line)
		}
	}

	snap := queue.Snapshot{Taken: now, Queues: []queue.QueueStatus{
		{Name: queue.Default, Executing: &queue.Entry{Job: job.New("a", 0, now)}},
		{Name: queue.Named("(default)"), Executing: &queue.Entry{Job: job.New("b", 0, now)}},
	}}
	status := Status(snap)
	if !strings.Contains(status, `"(default)"`) {
		t.Fatalf("expected quoted named queue in status:\n%s", status)
	}
}

func TestStatusOnlyIdleQueuesIsEmpty(t *testing.T) {
	snap := queue.Snapshot{Queues: []queue.QueueStatus{{Name: queue.Named("x")}}}
	if got := Status(snap); got != EmptyStatus {
		t.Fatalf("expected empty status, got %q", got)
	}
}

func TestHistory(t *testing.T) {
	if got := History(nil); got != EmptyHistory {
		t.Fatalf("History(nil) = %q", got)
	}
	start := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	out := History([]history.Run{
		{Queue: "build", Command: "make", Outcome: "failed", ExitCode: 2, StartedAt: start, FinishedAt: start.Add(3 * time.Second)},
		{Unnamed: true, Command: "echo hi", Outcome: "expired", FinishedAt: start},
	})
	if !strings.Contains(out, "failed") || !strings.Contains(out, "3s") {
		t.Fatalf("missing failed run details:\n%s", out)
	}
	if !strings.Contains(out, "(default)") {
		t.Fatalf("expected unnamed queue label:\n%s", out)
	}
}

func TestConfirmations(t *testing.T) {
	name := queue.Named("a")
	if got := Skipped(name, "sleep 5", true); got != `skipped "sleep 5" in queue a` {
		t.Fatalf("Skipped = %q", got)
	}
	if got := Skipped(name, "", false); got != "queue a has no executing job" {
		t.Fatalf("Skipped idle = %q", got)
	}
	if got := Cleared(name, 1); got != "cleared 1 pending job from queue a" {
		t.Fatalf("Cleared = %q", got)
	}
	if got := Stopped(2); got != "stopping qrun, terminated 2 running jobs" {
		t.Fatalf("Stopped = %q", got)
	}
	if got := Error("SKIP", errors.New("queue name required")); got != "skip: queue name required" {
		t.Fatalf("Error = %q", got)
	}
}
