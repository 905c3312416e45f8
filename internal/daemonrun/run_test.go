package daemonrun_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qrun/internal/config"
	"qrun/internal/daemonrun"
	"qrun/internal/dispatch"
	"qrun/internal/history"
	"qrun/internal/protocol"
	"qrun/internal/testsupport"
)

func strPtr(s string) *string { return &s }

func start(t *testing.T, cfg *config.Config, runner *testsupport.FakeRunner, first protocol.Request) <-chan error {
	t.Helper()
	listener, err := dispatch.Acquire(cfg.Paths.Socket)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(context.Background(), cfg, listener, first, daemonrun.Options{Runner: runner})
	}()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not exit")
	}
}

func TestRunExitsAfterFirstJobDrains(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runner := testsupport.NewFakeRunner()
	done := start(t, cfg, runner, protocol.Request{Queue: strPtr("q"), Command: "make"})

	proc := runner.Next(t)
	require.Equal(t, "make", proc.Job.Command)

	pid, err := os.ReadFile(cfg.PIDPath())
	require.NoError(t, err)
	require.NotEmpty(t, strings.TrimSpace(string(pid)))

	proc.Finish(nil)
	waitDone(t, done)

	_, err = os.Stat(cfg.PIDPath())
	require.True(t, errors.Is(err, os.ErrNotExist), "pid file should be removed, stat err=%v", err)
	_, err = os.Stat(cfg.Paths.Socket)
	require.True(t, errors.Is(err, os.ErrNotExist), "socket should be removed, stat err=%v", err)

	target, err := os.Readlink(cfg.LogPath())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(filepath.Base(target), "qrun-"))
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Contains(t, string(data), "qrun daemon started")
}

func TestRunStopCommandTerminatesJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runner := testsupport.NewFakeRunner()
	done := start(t, cfg, runner, protocol.Request{Queue: strPtr("a"), Command: "sleep 30"})
	runner.Next(t)

	require.NoError(t, dispatch.Send(cfg.Paths.Socket, protocol.Request{Queue: strPtr("b"), Command: "sleep 30"}))
	runner.Next(t)

	resp, err := dispatch.Call(cfg.Paths.Socket, protocol.Request{Command: "stop"})
	require.NoError(t, err)
	require.Equal(t, "stopping qrun, terminated 2 running jobs", resp.Text)
	waitDone(t, done)

	for _, proc := range runner.Started() {
		require.True(t, proc.Terminated(), "job %q not terminated", proc.Job.Command)
	}
	require.False(t, dispatch.Running(cfg.Paths.Socket))
}

func TestRunReleasesSocketWhileJobsExit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runner := testsupport.NewFakeRunner()
	runner.HoldOnTerminate()
	done := start(t, cfg, runner, protocol.Request{Queue: strPtr("a"), Command: "first"})
	proc := runner.Next(t)

	resp, err := dispatch.Call(cfg.Paths.Socket, protocol.Request{Command: "stop"})
	require.NoError(t, err)
	require.Equal(t, "stopping qrun, terminated 1 running job", resp.Text)

	// "first" is still exiting; the socket must already be free so a new
	// invocation becomes the daemon rather than a client of a dead one.
	var next *net.UnixListener
	require.Eventually(t, func() bool {
		l, err := dispatch.Acquire(cfg.Paths.Socket)
		if err != nil {
			return false
		}
		next = l
		return true
	}, 5*time.Second, 20*time.Millisecond, "socket still held while jobs exit")
	defer next.Close()

	select {
	case err := <-done:
		t.Fatalf("daemon returned before its job exited: %v", err)
	default:
	}
	proc.Finish(testsupport.ErrFakeTerminated)
	waitDone(t, done)
	require.True(t, proc.Terminated())
}

func TestCallAgainstReleasedSocketReportsNotRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runner := testsupport.NewFakeRunner()
	runner.HoldOnTerminate()
	done := start(t, cfg, runner, protocol.Request{Command: "first"})
	proc := runner.Next(t)

	_, err := dispatch.Call(cfg.Paths.Socket, protocol.Request{Command: "stop"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := dispatch.Call(cfg.Paths.Socket, protocol.Request{Command: "status"})
		return errors.Is(err, dispatch.ErrNotRunning)
	}, 5*time.Second, 20*time.Millisecond)

	proc.Finish(testsupport.ErrFakeTerminated)
	waitDone(t, done)
}

func TestRunRecordsHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithHistory())
	runner := testsupport.NewFakeRunner()
	done := start(t, cfg, runner, protocol.Request{Command: "echo hi"})

	runner.Next(t).Finish(nil)
	waitDone(t, done)

	store, err := history.Open(cfg.History.Path)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "echo hi", runs[0].Command)
	require.True(t, runs[0].Unnamed)
	require.Equal(t, "completed", runs[0].Outcome)
}

func TestRunHistoryCommandListsFinishedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithHistory())
	runner := testsupport.NewFakeRunner()
	done := start(t, cfg, runner, protocol.Request{Queue: strPtr("a"), Command: "sleep 30"})
	runner.Next(t)

	require.NoError(t, dispatch.Send(cfg.Paths.Socket, protocol.Request{Queue: strPtr("b"), Command: "false"}))
	runner.Next(t).Finish(errors.New("exit status 1"))

	require.Eventually(t, func() bool {
		resp, err := dispatch.Call(cfg.Paths.Socket, protocol.Request{Command: "history"})
		return err == nil && strings.Contains(resp.Text, "false")
	}, 5*time.Second, 20*time.Millisecond)

	_, err := dispatch.Call(cfg.Paths.Socket, protocol.Request{Command: "stop"})
	require.NoError(t, err)
	waitDone(t, done)
}

func TestRunRequiresListener(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	err := daemonrun.Run(context.Background(), cfg, nil, protocol.Request{Command: "true"}, daemonrun.Options{})
	require.Error(t, err)
}
