package testsupport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"qrun/internal/job"
	"qrun/internal/queue"
)

// FakeRunner records started jobs and hands back processes the test finishes
// explicitly.
type FakeRunner struct {
	mu       sync.Mutex
	nextPID  int
	procs    []*FakeProcess
	failures map[string]error
	started  chan *FakeProcess
	auto     bool
	hold     bool
}

// NewFakeRunner returns a runner whose processes block until finished.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		nextPID:  1000,
		failures: make(map[string]error),
		started:  make(chan *FakeProcess, 64),
	}
}

// FailCommand makes Start return err for every job running command.
func (r *FakeRunner) FailCommand(command string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[command] = err
}

// AutoFinish makes every later process exit successfully as soon as it starts.
// Auto-finished processes are not delivered through Next.
func (r *FakeRunner) AutoFinish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auto = true
}

// HoldOnTerminate makes later processes ignore Terminate until the test
// calls Finish, like a job that takes a while to exit on SIGTERM.
func (r *FakeRunner) HoldOnTerminate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hold = true
}

// Start implements queue.Runner.
func (r *FakeRunner) Start(j job.Job) (queue.Process, error) {
	r.mu.Lock()
	if err, ok := r.failures[j.Command]; ok {
		r.mu.Unlock()
		return nil, err
	}
	r.nextPID++
	proc := &FakeProcess{Job: j, pid: r.nextPID, exit: make(chan error, 1), hold: r.hold}
	r.procs = append(r.procs, proc)
	auto := r.auto
	r.mu.Unlock()
	if auto {
		proc.Finish(nil)
		return proc, nil
	}
	r.started <- proc
	return proc, nil
}

// Started returns every process started so far in start order.
func (r *FakeRunner) Started() []*FakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*FakeProcess, len(r.procs))
	copy(out, r.procs)
	return out
}

// Commands returns the command of every started job in start order.
func (r *FakeRunner) Commands() []string {
	procs := r.Started()
	out := make([]string, len(procs))
	for i, p := range procs {
		out[i] = p.Job.Command
	}
	return out
}

// Next waits for the next process start.
func (r *FakeRunner) Next(t testing.TB) *FakeProcess {
	t.Helper()
	select {
	case proc := <-r.started:
		return proc
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job start")
		return nil
	}
}

// ExpectNoStart fails the test if a process starts within d.
func (r *FakeRunner) ExpectNoStart(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case proc := <-r.started:
		t.Fatalf("unexpected job start: %q", proc.Job.Command)
	case <-time.After(d):
	}
}

// ErrFakeTerminated is returned from Wait after Terminate.
var ErrFakeTerminated = errors.New("terminated")

// FakeProcess is a process controlled by the test.
type FakeProcess struct {
	Job job.Job

	pid        int
	exit       chan error
	once       sync.Once
	mu         sync.Mutex
	terminated bool
	hold       bool
}

// PID implements queue.Process.
func (p *FakeProcess) PID() int { return p.pid }

// Wait implements queue.Process.
func (p *FakeProcess) Wait() error { return <-p.exit }

// Terminate implements queue.Process by exiting with ErrFakeTerminated,
// unless the runner holds terminated processes.
func (p *FakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	if !p.hold {
		p.Finish(ErrFakeTerminated)
	}
	return nil
}

// Terminated reports whether Terminate was called.
func (p *FakeProcess) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// Finish makes Wait return err. Later calls are ignored.
func (p *FakeProcess) Finish(err error) {
	p.once.Do(func() { p.exit <- err })
}
