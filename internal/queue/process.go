package queue

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"qrun/internal/job"
)

// Process is a running job.
type Process interface {
	PID() int
	// Wait blocks until the process exits. It is called exactly once.
	Wait() error
	// Terminate asks the process group to exit.
	Terminate() error
}

// Runner spawns jobs.
type Runner interface {
	Start(j job.Job) (Process, error)
}

// ShellRunner executes each job with `<shell> -c <command>` in its own
// process group so skip and stop reach every process the command spawns.
type ShellRunner struct {
	Shell string
	Dir   string
	// KillAfter escalates Terminate to SIGKILL when the group is still alive
	// after this long. Zero sends only SIGTERM.
	KillAfter time.Duration
	Stdout    io.Writer
	Stderr    io.Writer
}

// Start launches the job's shell.
func (r *ShellRunner) Start(j job.Job) (Process, error) {
	shell := strings.TrimSpace(r.Shell)
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.Command(shell, "-c", j.Command) //nolint:gosec
	cmd.Dir = r.Dir
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	cmd.Env = append(os.Environ(), "QRUN_JOB_ID="+j.ID)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", shell, err)
	}
	return &shellProcess{cmd: cmd, killAfter: r.KillAfter, done: make(chan struct{})}, nil
}

type shellProcess struct {
	cmd       *exec.Cmd
	killAfter time.Duration
	done      chan struct{}
	once      sync.Once
}

func (p *shellProcess) PID() int { return p.cmd.Process.Pid }

func (p *shellProcess) Wait() error {
	err := p.cmd.Wait()
	p.once.Do(func() { close(p.done) })
	return err
}

func (p *shellProcess) Terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	// The child is its own group leader, so its pid is the pgid.
	if err := unix.Kill(-p.PID(), unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal process group %d: %w", p.PID(), err)
	}
	if p.killAfter > 0 {
		go p.escalate()
	}
	return nil
}

func (p *shellProcess) escalate() {
	timer := time.NewTimer(p.killAfter)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		_ = unix.Kill(-p.PID(), unix.SIGKILL)
	}
}

// exitCode extracts a process exit status; -1 when killed by a signal or unknown.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return -1
}
