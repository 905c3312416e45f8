package daemonctl

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"qrun/internal/protocol"
)

// ListenerFD is the descriptor number the detached daemon finds its socket
// on: the first entry of ExtraFiles.
const ListenerFD = 3

// ServeCommand is the hidden subcommand a detached daemon runs.
const ServeCommand = "__serve"

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
	// OutputPath receives the daemon's stdout and stderr, and with them the
	// output of every job it runs.
	OutputPath string
	Quiet      bool
}

// Launch starts a detached daemon that serves on listener and runs first as
// its first job. The listener is handed to the child; this process closes
// its copy without removing the socket file.
func Launch(executablePath string, listener *net.UnixListener, first protocol.Request, opts LaunchOptions) (int, error) {
	if strings.TrimSpace(executablePath) == "" {
		return 0, fmt.Errorf("resolve executable: executable path is empty")
	}
	if listener == nil {
		return 0, errors.New("launch daemon: listener required")
	}

	file, err := listener.File()
	if err != nil {
		return 0, fmt.Errorf("duplicate listener: %w", err)
	}
	defer file.Close()

	var output *os.File
	if opts.OutputPath != "" {
		output, err = os.OpenFile(opts.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, fmt.Errorf("open daemon output: %w", err)
		}
		defer output.Close()
	}

	proc := exec.Command(executablePath, ServeArgs(first, opts)...)
	proc.ExtraFiles = []*os.File{file}
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if output != nil {
		proc.Stdout = output
		proc.Stderr = output
	}
	if err := proc.Start(); err != nil {
		return 0, fmt.Errorf("launch daemon: %w", err)
	}
	pid := proc.Process.Pid
	if err := proc.Process.Release(); err != nil {
		return pid, fmt.Errorf("release daemon: %w", err)
	}

	listener.SetUnlinkOnClose(false)
	_ = listener.Close()
	return pid, nil
}

// ServeArgs encodes the first job as arguments to the hidden serve command.
func ServeArgs(first protocol.Request, opts LaunchOptions) []string {
	args := []string{ServeCommand, "--listen-fd", strconv.Itoa(ListenerFD)}
	if socket := strings.TrimSpace(opts.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if opts.Quiet {
		args = append(args, "--quiet")
	}
	if first.Queue != nil {
		args = append(args, "--queue", *first.Queue)
	}
	if first.Options != nil {
		args = append(args,
			"--max", strconv.Itoa(first.Options.Max),
			"--ttl", strconv.Itoa(first.Options.TTL),
		)
	}
	return append(args, "--", first.Command)
}

// ListenerFromFD rebuilds the inherited socket listener.
func ListenerFromFD(fd int) (*net.UnixListener, error) {
	file := os.NewFile(uintptr(fd), "qrun-listener")
	if file == nil {
		return nil, fmt.Errorf("listener fd %d is not open", fd)
	}
	defer file.Close()

	listener, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("listener from fd %d: %w", fd, err)
	}
	unixListener, ok := listener.(*net.UnixListener)
	if !ok {
		_ = listener.Close()
		return nil, fmt.Errorf("listener fd %d is not a unix socket", fd)
	}
	return unixListener, nil
}
