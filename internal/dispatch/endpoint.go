package dispatch

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// ErrInUse means a live daemon already owns the socket.
var ErrInUse = errors.New("socket in use by a running daemon")

const probeTimeout = time.Second

// Acquire binds the rendezvous socket at path. It returns ErrInUse when a
// live daemon answers on it. Any other bind failure is returned as is.
func Acquire(path string) (*net.UnixListener, error) {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	defer func() { _ = lock.Unlock() }()

	listener, err := listen(path)
	if err == nil {
		return listener, nil
	}
	if !errors.Is(err, unix.EADDRINUSE) {
		return nil, fmt.Errorf("bind %s: %w", path, err)
	}
	if alive(path) {
		return nil, ErrInUse
	}
	if info, statErr := os.Lstat(path); statErr == nil && info.Mode()&os.ModeSocket == 0 {
		return nil, fmt.Errorf("bind %s: existing file is not a socket", path)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	listener, err = listen(path)
	if err != nil {
		if errors.Is(err, unix.EADDRINUSE) {
			return nil, ErrInUse
		}
		return nil, fmt.Errorf("bind %s: %w", path, err)
	}
	return listener, nil
}

// Running reports whether a daemon answers on path.
func Running(path string) bool {
	return alive(path)
}

// release closes listener and removes the socket file under the same lock
// Acquire uses, so a successor never loses its freshly bound socket.
func release(path string, listener *net.UnixListener) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	defer func() { _ = lock.Unlock() }()

	listener.SetUnlinkOnClose(false)
	closeErr := listener.Close()
	if closeErr != nil && errors.Is(closeErr, net.ErrClosed) {
		closeErr = nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove socket %s: %w", path, err)
	}
	return closeErr
}

func listen(path string) (*net.UnixListener, error) {
	return net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
}

func alive(path string) bool {
	conn, err := net.DialTimeout("unix", path, probeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
