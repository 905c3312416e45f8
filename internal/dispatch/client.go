package dispatch

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"qrun/internal/protocol"
)

// ErrNotRunning means no daemon is bound to the socket.
var ErrNotRunning = errors.New("qrun daemon is not running")

const (
	dialTimeout = 2 * time.Second
	callTimeout = 30 * time.Second
)

// Send delivers a submission without waiting for a reply.
func Send(path string, req protocol.Request) error {
	conn, err := dial(path)
	if err != nil {
		return err
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	if err := protocol.WriteRequest(conn, req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	return nil
}

// Call delivers a control command and waits for its single response.
func Call(path string, req protocol.Request) (protocol.Response, error) {
	conn, err := dial(path)
	if err != nil {
		return protocol.Response{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(callTimeout))
	if err := protocol.WriteRequest(conn, req); err != nil {
		if closedUnanswered(err) {
			return protocol.Response{}, fmt.Errorf("%w (%s)", ErrNotRunning, path)
		}
		return protocol.Response{}, fmt.Errorf("send request: %w", err)
	}
	resp, err := protocol.ReadResponse(conn)
	if err != nil {
		if closedUnanswered(err) {
			// The daemon released the socket with this call still queued.
			return protocol.Response{}, fmt.Errorf("%w (%s)", ErrNotRunning, path)
		}
		return protocol.Response{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

func closedUnanswered(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.EPIPE)
}

func dial(path string) (net.Conn, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, unix.ECONNREFUSED) {
			return nil, fmt.Errorf("%w (%s)", ErrNotRunning, path)
		}
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return conn, nil
}
