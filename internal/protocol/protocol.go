// Package protocol defines the messages exchanged over the qrun socket and
// their framing: a 4-byte big-endian payload length followed by a
// MessagePack-encoded body.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameSize bounds a single encoded message.
const MaxFrameSize = 1 << 20

// WakeupCommand is the command text carried by the loopback wake-up.
const WakeupCommand = "TERM"

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Options carries per-submission policy.
type Options struct {
	Max int `msgpack:"max"`
	TTL int `msgpack:"ttl"`
}

// Request is sent from client to server. A nil Queue means no queue name was
// given.
type Request struct {
	Queue   *string  `msgpack:"queue"`
	Command string   `msgpack:"command"`
	Options *Options `msgpack:"options,omitempty"`
	// Wakeup marks the daemon's own loopback request; external clients never
	// set it.
	Wakeup bool `msgpack:"wakeup,omitempty"`
}

// IsWakeup reports whether r is the loopback sentinel.
func (r Request) IsWakeup() bool {
	return r.Wakeup && r.Command == WakeupCommand
}

// Response is returned for control commands only.
type Response struct {
	Text string `msgpack:"text"`
}

// NewWakeup builds the loopback sentinel request.
func NewWakeup() Request {
	return Request{Command: WakeupCommand, Wakeup: true}
}

// WriteRequest frames and writes req.
func WriteRequest(w io.Writer, req Request) error {
	return writeFrame(w, req)
}

// ReadRequest reads one framed request.
func ReadRequest(r io.Reader) (Request, error) {
	var req Request
	if err := readFrame(r, &req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// WriteResponse frames and writes resp.
func WriteResponse(w io.Writer, resp Response) error {
	return writeFrame(w, resp)
}

// ReadResponse reads one framed response.
func ReadResponse(r io.Reader) (Response, error) {
	var resp Response
	if err := readFrame(r, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

func writeFrame(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func readFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("read frame header: %w", err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
