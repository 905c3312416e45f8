package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"qrun/internal/history"
	"qrun/internal/logging"
	"qrun/internal/protocol"
	"qrun/internal/queue"
	"qrun/internal/report"
)

const backlogGrace = 20 * time.Millisecond

// HistorySource lists recent job runs.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]history.Run, error)
}

// Defaults applied to submissions that carry no options.
type Defaults struct {
	Max int
	TTL int
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHistory enables the history control command.
func WithHistory(source HistorySource, limit int) ServerOption {
	return func(s *Server) {
		s.history = source
		s.historyLimit = limit
	}
}

// WithReceiveTimeout bounds how long one connection may take to deliver its
// request.
func WithReceiveTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.receiveTimeout = d
		}
	}
}

// WithDefaults sets the options applied to submissions without options.
func WithDefaults(d Defaults) ServerOption {
	return func(s *Server) {
		s.defaults = d
	}
}

// WithServerLogger sets the dispatcher logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server is the dispatcher loop bound to the rendezvous socket.
type Server struct {
	path           string
	listener       *net.UnixListener
	manager        *queue.Manager
	coord          *Coordinator
	history        HistorySource
	historyLimit   int
	receiveTimeout time.Duration
	defaults       Defaults
	logger         *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewServer wraps an acquired listener.
func NewServer(path string, listener *net.UnixListener, manager *queue.Manager, coord *Coordinator, opts ...ServerOption) (*Server, error) {
	if listener == nil {
		return nil, errors.New("dispatch server requires a listener")
	}
	if manager == nil || coord == nil {
		return nil, errors.New("dispatch server requires a queue manager and coordinator")
	}
	s := &Server{
		path:           path,
		listener:       listener,
		manager:        manager,
		coord:          coord,
		receiveTimeout: 5 * time.Second,
		defaults:       Defaults{Max: 2},
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "dispatch")
	// Close removes the file under the endpoint lock instead.
	listener.SetUnlinkOnClose(false)
	return s, nil
}

// Submit forwards a submission to the manager, applying the defaults for
// missing options. The daemon uses it for its own first job.
func (s *Server) Submit(req protocol.Request) queue.SubmitResult {
	opts := queue.Options{Max: s.defaults.Max, TTL: s.defaults.TTL}
	if req.Options != nil {
		opts = queue.Options{Max: req.Options.Max, TTL: req.Options.TTL}
	}
	return s.manager.Submit(queue.FromOptional(req.Queue), req.Command, opts)
}

// Serve runs the accept loop until an explicit stop, the last queue drains,
// or ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	stopWatch := context.AfterFunc(ctx, func() { _ = s.listener.Close() })
	defer stopWatch()

	s.logger.Info("dispatcher listening",
		logging.String("socket", s.path),
		logging.String(logging.FieldEventType, "dispatcher_listening"),
	)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("dispatcher closed",
					logging.String(logging.FieldEventType, "dispatcher_closed"),
				)
				return nil
			}
			logging.WarnWithContext(s.logger, "accept failed", "dispatch_accept_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check socket permissions"),
				logging.String(logging.FieldImpact, "a client request was not received"),
			)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if s.handle(ctx, conn) {
			if !s.coord.Explicit() && s.acceptQueued(ctx) {
				continue
			}
			s.logger.Info("dispatcher exiting",
				logging.Bool("explicit_stop", s.coord.Explicit()),
				logging.String(logging.FieldEventType, "dispatcher_exit"),
			)
			return nil
		}
		if s.coord.Explicit() {
			return nil
		}
	}
}

// acceptQueued handles connections that were already waiting in the backlog
// when the idle wake-up arrived. It reports whether one of them registered a
// queue again, in which case serving continues.
func (s *Server) acceptQueued(ctx context.Context) bool {
	_ = s.listener.SetDeadline(time.Now().Add(backlogGrace))
	defer func() { _ = s.listener.SetDeadline(time.Time{}) }()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			break
		}
		s.handle(ctx, conn)
		if s.coord.Explicit() {
			return false
		}
	}
	if s.manager.Len() == 0 {
		return false
	}
	return !s.coord.settle()
}

// Close releases the socket.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = release(s.path, s.listener)
	})
	return s.closeErr
}

// handle processes one connection and reports whether the loop must exit.
func (s *Server) handle(ctx context.Context, conn net.Conn) bool {
	defer conn.Close()
	logger := logging.WithContext(logging.WithRequestID(ctx, uuid.NewString()[:8]), s.logger)

	_ = conn.SetReadDeadline(time.Now().Add(s.receiveTimeout))
	req, err := protocol.ReadRequest(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Liveness probes connect and hang up without a request.
			logger.Debug("connection closed without request")
			return false
		}
		logging.WarnWithContext(logger, "request dropped", "request_decode_failed",
			logging.Error(err),
			logging.Bool("oversize", errors.Is(err, protocol.ErrFrameTooLarge)),
			logging.String(logging.FieldErrorHint, "client and daemon versions may differ"),
			logging.String(logging.FieldImpact, "request ignored; connection closed"),
		)
		return false
	}

	if req.IsWakeup() {
		exit := s.coord.settle()
		logger.Debug("wake-up received",
			logging.Bool("exit", exit),
			logging.String(logging.FieldEventType, "wakeup_received"),
		)
		return exit
	}

	control := ParseControl(req.Command)
	if control == ControlNone {
		result := s.Submit(req)
		logger.Debug("submission handled",
			logging.String(logging.FieldQueue, queue.FromOptional(req.Queue).String()),
			logging.String("result", result.String()),
		)
		return false
	}

	logger.Debug("control command",
		logging.String("command", control.String()),
		logging.String(logging.FieldQueue, queue.FromOptional(req.Queue).String()),
	)
	text := s.control(ctx, control, req)
	_ = conn.SetWriteDeadline(time.Now().Add(s.receiveTimeout))
	if err := protocol.WriteResponse(conn, protocol.Response{Text: text}); err != nil {
		logging.WarnWithContext(logger, "response not delivered", "response_write_failed",
			logging.String("command", control.String()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "client may have exited before reading"),
			logging.String(logging.FieldImpact, "client did not see the result"),
		)
	}
	return false
}

func (s *Server) control(ctx context.Context, control Control, req protocol.Request) string {
	switch control {
	case ControlStatus:
		return report.Status(s.manager.Status())
	case ControlStop:
		signalled := s.manager.Stop()
		s.coord.markStop(true)
		return report.Stopped(signalled)
	case ControlSkip:
		if req.Queue == nil {
			return report.Error(control.String(), queue.ErrQueueRequired)
		}
		name := queue.Named(*req.Queue)
		j, ok, err := s.manager.Skip(name)
		if err != nil {
			return report.Error(control.String(), fmt.Errorf("%w: %s", err, name))
		}
		return report.Skipped(name, j.Command, ok)
	case ControlClear:
		if req.Queue == nil {
			return report.Error(control.String(), queue.ErrQueueRequired)
		}
		name := queue.Named(*req.Queue)
		removed, err := s.manager.Clear(name)
		if err != nil {
			return report.Error(control.String(), fmt.Errorf("%w: %s", err, name))
		}
		return report.Cleared(name, removed)
	case ControlHistory:
		if s.history == nil {
			return report.HistoryDisabled
		}
		runs, err := s.history.Recent(ctx, s.historyLimit)
		if err != nil {
			return report.Error(control.String(), err)
		}
		return report.History(runs)
	default:
		return ""
	}
}
