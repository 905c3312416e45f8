package dispatch

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"qrun/internal/logging"
	"qrun/internal/protocol"
	"qrun/internal/queue"
)

// Registry is the part of the queue manager the coordinator inspects.
type Registry interface {
	Len() int
}

// Coordinator holds the daemon stop flag and wakes the dispatcher out of its
// blocking Accept by sending the loopback wake-up request to its own socket.
type Coordinator struct {
	path     string
	registry Registry
	logger   *slog.Logger
	wake     func() error

	mu       sync.Mutex
	stopping bool
	explicit bool
}

// NewCoordinator returns a coordinator for the daemon listening on path.
func NewCoordinator(path string, registry Registry, logger *slog.Logger) *Coordinator {
	c := &Coordinator{
		path:     path,
		registry: registry,
		logger:   logging.NewComponentLogger(logger, "coordinator"),
	}
	c.wake = c.sendWakeup
	return c
}

// RequestStop sets the stop flag for an explicit shutdown and wakes the
// dispatcher.
func (c *Coordinator) RequestStop() {
	c.markStop(true)
	c.wakeup("stop")
}

// CheckIdle sets the stop flag and wakes the dispatcher when no queue is
// registered.
func (c *Coordinator) CheckIdle() {
	if c.registry.Len() != 0 {
		return
	}
	c.markStop(false)
	c.wakeup("idle")
}

// Observe implements queue.Observer, checking for global idleness whenever a
// queue drains.
func (c *Coordinator) Observe(ev queue.Event) {
	if ev.Kind == queue.EventQueueDrained {
		c.CheckIdle()
	}
}

// Stopping reports whether the stop flag is set.
func (c *Coordinator) Stopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

// Explicit reports whether an explicit stop was requested.
func (c *Coordinator) Explicit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.explicit
}

// markStop sets the flag without waking the dispatcher; the dispatcher uses
// it for a stop it handles itself.
func (c *Coordinator) markStop(explicit bool) {
	c.mu.Lock()
	c.stopping = true
	if explicit {
		c.explicit = true
	}
	c.mu.Unlock()
}

// settle decides whether the dispatcher exits after a wake-up. A drain that
// raced with a new submission leaves queues registered; the flag is then
// cleared and serving continues.
func (c *Coordinator) settle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.explicit {
		return true
	}
	if c.registry.Len() == 0 {
		c.stopping = true
		return true
	}
	if c.stopping {
		c.logger.Debug("wake-up ignored, queues registered again",
			logging.Int("queues", c.registry.Len()),
			logging.String(logging.FieldEventType, "wakeup_superseded"),
		)
	}
	c.stopping = false
	return false
}

func (c *Coordinator) wakeup(reason string) {
	if err := c.wake(); err != nil {
		c.logger.Debug("wake-up not delivered",
			logging.String("reason", reason),
			logging.Error(err),
			logging.String(logging.FieldEventType, "wakeup_failed"),
		)
		return
	}
	c.logger.Debug("wake-up sent",
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "wakeup_sent"),
	)
}

func (c *Coordinator) sendWakeup() error {
	conn, err := net.DialTimeout("unix", c.path, probeTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.path, err)
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(probeTimeout))
	return protocol.WriteRequest(conn, protocol.NewWakeup())
}
