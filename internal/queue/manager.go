package queue

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"qrun/internal/job"
	"qrun/internal/logging"
)

// Options are the per-submission policy values.
type Options struct {
	// Max caps identical pending commands in one queue; zero disables the cap.
	Max int
	// TTL is the job's staleness window in seconds; zero never expires.
	TTL int
}

// SubmitResult reports what Submit did with a job.
type SubmitResult int

const (
	// SubmitCreated means the job started a new queue.
	SubmitCreated SubmitResult = iota
	// SubmitQueued means the job was appended to an existing queue.
	SubmitQueued
	// SubmitDropped means the duplicate limit rejected the job.
	SubmitDropped
	// SubmitRejected means the manager was already stopped.
	SubmitRejected
)

func (r SubmitResult) String() string {
	switch r {
	case SubmitCreated:
		return "created"
	case SubmitQueued:
		return "queued"
	case SubmitDropped:
		return "dropped"
	case SubmitRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithObserver registers an observer for lifecycle events.
func WithObserver(obs Observer) Option {
	return func(m *Manager) {
		if obs != nil {
			m.observers = append(m.observers, obs)
		}
	}
}

// WithClock overrides the time source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager owns the queue registry. A single mutex guards the registry and the
// pending and executing state of every queue, so creation and append from the
// dispatcher and pop and deregistration from a worker never interleave.
type Manager struct {
	mu        sync.Mutex
	queues    map[Name]*namedQueue
	stopped   bool
	runner    Runner
	logger    *slog.Logger
	observers []Observer
	now       func() time.Time
	workers   sync.WaitGroup
}

type namedQueue struct {
	name      Name
	pending   []job.Job
	executing *execution
	stop      bool
	logger    *slog.Logger
}

type execution struct {
	job        job.Job
	proc       Process
	started    time.Time
	terminated bool
}

// NewManager constructs a Manager that spawns jobs with runner.
func NewManager(runner Runner, opts ...Option) *Manager {
	m := &Manager{
		queues: make(map[Name]*namedQueue),
		runner: runner,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "queue")
	return m
}

// Submit enqueues command on the named queue, creating the queue and starting
// its worker when it is not registered. Duplicate-limit rejections are logged
// only; submission has no reply channel.
func (m *Manager) Submit(name Name, command string, opts Options) SubmitResult {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		m.logger.Info("submission ignored after stop",
			logging.String(logging.FieldQueue, name.String()),
			logging.String("command", command),
			logging.String(logging.FieldEventType, "job_rejected"),
		)
		return SubmitRejected
	}

	j := job.New(command, opts.TTL, m.now())
	q, ok := m.queues[name]
	if !ok {
		q = &namedQueue{
			name:    name,
			pending: []job.Job{j},
			logger:  m.logger.With(logging.String(logging.FieldQueue, name.String())),
		}
		m.queues[name] = q
		m.workers.Add(1)
		go m.work(q)
		created := m.eventLocked(EventQueueCreated, name)
		submitted := m.eventLocked(EventSubmitted, name)
		submitted.Job = j
		m.mu.Unlock()

		q.logger.Info("queue created",
			logging.String(logging.FieldJobID, j.ShortID()),
			logging.String("command", command),
			logging.Int("ttl", j.TTL),
			logging.String(logging.FieldEventType, "queue_created"),
		)
		m.emit(created, submitted)
		return SubmitCreated
	}

	if opts.Max > 0 {
		duplicates := 0
		for _, pending := range q.pending {
			if pending.Command == command {
				duplicates++
			}
		}
		if duplicates >= opts.Max {
			dropped := m.eventLocked(EventDropped, name)
			dropped.Job = j
			dropped.Count = duplicates
			m.mu.Unlock()
			logging.WarnWithContext(q.logger, "duplicate job dropped", "job_dropped",
				logging.String("command", command),
				logging.Int("pending_duplicates", duplicates),
				logging.Int("max", opts.Max),
				logging.String(logging.FieldErrorHint, "raise --max or wait for pending copies to run"),
				logging.String(logging.FieldImpact, "submission discarded"),
			)
			m.emit(dropped)
			return SubmitDropped
		}
	}

	q.pending = append(q.pending, j)
	submitted := m.eventLocked(EventSubmitted, name)
	submitted.Job = j
	position := len(q.pending)
	m.mu.Unlock()

	q.logger.Debug("job queued",
		logging.String(logging.FieldJobID, j.ShortID()),
		logging.String("command", command),
		logging.Int("position", position),
		logging.Int("ttl", j.TTL),
		logging.String(logging.FieldEventType, "job_queued"),
	)
	m.emit(submitted)
	return SubmitQueued
}

// Skip terminates the executing job of the named queue. It returns false when
// the queue is idle.
func (m *Manager) Skip(name Name) (job.Job, bool, error) {
	if name.IsDefault() {
		return job.Job{}, false, ErrQueueRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[name]
	if !ok {
		return job.Job{}, false, ErrUnknownQueue
	}
	exec := q.executing
	if exec == nil {
		return job.Job{}, false, nil
	}
	exec.terminated = true
	if err := exec.proc.Terminate(); err != nil {
		q.logger.Warn("skip signal failed",
			logging.String(logging.FieldJobID, exec.job.ShortID()),
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_skip_failed"),
			logging.String(logging.FieldErrorHint, "the process group may already have exited"),
			logging.String(logging.FieldImpact, "job may keep running"),
		)
	}
	q.logger.Info("job skipped",
		logging.String(logging.FieldJobID, exec.job.ShortID()),
		logging.Int("pid", exec.proc.PID()),
		logging.String(logging.FieldEventType, "job_skipped"),
	)
	return exec.job, true, nil
}

// Clear discards every pending job of the named queue without touching the
// executing one. It returns the number of jobs removed.
func (m *Manager) Clear(name Name) (int, error) {
	if name.IsDefault() {
		return 0, ErrQueueRequired
	}
	m.mu.Lock()
	q, ok := m.queues[name]
	if !ok {
		m.mu.Unlock()
		return 0, ErrUnknownQueue
	}
	removed := len(q.pending)
	q.pending = nil
	ev := m.eventLocked(EventCleared, name)
	ev.Count = removed
	m.mu.Unlock()

	q.logger.Info("queue cleared",
		logging.Int("removed", removed),
		logging.String(logging.FieldEventType, "queue_cleared"),
	)
	m.emit(ev)
	return removed, nil
}

// Stop signals every executing job, marks every worker to exit after its
// current wait, and empties the registry. It does not wait for workers; use
// Wait for that. It returns the number of jobs signalled.
func (m *Manager) Stop() int {
	m.mu.Lock()
	m.stopped = true
	// Copy before mutating so every queue is reached.
	queues := make([]*namedQueue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	signalled := 0
	for _, q := range queues {
		q.stop = true
		q.pending = nil
		delete(m.queues, q.name)
		if q.executing == nil {
			continue
		}
		q.executing.terminated = true
		if err := q.executing.proc.Terminate(); err != nil {
			q.logger.Warn("stop signal failed",
				logging.String(logging.FieldJobID, q.executing.job.ShortID()),
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_stop_failed"),
				logging.String(logging.FieldErrorHint, "the process group may already have exited"),
				logging.String(logging.FieldImpact, "job may keep running after shutdown"),
			)
			continue
		}
		signalled++
	}
	ev := m.eventLocked(EventStopped, Default)
	ev.Count = signalled
	m.mu.Unlock()

	m.logger.Info("all queues stopped",
		logging.Int("queues", len(queues)),
		logging.Int("signalled", signalled),
		logging.String(logging.FieldEventType, "manager_stopped"),
	)
	m.emit(ev)
	return signalled
}

// Len returns the number of registered queues.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues)
}

// Stopped reports whether Stop has been called.
func (m *Manager) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Wait blocks until every worker has exited or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entry is one job in a status snapshot.
type Entry struct {
	Job     job.Job
	PID     int
	Started time.Time
}

// QueueStatus is the state of one queue at snapshot time. Pending holds only
// jobs that were still valid when the snapshot was taken.
type QueueStatus struct {
	Name      Name
	Executing *Entry
	Pending   []Entry
}

// Idle reports the transient state of a queue about to deregister.
func (s QueueStatus) Idle() bool {
	return s.Executing == nil && len(s.Pending) == 0
}

// Snapshot is a point-in-time copy of the registry, ordered by queue name
// with the unnamed queue first.
type Snapshot struct {
	Taken  time.Time
	Queues []QueueStatus
}

// Status captures the registry.
func (m *Manager) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	snap := Snapshot{Taken: now, Queues: make([]QueueStatus, 0, len(m.queues))}
	for name, q := range m.queues {
		status := QueueStatus{Name: name}
		if q.executing != nil {
			status.Executing = &Entry{
				Job:     q.executing.job,
				PID:     q.executing.proc.PID(),
				Started: q.executing.started,
			}
		}
		for _, j := range q.pending {
			if j.Valid(now) {
				status.Pending = append(status.Pending, Entry{Job: j})
			}
		}
		snap.Queues = append(snap.Queues, status)
	}
	sort.Slice(snap.Queues, func(i, k int) bool {
		return snap.Queues[i].Name.Less(snap.Queues[k].Name)
	})
	return snap
}

func (m *Manager) eventLocked(kind EventKind, name Name) Event {
	pending := 0
	for _, q := range m.queues {
		pending += len(q.pending)
	}
	return Event{Kind: kind, Queue: name, Queues: len(m.queues), Pending: pending}
}

func (m *Manager) emit(events ...Event) {
	for _, ev := range events {
		for _, obs := range m.observers {
			obs.Observe(ev)
		}
	}
}
