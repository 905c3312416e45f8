package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"qrun/internal/config"
	"qrun/internal/deps"
	"qrun/internal/dispatch"
	"qrun/internal/history"
	"qrun/internal/logging"
	"qrun/internal/metrics"
	"qrun/internal/protocol"
	"qrun/internal/queue"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// Foreground echoes logs to the terminal at debug level.
	Foreground bool
	Quiet      bool
	// Runner overrides the shell runner (primarily for tests).
	Runner queue.Runner
}

const workerGrace = 5 * time.Second

// Run serves on listener until the daemon stops, with first as its first job.
func Run(cmdCtx context.Context, cfg *config.Config, listener *net.UnixListener, first protocol.Request, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if listener == nil {
		return fmt.Errorf("listener is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logPath := filepath.Join(cfg.Paths.StateDir, logging.RunLogName(time.Now()))
	sessionID := uuid.NewString()

	logger, err := logging.NewFromConfig(cfg, logPath, opts.Foreground, opts.Quiet)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldSessionID, sessionID))
	if !opts.Quiet {
		if err := ensureCurrentLogPointer(cfg.LogPath(), logPath); err != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to update qrun.log link: %v\n", err)
		}
	}
	logging.PruneRunLogs(logger, cfg.Paths.StateDir, cfg.Logging.RetentionDays, logPath)

	if opts.Runner == nil {
		for _, missing := range deps.Missing(deps.CheckBinaries(deps.JobRequirements(cfg.Jobs.Shell))) {
			logging.WarnWithContext(logger, "job dependency unavailable", "dependency_missing",
				logging.String("dependency", missing.Name),
				logging.String("command", missing.Command),
				logging.String("detail", missing.Detail),
				logging.String(logging.FieldErrorHint, "set jobs.shell to an installed shell"),
				logging.String(logging.FieldImpact, "jobs fail to spawn"),
			)
		}
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer removePIDFile(pidPath)

	collector := metrics.NewCollector()
	managerOpts := []queue.Option{
		queue.WithLogger(logger),
		queue.WithObserver(collector),
	}

	var store *history.Store
	if cfg.History.Enabled {
		store, err = openHistory(cfg, logger)
		if err != nil {
			logging.WarnWithContext(logger, "history unavailable", "history_open_failed",
				logging.String("path", cfg.History.Path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check history.path or delete the database"),
				logging.String(logging.FieldImpact, "finished jobs are not recorded this run"),
			)
		} else {
			defer store.Close()
			managerOpts = append(managerOpts, queue.WithObserver(history.NewRecorder(store, logger)))
		}
	}

	var coord *dispatch.Coordinator
	managerOpts = append(managerOpts, queue.WithObserver(queue.ObserverFunc(func(ev queue.Event) {
		coord.Observe(ev)
	})))

	runner := opts.Runner
	if runner == nil {
		runner = &queue.ShellRunner{
			Shell:     cfg.Jobs.Shell,
			KillAfter: cfg.KillAfter(),
			Stdout:    os.Stdout,
			Stderr:    os.Stderr,
		}
	}
	manager := queue.NewManager(runner, managerOpts...)
	coord = dispatch.NewCoordinator(cfg.Paths.Socket, manager, logger)

	serverOpts := []dispatch.ServerOption{
		dispatch.WithServerLogger(logger),
		dispatch.WithReceiveTimeout(cfg.ReceiveTimeout()),
		dispatch.WithDefaults(dispatch.Defaults{Max: cfg.Jobs.DefaultMax, TTL: cfg.Jobs.DefaultTTL}),
	}
	if store != nil {
		serverOpts = append(serverOpts, dispatch.WithHistory(store, cfg.History.Limit))
	}
	server, err := dispatch.NewServer(cfg.Paths.Socket, listener, manager, coord, serverOpts...)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	closeServer := func() {
		if err := server.Close(); err != nil {
			logging.WarnWithContext(logger, "failed to remove socket", "socket_cleanup_failed",
				logging.String("socket", cfg.Paths.Socket),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove the socket file manually"),
				logging.String(logging.FieldImpact, "next start replaces it as stale"),
			)
		}
	}
	defer closeServer()

	metricsCtx, stopMetrics := context.WithCancel(cmdCtx)
	defer stopMetrics()
	if err := metrics.Serve(metricsCtx, cfg.Metrics.Bind, collector, logger); err != nil {
		logging.WarnWithContext(logger, "metrics endpoint unavailable", "metrics_listen_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check metrics.bind"),
			logging.String(logging.FieldImpact, "metrics not exported this run"),
		)
	}

	logger.Info("qrun daemon started",
		logging.Int("pid", os.Getpid()),
		logging.String("socket", cfg.Paths.Socket),
		logging.String("log_path", logPath),
		logging.Bool("history", store != nil),
		logging.String("metrics_bind", cfg.Metrics.Bind),
		logging.String(logging.FieldEventType, "daemon_started"),
	)

	server.Submit(first)

	serveDone := make(chan struct{})
	go func() {
		select {
		case <-signalCtx.Done():
			if cmdCtx.Err() != nil {
				return
			}
			logger.Info("termination signal received",
				logging.String(logging.FieldEventType, "daemon_signal"),
			)
			manager.Stop()
			coord.RequestStop()
		case <-serveDone:
		}
	}()

	serveErr := server.Serve(cmdCtx)
	close(serveDone)

	// Nothing reads the socket from here on. Release it before waiting on
	// jobs so new invocations bind a fresh daemon instead of queueing into
	// a dead backlog.
	closeServer()
	manager.Stop()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.KillAfter()+workerGrace)
	defer waitCancel()
	if err := manager.Wait(waitCtx); err != nil {
		logging.WarnWithContext(logger, "jobs still running at exit", "daemon_shutdown_timeout",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "set jobs.kill_after to force-kill stubborn jobs"),
			logging.String(logging.FieldImpact, "job processes may outlive the daemon"),
		)
	}

	logger.Info("qrun daemon stopped",
		logging.Bool("explicit_stop", coord.Explicit()),
		logging.String(logging.FieldEventType, "daemon_stopped"),
	)
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

func openHistory(cfg *config.Config, logger *slog.Logger) (*history.Store, error) {
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return nil, err
	}
	if cfg.Logging.RetentionDays > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cutoff := time.Now().AddDate(0, 0, -cfg.Logging.RetentionDays)
		if removed, err := store.Prune(ctx, cutoff); err != nil {
			logger.Debug("history prune failed", logging.Error(err))
		} else if removed > 0 {
			logger.Info("history pruned",
				logging.Int64("removed", removed),
				logging.String(logging.FieldEventType, "history_pruned"),
			)
		}
	}
	return store, nil
}

func ensureCurrentLogPointer(current, target string) error {
	if current == "" || target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// removePIDFile deletes path only while it still names this process; a
// successor may have replaced it while jobs were exiting.
func removePIDFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil || strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		return
	}
	_ = os.Remove(path)
}
